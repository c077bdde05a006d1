package ipclass

import "testing"

func TestClassifyTotality(t *testing.T) {
	cases := []string{
		"not-an-ip", "0.0.0.0", "::", "127.0.0.1", "::1",
		"169.254.1.1", "fe80::1", "10.0.0.1", "172.16.0.1", "192.168.1.1",
		"fc00::1", "100.64.0.1", "192.0.2.1", "2001:db8::1", "198.18.0.1",
		"224.0.0.1", "ff00::1", "255.255.255.255", "240.0.0.1", "8.8.8.8",
	}
	for _, c := range cases {
		r := Classify(c)
		if r.Class == Invalid && !isInvalidInput(c) {
			t.Errorf("unexpected Invalid for %q", c)
		}
	}
}

func isInvalidInput(s string) bool { return s == "not-an-ip" }

func TestClassifyInvalidNeverPanics(t *testing.T) {
	for _, c := range []string{"", "999.999.999.999", "garbage", "1.2.3"} {
		if r := Classify(c); r.Class != Invalid {
			t.Errorf("expected Invalid for %q, got %v", c, r.Class)
		}
	}
}

func TestClassifyScenario5(t *testing.T) {
	r := Classify("100.64.0.1")
	if r.Class != CGNAT || !r.ShouldGeolocate {
		t.Fatalf("expected CGNAT+geolocate, got %+v", r)
	}
	r = Classify("::ffff:192.168.1.1")
	if r.Class != Private || r.ShouldGeolocate {
		t.Fatalf("expected Private, no geolocate, got %+v", r)
	}
}

func TestClassifyLoopback(t *testing.T) {
	r := Classify("127.0.0.1")
	if r.Class != Loopback || r.ShouldGeolocate {
		t.Fatalf("expected Loopback, no geolocate, got %+v", r)
	}
}

func TestClassifyBroadcastBeforeReserved(t *testing.T) {
	r := Classify("255.255.255.255")
	if r.Class != Broadcast {
		t.Fatalf("expected Broadcast, got %v", r.Class)
	}
	r = Classify("240.1.2.3")
	if r.Class != Reserved {
		t.Fatalf("expected Reserved, got %v", r.Class)
	}
}
