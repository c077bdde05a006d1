package etl

import (
	"testing"

	"github.com/gravwell/pixelforge/internal/enrich/forge"
)

func TestDeviceHashNullWhenAllComponentsAbsent(t *testing.T) {
	_, ok := DeviceHash("", "", "", "", "")
	if ok {
		t.Fatalf("expected no device hash when all five components are absent")
	}
}

func TestDeviceHashDeterministic(t *testing.T) {
	h1, ok1 := DeviceHash("canvasA", "Arial,Helvetica", "NVIDIA RTX 4090", "webglhash", "audiohash")
	h2, ok2 := DeviceHash("canvasA", "Arial,Helvetica", "NVIDIA RTX 4090", "webglhash", "audiohash")
	if !ok1 || !ok2 {
		t.Fatalf("expected both hashes to be computed")
	}
	if h1 != h2 {
		t.Fatalf("expected identical inputs to yield identical device hashes")
	}
}

func TestDeviceHashUniquenessAcrossJoinBoundaries(t *testing.T) {
	// "a|" + "bc" should not collide with "ab" + "|c" once the '|'
	// separator is included, guarding against a naive string-concat hash.
	h1, _ := DeviceHash("a", "bc", "", "", "")
	h2, _ := DeviceHash("ab", "c", "", "", "")
	if h1 == h2 {
		t.Fatalf("expected distinct component boundaries to produce distinct hashes")
	}
}

func TestDeviceHashSingleComponentStillComputes(t *testing.T) {
	_, ok := DeviceHash("onlycanvas", "", "", "", "")
	if !ok {
		t.Fatalf("expected a hash when at least one of the five components is present")
	}
}

func TestExtractParsedRowPullsClientParams(t *testing.T) {
	qs := "_cp_cv=abc123&_cp_gpu=NVIDIA&_srv_hitType=modern"
	row := ExtractParsedRow(42, qs)
	if row.CanvasHash != "abc123" {
		t.Fatalf("expected canvas hash abc123, got %q", row.CanvasHash)
	}
	if row.GPU != "NVIDIA" {
		t.Fatalf("expected GPU NVIDIA, got %q", row.GPU)
	}
	if row.RawID != 42 {
		t.Fatalf("expected RawID 42, got %d", row.RawID)
	}
}

func TestMatchEmailAbsent(t *testing.T) {
	if got := matchEmail("_cp_cv=abc"); got != "" {
		t.Fatalf("expected empty match email when none present, got %q", got)
	}
}

func TestHitTypeReadsServerTag(t *testing.T) {
	if got := hitType("_cp_cv=abc&_srv_hitType=modern"); got != "modern" {
		t.Fatalf("expected the _srv_hitType tag to win, got %q", got)
	}
	if got := hitType("_srv_hitType=legacy"); got != "legacy" {
		t.Fatalf("expected legacy from the tag, got %q", got)
	}
}

func TestHitTypeFallbackWithoutTag(t *testing.T) {
	if got := hitType(""); got != "legacy" {
		t.Fatalf("expected an untagged empty query string to be legacy, got %q", got)
	}
	if got := hitType("sw=1920"); got != "modern" {
		t.Fatalf("expected an untagged non-empty query string to be modern, got %q", got)
	}
}

func TestBotScoreAdditiveAndClamped(t *testing.T) {
	if got := botScore("", forge.Result{}); got != 0 {
		t.Fatalf("expected 0 for no signals, got %d", got)
	}
	qs := "_srv_knownBot=1&_srv_dcName=aws&_srv_rapidFire=1&_srv_subSecDupe=1&_srv_subnetAlert=1"
	got := botScore(qs, forge.Result{ReplayDetected: true, ContradictionCount: 2})
	if got != 100 {
		t.Fatalf("expected every signal on to clamp at 100, got %d", got)
	}
}

func TestFactsFromSubnet(t *testing.T) {
	f := factsFrom("203.0.113.77", "_srv_dcName=aws&_srv_geoCC=US")
	if f.subnet != "203.0.113.0/24" {
		t.Fatalf("expected /24 subnet, got %q", f.subnet)
	}
	if f.dcName != "aws" || f.geoCC != "US" {
		t.Fatalf("expected dcName/geoCC extracted, got %q/%q", f.dcName, f.geoCC)
	}
}

func TestIsNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"12800", true},
		{"0", true},
		{"-5", true},
		{"", false},
		{"DEMO", false},
		{"deploy-test", false},
		{"12800x", false},
	}
	for _, c := range cases {
		if got := isNumeric(c.in); got != c.want {
			t.Fatalf("isNumeric(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
