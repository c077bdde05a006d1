package record

import (
	"strings"
	"testing"
	"time"
)

func TestTrackingRecordRoundTrip(t *testing.T) {
	in := TrackingRecord{
		ReceivedAt:  time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		CompanyID:   "12800",
		PixelID:     "100",
		IPAddress:   "203.0.113.5",
		RequestPath: "/12800/100_SMART.GIF",
		QueryString: "sw=1920&sh=1080",
		HeadersJson: `{"user-agent":"curl/8.0"}`,
		UserAgent:   "curl/8.0",
		Referer:     "",
	}
	b, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "\n") {
		t.Fatalf("wire record must not embed a newline: %q", b)
	}
	var out TrackingRecord
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.ReceivedAt.Equal(in.ReceivedAt) {
		t.Fatalf("ReceivedAt mismatch: got %v want %v", out.ReceivedAt, in.ReceivedAt)
	}
	if out.CompanyID != in.CompanyID || out.PixelID != in.PixelID {
		t.Fatalf("identity fields mismatch: %+v", out)
	}
}

func TestHitType(t *testing.T) {
	legacy := TrackingRecord{}
	if legacy.HitType() != HitTypeLegacy {
		t.Fatalf("empty query string should be legacy, got %s", legacy.HitType())
	}
	modern := TrackingRecord{QueryString: "sw=1920"}
	if modern.HitType() != HitTypeModern {
		t.Fatalf("non-empty query string should be modern, got %s", modern.HitType())
	}
}

func TestTruncateUserAgent(t *testing.T) {
	r := TrackingRecord{UserAgent: strings.Repeat("a", 5000)}
	r.TruncateUserAgent()
	if len(r.UserAgent) != MaxUserAgent {
		t.Fatalf("expected truncation to %d chars, got %d", MaxUserAgent, len(r.UserAgent))
	}
}

func TestGetQueryParam(t *testing.T) {
	qs := "sw=1920&cv=abc&ua=Mozilla%2F5.0"
	if v, ok := GetQueryParam(qs, "ua"); !ok || v != "Mozilla/5.0" {
		t.Fatalf("expected decoded ua, got %q ok=%v", v, ok)
	}
	if _, ok := GetQueryParam(qs, "missing"); ok {
		t.Fatalf("expected missing key to report false")
	}
}

func TestAppendParamAndFlag(t *testing.T) {
	qs := AppendParam("", "sw", "1920")
	qs = AppendFlag(qs, "_srv_rapidFire")
	if v, ok := GetQueryParam(qs, "_srv_rapidFire"); !ok || v != "1" {
		t.Fatalf("expected flag to round-trip as 1, got %q", v)
	}
}

func TestExtractClientParams(t *testing.T) {
	qs := "_cp_email=alice%40test.com&_cp_hid=12345&sw=1920"
	params := ExtractClientParams(qs)
	if params["email"] != "alice@test.com" || params["hid"] != "12345" {
		t.Fatalf("unexpected client params: %+v", params)
	}
	if _, ok := params["sw"]; ok {
		t.Fatalf("non _cp_ parameter leaked into client params: %+v", params)
	}
	email, ok := MatchEmail(qs)
	if !ok || email != "alice@test.com" {
		t.Fatalf("expected MatchEmail to extract alice@test.com, got %q ok=%v", email, ok)
	}
}
