package dcset

import (
	"net/netip"
	"strings"
	"testing"
)

func TestLoadAndContains(t *testing.T) {
	s := New()
	feed := "# comment\n34.64.0.0/10,GCP\n52.0.0.0/8,AWS\n\n"
	if err := s.Load(strings.NewReader(feed)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	p, ok := s.Contains(netip.MustParseAddr("52.1.2.3"))
	if !ok || p != "AWS" {
		t.Fatalf("expected AWS match, got %q ok=%v", p, ok)
	}
	if _, ok := s.Contains(netip.MustParseAddr("8.8.8.8")); ok {
		t.Fatalf("expected no match for public non-datacenter IP")
	}
}

func TestLoadReplacesAtomically(t *testing.T) {
	s := New()
	s.Load(strings.NewReader("10.0.0.0/8,First\n"))
	if _, ok := s.Contains(netip.MustParseAddr("10.1.1.1")); !ok {
		t.Fatalf("expected initial load to match")
	}
	s.Load(strings.NewReader("192.168.0.0/16,Second\n"))
	if _, ok := s.Contains(netip.MustParseAddr("10.1.1.1")); ok {
		t.Fatalf("expected stale entry to be gone after reload")
	}
	if p, ok := s.Contains(netip.MustParseAddr("192.168.1.1")); !ok || p != "Second" {
		t.Fatalf("expected reloaded entry to match, got %q ok=%v", p, ok)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	s := New()
	if err := s.Load(strings.NewReader("not-a-cidr,X\n10.0.0.0/8,Good\n")); err != nil {
		t.Fatalf("load should skip malformed lines, not fail: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", s.Len())
	}
}
