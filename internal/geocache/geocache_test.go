package geocache

import (
	"context"
	"testing"
	"time"
)

type fakeSource struct {
	results map[string]GeoResult
	calls   int
}

func (f *fakeSource) LookupGeo(_ context.Context, ip string) (GeoResult, bool, error) {
	f.calls++
	r, ok := f.results[ip]
	return r, ok, nil
}

func TestGetNeverBlocksOnMiss(t *testing.T) {
	src := &fakeSource{results: map[string]GeoResult{
		"8.8.8.8": {CountryCode: "US", City: "Mountain View"},
	}}
	c := New(src, 10, time.Minute)
	defer c.Close()

	start := time.Now()
	_, ok := c.Get("8.8.8.8")
	if ok {
		t.Fatalf("expected a cold Get to miss immediately")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("Get blocked for %v, want near-instant return", elapsed)
	}
}

func TestGetPopulatesAfterBackgroundFill(t *testing.T) {
	src := &fakeSource{results: map[string]GeoResult{
		"8.8.8.8": {CountryCode: "US", City: "Mountain View"},
	}}
	c := New(src, 10, time.Minute)
	defer c.Close()

	c.Get("8.8.8.8")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := c.Get("8.8.8.8"); ok {
			if v.City != "Mountain View" {
				t.Fatalf("unexpected geo result: %+v", v)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("background fill never populated the cache")
}

func TestPreWarmAndClearHot(t *testing.T) {
	c := New(&fakeSource{results: map[string]GeoResult{}}, 10, time.Minute)
	defer c.Close()
	c.PreWarm(map[string]GeoResult{"1.1.1.1": {CountryCode: "AU"}})
	if v, ok := c.Get("1.1.1.1"); !ok || v.CountryCode != "AU" {
		t.Fatalf("expected pre-warmed entry, got %+v ok=%v", v, ok)
	}
	c.ClearHot()
	if _, ok := c.Get("1.1.1.1"); ok {
		t.Fatalf("expected ClearHot to drop the hot tier")
	}
}
