package identity

import (
	"context"
	"testing"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Roughly 1 degree of longitude at the equator is ~111.3km.
	d := HaversineMeters(0, 0, 0, 1)
	if d < 110000 || d > 112000 {
		t.Fatalf("expected ~111.3km, got %.0fm", d)
	}
}

func TestWithinProximityBoundary(t *testing.T) {
	if !WithinProximity(40.0, -73.0, 40.0, -73.0) {
		t.Fatalf("identical points must be within proximity")
	}
	if WithinProximity(40.0, -73.0, 41.0, -73.0) {
		t.Fatalf("a full degree of latitude must not be within the 692m threshold")
	}
}

func TestBucketAndNeighbors(t *testing.T) {
	latB, lonB := Bucket(40.7128, -74.0060)
	neighbors := NeighborBuckets(latB, lonB)
	if len(neighbors) != 9 {
		t.Fatalf("expected 9 neighbor buckets (self + 8), got %d", len(neighbors))
	}
	found := false
	for _, n := range neighbors {
		if n[0] == latB && n[1] == lonB {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the bucket itself to be among its neighbors")
	}
}

type fakeGeo struct {
	key string
	ok  bool
}

func (f *fakeGeo) NearestWithinProximity(ctx context.Context, lat, lon float64) (string, bool, error) {
	return f.key, f.ok, nil
}

func TestResolvePrefersUIDOverEverything(t *testing.T) {
	r := &Resolver{geo: &fakeGeo{key: "geo-key", ok: true}}
	res, ok, err := r.Resolve(context.Background(), Candidate{UID: "uid-123", CookieUID: "cookie-1", HasGeo: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || res.Strategy != "uid" || res.MatchKey != "uid-123" {
		t.Fatalf("expected uid strategy to win, got %+v", res)
	}
}

func TestResolveFallsBackToGeoThenCookie(t *testing.T) {
	r := &Resolver{geo: &fakeGeo{ok: false}}
	res, ok, err := r.Resolve(context.Background(), Candidate{HasGeo: true, CookieUID: "cookie-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || res.Strategy != "cookie" {
		t.Fatalf("expected cookie fallback when geo proximity misses, got %+v", res)
	}
}

func TestResolveDirectIPOnlyWhenResidential(t *testing.T) {
	r := &Resolver{}
	res, ok, err := r.Resolve(context.Background(), Candidate{IPAddress: "8.8.8.8"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || res.Strategy != "direct-ip" {
		t.Fatalf("expected a direct-ip match for a public, non-datacenter IP, got %+v", res)
	}

	res, ok, err = r.Resolve(context.Background(), Candidate{IPAddress: "8.8.8.8", IsDatacenter: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatalf("expected no match for a datacenter-flagged IP, got %+v", res)
	}
}

func TestResolveNoStrategiesApply(t *testing.T) {
	r := &Resolver{}
	_, ok, err := r.Resolve(context.Background(), Candidate{IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatalf("expected no match for a private IP with no other signals")
	}
}
