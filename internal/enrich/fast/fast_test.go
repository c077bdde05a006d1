package fast

import (
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gravwell/pixelforge/internal/dcset"
	"github.com/gravwell/pixelforge/internal/record"
)

func newTestPipeline() *Pipeline {
	return NewPipeline(Config{
		Datacenter: dcset.New(),
	})
}

func TestSubnetAlertOnThirdDistinctIP(t *testing.T) {
	p := newTestPipeline()
	ips := []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"}
	var lastRec record.TrackingRecord
	for _, ip := range ips {
		rec := record.TrackingRecord{IPAddress: ip, CompanyID: "1", PixelID: "2"}
		p.runSubnetVelocity(&rec, mustAddr(ip), nil)
		lastRec = rec
	}
	if !strings.Contains(lastRec.QueryString, "_srv_subnetAlert=1") {
		t.Fatalf("expected subnet alert on third distinct IP, got %q", lastRec.QueryString)
	}
}

func TestRapidFireFlagsFastRepeat(t *testing.T) {
	p := newTestPipeline()
	fp := Fingerprint{CanvasHash: "abc", WebGLHash: "def"}
	first := record.TrackingRecord{IPAddress: "1.2.3.4"}
	p.runRapidFire(&first, fp)

	second := record.TrackingRecord{IPAddress: "1.2.3.4"}
	p.runRapidFire(&second, fp)
	if !strings.Contains(second.QueryString, "_srv_rapidFire=1") {
		t.Fatalf("expected rapid-fire flag on immediate repeat, got %q", second.QueryString)
	}
}

func TestSubSecDupeKeyedOnFingerprint(t *testing.T) {
	// Behavioral replay itself lives in enrich/forge; this test only
	// confirms the fast pipeline's sub-second duplicate detector is
	// keyed on the full quadruple including fingerprint.
	p := newTestPipeline()
	fpA := Fingerprint{CanvasHash: "a"}
	fpB := Fingerprint{CanvasHash: "b"}
	rec1 := record.TrackingRecord{CompanyID: "1", PixelID: "2", IPAddress: "1.2.3.4"}
	p.runSubSecDupe(&rec1, fpA)
	rec2 := record.TrackingRecord{CompanyID: "1", PixelID: "2", IPAddress: "1.2.3.4"}
	p.runSubSecDupe(&rec2, fpB)
	if strings.Contains(rec2.QueryString, "_srv_subSecDupe") {
		t.Fatalf("differing fingerprint should not count as a sub-second duplicate, got %q", rec2.QueryString)
	}
}

func TestIPClassifyGatesGeoLookup(t *testing.T) {
	p := newTestPipeline()
	rec := record.TrackingRecord{IPAddress: "127.0.0.1"}
	cls := p.runIPClassify(&rec, mustAddr("127.0.0.1"), nil)
	if cls.ShouldGeolocate {
		t.Fatalf("loopback should not be geolocated")
	}
	p.runGeoLookup(&rec, Fingerprint{}, cls)
	if strings.Contains(rec.QueryString, "_srv_geoCC") {
		t.Fatalf("loopback hit should carry no geo enrichment, got %q", rec.QueryString)
	}
}

func TestPipelineRunNeverPanicsOnEmptyRecord(t *testing.T) {
	p := newTestPipeline()
	rec := record.TrackingRecord{IPAddress: "not-an-ip"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	p.Run(ctx, &rec, Fingerprint{})
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
