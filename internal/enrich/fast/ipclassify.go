package fast

import (
	"net/netip"

	"github.com/gravwell/pixelforge/internal/ipclass"
	"github.com/gravwell/pixelforge/internal/record"
)

// runIPClassify is enrichment 5: decide whether the Geo Lookup enrichment
// should run at all. It does not append a `_srv_*` key itself — it gates
// enrichment 6 — matching spec.md §4.C's description of enrichment 5 as a
// decision, not an emission.
func (p *Pipeline) runIPClassify(rec *record.TrackingRecord, addr netip.Addr, addrErr error) ipclass.Result {
	if addrErr != nil {
		p.Stats.skip(5)
		return ipclass.Result{Class: ipclass.Invalid}
	}
	return ipclass.Classify(rec.IPAddress)
}
