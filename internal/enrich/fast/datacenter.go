package fast

import (
	"net/netip"

	"github.com/gravwell/pixelforge/internal/record"
)

// runDatacenter is enrichment 4: classify the client IP against the
// loaded provider CIDR feed.
func (p *Pipeline) runDatacenter(rec *record.TrackingRecord, addr netip.Addr, addrErr error) {
	if addrErr != nil || p.datacenter == nil {
		p.Stats.skip(4)
		return
	}
	provider, ok := p.datacenter.Contains(addr)
	if !ok {
		return
	}
	appendParam(rec, "_srv_dcName", provider)
}
