package fast

import (
	"github.com/gravwell/pixelforge/internal/ipclass"
	"github.com/gravwell/pixelforge/internal/record"
)

// runGeoLookup is enrichment 6: consult the Geo Cache when enrichment 5
// decided the address is geolocatable, and flag a timezone mismatch
// between the browser-reported zone and the IP-derived one.
func (p *Pipeline) runGeoLookup(rec *record.TrackingRecord, fp Fingerprint, cls ipclass.Result) {
	if !cls.ShouldGeolocate || p.geo == nil {
		p.Stats.skip(6)
		return
	}
	res, ok := p.geo.Get(rec.IPAddress)
	if !ok {
		p.Stats.skip(6)
		return
	}
	appendParam(rec, "_srv_geoCC", res.CountryCode)
	appendParam(rec, "_srv_geoReg", res.Region)
	appendParam(rec, "_srv_geoCity", res.City)
	appendParam(rec, "_srv_geoTz", res.Timezone)
	appendParam(rec, "_srv_geoISP", res.ISP)
	if fp.Timezone != `` && res.Timezone != `` && fp.Timezone != res.Timezone {
		appendFlag(rec, "_srv_geoTzMismatch")
	}
}
