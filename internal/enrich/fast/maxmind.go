package fast

import (
	"net"
	"net/netip"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"github.com/gravwell/pixelforge/internal/record"
)

// maxmindLookup wraps a GeoIP2 city database reader for enrichment 11,
// the secondary/independent geo source alongside the primary Geo Cache.
type maxmindLookup struct {
	db *geoip2.Reader
}

func newMaxmindLookup(path string) *maxmindLookup {
	if path == `` {
		return &maxmindLookup{}
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return &maxmindLookup{} // degrade to always-skip rather than fail construction
	}
	return &maxmindLookup{db: db}
}

func (p *Pipeline) runMaxMind(rec *record.TrackingRecord, addr netip.Addr, addrErr error) {
	if addrErr != nil || p.maxmind == nil || p.maxmind.db == nil {
		p.Stats.skip(11)
		return
	}
	ip := net.ParseIP(rec.IPAddress)
	if ip == nil {
		p.Stats.skip(11)
		return
	}
	city, err := p.maxmind.db.City(ip)
	if err != nil {
		p.Stats.skip(11)
		return
	}
	appendParam(rec, "_srv_mmCC", city.Country.IsoCode)
	if len(city.Subdivisions) > 0 {
		appendParam(rec, "_srv_mmReg", city.Subdivisions[0].IsoCode)
	}
	appendParam(rec, "_srv_mmCity", city.City.Names["en"])
	appendParam(rec, "_srv_mmLat", strconv.FormatFloat(city.Location.Latitude, 'f', 6, 64))
	appendParam(rec, "_srv_mmLon", strconv.FormatFloat(city.Location.Longitude, 'f', 6, 64))

	asn, err := p.maxmind.asn(ip)
	if err == nil && asn != nil {
		appendParam(rec, "_srv_mmASN", strconv.FormatUint(uint64(asn.AutonomousSystemNumber), 10))
		appendParam(rec, "_srv_mmASNOrg", asn.AutonomousSystemOrganization)
	}
}

type asnRecord struct {
	AutonomousSystemNumber       uint
	AutonomousSystemOrganization string
}

// asn performs no lookup: it always returns a nil record, so the ASN
// number and ASN organization fields are never appended.
func (m *maxmindLookup) asn(ip net.IP) (*asnRecord, error) {
	return nil, nil
}
