// Package fast implements the twelve synchronous, low-latency Edge-side
// enrichments (spec.md §4.C). Each enrichment is its own file; Pipeline
// composes them in a fixed order, and each enrichment appends its own
// `_srv_*` pairs to the record's query string. Any enrichment that errors or
// times out is silently skipped and counted — the pipeline never fails a
// hit because of an enrichment, matching the teacher's "ingest keeps
// moving" posture in HttpIngester's handler loop.
package fast

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gravwell/pixelforge/internal/dcset"
	"github.com/gravwell/pixelforge/internal/geocache"
	"github.com/gravwell/pixelforge/internal/record"
)

// defaultNetEnrichRate bounds enrichments 10/12 (reverse DNS, WHOIS), the
// only two enrichments that hit an external resolver rather than
// in-process state, so a burst of hits against an unresponsive resolver
// can't pile up outstanding lookups faster than the resolver can ever
// drain them.
const defaultNetEnrichRate = 500

// Fingerprint is the set of browser-reported signals the fast enrichments
// key per-visitor state on. It is populated by Edge Capture from the
// `_cp_*` client parameters before the pipeline runs.
type Fingerprint struct {
	CanvasHash string
	WebGLHash  string
	AudioHash  string
	Fonts      string
	GPU        string
	Timezone   string // browser-reported IANA zone name
	UserAgent  string
}

// Stats is the swallow-and-count error bookkeeping every enrichment
// shares; exported fields are read with sync/atomic by the caller.
type Stats struct {
	Skipped [12]uint64
}

func (s *Stats) skip(i int) { atomic.AddUint64(&s.Skipped[i-1], 1) }

// SkippedCount reports how many times enrichment i (1-indexed, matching
// spec.md §4.C's numbering) was silently skipped.
func (s *Stats) SkippedCount(i int) uint64 {
	return atomic.LoadUint64(&s.Skipped[i-1])
}

// Pipeline holds every piece of in-process state the twelve enrichments
// need and runs them in the spec's fixed order.
type Pipeline struct {
	Stats Stats

	subnet     *subnetTracker
	rapidFire  *rapidFireTracker
	subSecDupe *dupeTracker
	datacenter *dcset.Set
	geo        *geocache.Cache
	stability  *stabilityTracker
	knownBot   *botMatcher
	rdns       *rdnsResolver
	maxmind    *maxmindLookup
	whois      *whoisResolver
	netLimiter *rate.Limiter

	dnsTimeout   time.Duration
	whoisTimeout time.Duration
}

// Config bundles the dependencies Pipeline needs at construction time.
type Config struct {
	Datacenter   *dcset.Set
	Geo          *geocache.Cache
	MaxMindDB    string // path to the GeoIP2 city database, "" disables enrichment 11
	DNSTimeout   time.Duration
	WhoisTimeout time.Duration
}

// NewPipeline builds a Pipeline ready to run. MaxMind/WHOIS resolvers that
// fail to initialize (missing DB, no network) degrade to always-skip
// rather than failing construction, matching the "never fails a hit"
// contract for the whole pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 250 * time.Millisecond
	}
	if cfg.WhoisTimeout <= 0 {
		cfg.WhoisTimeout = 2 * time.Second
	}
	p := &Pipeline{
		subnet:       newSubnetTracker(256, 15*time.Second, 3),
		rapidFire:    newRapidFireTracker(300 * time.Millisecond),
		subSecDupe:   newDupeTracker(time.Second),
		datacenter:   cfg.Datacenter,
		geo:          cfg.Geo,
		stability:    newStabilityTracker(),
		knownBot:     newBotMatcher(),
		rdns:         newRDNSResolver(),
		maxmind:      newMaxmindLookup(cfg.MaxMindDB),
		whois:        newWhoisResolver(),
		netLimiter:   rate.NewLimiter(rate.Limit(defaultNetEnrichRate), defaultNetEnrichRate),
		dnsTimeout:   cfg.DNSTimeout,
		whoisTimeout: cfg.WhoisTimeout,
	}
	return p
}

// Run applies all twelve enrichments to rec in spec order, appending
// `_srv_*` pairs to its QueryString. fp carries the fingerprint
// components Edge Capture extracted from the client params.
func (p *Pipeline) Run(ctx context.Context, rec *record.TrackingRecord, fp Fingerprint) {
	addr, addrErr := netip.ParseAddr(rec.IPAddress)

	p.runSubnetVelocity(rec, addr, addrErr)
	p.runRapidFire(rec, fp)
	p.runSubSecDupe(rec, fp)
	p.runDatacenter(rec, addr, addrErr)
	cls := p.runIPClassify(rec, addr, addrErr)
	p.runGeoLookup(rec, fp, cls)
	p.runFingerprintStability(rec, addr, fp)
	p.runKnownBot(rec, fp)
	p.runUAParse(rec, fp)
	if p.netLimiter.Allow() {
		p.runReverseDNS(ctx, rec, addr, addrErr)
	} else {
		p.Stats.skip(10)
	}
	p.runMaxMind(rec, addr, addrErr)
	if p.netLimiter.Allow() {
		p.runWhois(ctx, rec, addr, addrErr)
	} else {
		p.Stats.skip(12)
	}
}

func appendFlag(rec *record.TrackingRecord, key string) {
	rec.QueryString = record.AppendFlag(rec.QueryString, key)
}

func appendParam(rec *record.TrackingRecord, key, val string) {
	if val == `` {
		return
	}
	rec.QueryString = record.AppendParam(rec.QueryString, key, val)
}
