package fast

import (
	"sync"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
)

// dupeTracker remembers the last time a (company, pixel, IP, fingerprint)
// quadruple was seen, for enrichment 3 (sub-second duplicate).
type dupeTracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	window   time.Duration
}

func newDupeTracker(window time.Duration) *dupeTracker {
	return &dupeTracker{lastSeen: make(map[string]time.Time), window: window}
}

func (p *Pipeline) runSubSecDupe(rec *record.TrackingRecord, fp Fingerprint) {
	key := rec.CompanyID + "|" + rec.PixelID + "|" + rec.IPAddress + "|" + fingerprintKey(fp)
	now := time.Now()

	p.subSecDupe.mu.Lock()
	prev, ok := p.subSecDupe.lastSeen[key]
	p.subSecDupe.lastSeen[key] = now
	p.subSecDupe.mu.Unlock()

	if ok && now.Sub(prev) < p.subSecDupe.window {
		appendFlag(rec, "_srv_subSecDupe")
	}
}
