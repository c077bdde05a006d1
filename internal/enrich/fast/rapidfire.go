package fast

import (
	"strconv"
	"sync"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
)

// rapidFireTracker keeps the last-seen instant per fingerprint for
// enrichment 2 (rapid-fire).
type rapidFireTracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	floor    time.Duration
}

func newRapidFireTracker(floor time.Duration) *rapidFireTracker {
	return &rapidFireTracker{lastSeen: make(map[string]time.Time), floor: floor}
}

func fingerprintKey(fp Fingerprint) string {
	return fp.CanvasHash + "|" + fp.WebGLHash + "|" + fp.AudioHash + "|" + fp.Fonts + "|" + fp.GPU
}

func (p *Pipeline) runRapidFire(rec *record.TrackingRecord, fp Fingerprint) {
	key := fingerprintKey(fp)
	if key == "||||" {
		p.Stats.skip(2)
		return
	}
	now := time.Now()

	p.rapidFire.mu.Lock()
	prev, ok := p.rapidFire.lastSeen[key]
	p.rapidFire.lastSeen[key] = now
	p.rapidFire.mu.Unlock()

	if !ok {
		return
	}
	gap := now.Sub(prev)
	appendParam(rec, "_srv_lastGapMs", strconv.FormatInt(gap.Milliseconds(), 10))
	if gap < p.rapidFire.floor {
		appendFlag(rec, "_srv_rapidFire")
	}
}
