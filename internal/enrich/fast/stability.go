package fast

import (
	"net/netip"
	"strconv"
	"sync"

	"github.com/gravwell/pixelforge/internal/record"
)

const stabilityWindow = 32

// stabilityTracker keeps a rolling per-IP histogram of canvas/webgl/audio
// hash combinations for enrichment 7 (fingerprint stability).
type stabilityTracker struct {
	mu      sync.Mutex
	history map[string][]string
}

func newStabilityTracker() *stabilityTracker {
	return &stabilityTracker{history: make(map[string][]string)}
}

func (p *Pipeline) runFingerprintStability(rec *record.TrackingRecord, addr netip.Addr, fp Fingerprint) {
	combo := fp.CanvasHash + "|" + fp.WebGLHash + "|" + fp.AudioHash
	if combo == "||" {
		p.Stats.skip(7)
		return
	}
	key := rec.IPAddress

	p.stability.mu.Lock()
	hist := p.stability.history[key]
	hist = append(hist, combo)
	if len(hist) > stabilityWindow {
		hist = hist[len(hist)-stabilityWindow:]
	}
	p.stability.history[key] = hist
	distinct := make(map[string]struct{}, len(hist))
	for _, c := range hist {
		distinct[c] = struct{}{}
	}
	score := len(distinct) - 1
	p.stability.mu.Unlock()

	if score < 0 {
		score = 0
	}
	appendParam(rec, "_srv_fpStability", strconv.Itoa(score))
}
