package fast

import (
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/gravwell/pixelforge/internal/record"
)

// subnetTracker maintains a per-/24 sliding ring of recent hit timestamps
// and distinct IPs for enrichment 1 (subnet velocity).
type subnetTracker struct {
	mu       sync.Mutex
	windows  map[string]*subnetWindow
	ringSize int
	window   time.Duration
	alertAt  int
}

type subnetWindow struct {
	hits []subnetHit
}

type subnetHit struct {
	at time.Time
	ip string
}

func newSubnetTracker(ringSize int, window time.Duration, alertAt int) *subnetTracker {
	return &subnetTracker{
		windows:  make(map[string]*subnetWindow),
		ringSize: ringSize,
		window:   window,
		alertAt:  alertAt,
	}
}

func subnet24(addr netip.Addr) (string, bool) {
	if !addr.Is4() {
		return "", false
	}
	p, err := addr.Prefix(24)
	if err != nil {
		return "", false
	}
	return p.String(), true
}

func (p *Pipeline) runSubnetVelocity(rec *record.TrackingRecord, addr netip.Addr, addrErr error) {
	if addrErr != nil {
		p.Stats.skip(1)
		return
	}
	key, ok := subnet24(addr)
	if !ok {
		p.Stats.skip(1)
		return
	}
	now := time.Now()

	p.subnet.mu.Lock()
	w, ok := p.subnet.windows[key]
	if !ok {
		w = &subnetWindow{}
		p.subnet.windows[key] = w
	}
	w.hits = append(w.hits, subnetHit{at: now, ip: rec.IPAddress})
	cutoff := now.Add(-p.subnet.window)
	kept := w.hits[:0]
	ips := make(map[string]struct{})
	for _, h := range w.hits {
		if h.at.After(cutoff) {
			kept = append(kept, h)
			ips[h.ip] = struct{}{}
		}
	}
	if len(kept) > p.subnet.ringSize {
		kept = kept[len(kept)-p.subnet.ringSize:]
	}
	w.hits = kept
	hitCount := len(kept)
	ipCount := len(ips)
	alertAt := p.subnet.alertAt
	p.subnet.mu.Unlock()

	appendParam(rec, "_srv_subnetHits", strconv.Itoa(hitCount))
	appendParam(rec, "_srv_subnetIps", strconv.Itoa(ipCount))
	appendParam(rec, "_srv_hitsIn15s", strconv.Itoa(hitCount))
	if ipCount >= alertAt {
		appendFlag(rec, "_srv_subnetAlert")
	}
}
