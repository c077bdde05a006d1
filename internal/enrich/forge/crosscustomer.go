package forge

import (
	"sync"
	"time"
)

const crossCustomerWindow = 5 * time.Minute
const crossCustomerAlertThreshold = 3

type companyHit struct {
	company string
	at      time.Time
}

// CrossCustomerTracker keys on (IP, fingerprint) and keeps a sliding
// 5-minute window of the distinct companies that key has been seen
// hitting, to surface fingerprint/IP pairs being scraped across
// customers.
type CrossCustomerTracker struct {
	mu   sync.Mutex
	hits map[string][]companyHit
}

func NewCrossCustomerTracker() *CrossCustomerTracker {
	return &CrossCustomerTracker{hits: make(map[string][]companyHit)}
}

// Observe records one hit and returns the distinct-company count within
// the window plus whether it has crossed the alert threshold.
func (c *CrossCustomerTracker) Observe(ip, fingerprint, company string) (distinct int, alert bool) {
	if ip == "" && fingerprint == "" {
		return 0, false
	}
	key := ip + "|" + fingerprint
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.hits[key]
	kept := window[:0]
	for _, h := range window {
		if now.Sub(h.at) <= crossCustomerWindow {
			kept = append(kept, h)
		}
	}
	kept = append(kept, companyHit{company: company, at: now})
	c.hits[key] = kept

	seen := make(map[string]struct{}, len(kept))
	for _, h := range kept {
		seen[h.company] = struct{}{}
	}
	distinct = len(seen)
	return distinct, distinct >= crossCustomerAlertThreshold
}
