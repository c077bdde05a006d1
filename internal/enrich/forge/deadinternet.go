package forge

import "sync"

// DeadInternetSample is one hit's worth of the signals the dead-internet
// index rolls up, per spec.md §4.H.
type DeadInternetSample struct {
	Bot           bool
	NoMouseMoves  bool
	Datacenter    bool
	Contradiction bool
	Replay        bool
	Fingerprint   string
}

type companyStats struct {
	hits          int
	bot           int
	noMouse       int
	datacenter    int
	contradiction int
	replay        int
	fingerprints  map[string]struct{}
}

// DeadInternetTracker keeps per-company rolling stats used to estimate
// the fraction of non-human traffic a company receives.
type DeadInternetTracker struct {
	mu        sync.Mutex
	stats     map[string]*companyStats
	minSample int
}

func NewDeadInternetTracker(minSample int) *DeadInternetTracker {
	return &DeadInternetTracker{stats: make(map[string]*companyStats), minSample: minSample}
}

// Observe folds one hit's sample into company's rolling stats and
// returns the current index, 0 until minSample hits have been observed.
func (d *DeadInternetTracker) Observe(company string, s DeadInternetSample) int {
	if company == "" {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.stats[company]
	if !ok {
		c = &companyStats{fingerprints: make(map[string]struct{})}
		d.stats[company] = c
	}
	c.hits++
	if s.Bot {
		c.bot++
	}
	if s.NoMouseMoves {
		c.noMouse++
	}
	if s.Datacenter {
		c.datacenter++
	}
	if s.Contradiction {
		c.contradiction++
	}
	if s.Replay {
		c.replay++
	}
	if s.Fingerprint != "" {
		c.fingerprints[s.Fingerprint] = struct{}{}
	}

	if c.hits < d.minSample {
		return 0
	}

	total := float64(c.hits)
	fraction := (float64(c.bot) + float64(c.noMouse) + float64(c.datacenter) +
		float64(c.contradiction) + float64(c.replay)) / (5 * total)

	diversity := float64(len(c.fingerprints)) / total
	weighted := fraction * (1.5 - diversity)
	if weighted < 0 {
		weighted = 0
	}
	index := int(weighted * 100)
	return clamp(index, 0, 100)
}
