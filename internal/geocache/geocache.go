// Package geocache is the two-tier IP→geo lookup cache in front of the
// store's geo table. Hot is a lock-free concurrent map; Warm is a sized,
// TTL-bounded LRU. A singleflight-collapsed background fill keeps
// concurrent misses on the same IP from duplicating store lookups, and
// Get never blocks its caller — the contract spec.md §4.B calls out
// explicitly ("synchronous callers never wait").
package geocache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// GeoResult is the cached IP→geo lookup payload.
type GeoResult struct {
	CountryCode string
	Region      string
	City        string
	PostalCode  string
	Latitude    float64
	Longitude   float64
	Timezone    string
	ISP         string
	Org         string
	Proxy       bool
	Mobile      bool
	RefreshedAt time.Time
}

// Source performs the actual range-index seek against the store's geo
// table; it is invoked off the hot path, once per singleflight-collapsed
// miss.
type Source interface {
	LookupGeo(ctx context.Context, ip string) (GeoResult, bool, error)
}

// Cache is the two-tier geo lookup cache described by spec.md §4.B.
type Cache struct {
	hot  sync.Map // string -> GeoResult
	warm *expirable.LRU[string, GeoResult]

	src    Source
	group  singleflight.Group
	lookup context.Context
	cancel context.CancelFunc
}

// New builds a Cache backed by src, with a warm tier of warmSize entries
// each living warmTTL before eviction (default 1h per spec.md §4.B).
func New(src Source, warmSize int, warmTTL time.Duration) *Cache {
	if warmSize <= 0 {
		warmSize = 100000
	}
	if warmTTL <= 0 {
		warmTTL = time.Hour
	}
	warm := expirable.NewLRU[string, GeoResult](warmSize, nil, warmTTL)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{warm: warm, src: src, lookup: ctx, cancel: cancel}
}

// Close stops any in-flight background fills from being scheduled further.
func (c *Cache) Close() { c.cancel() }

// Get returns the cached geo result for ip if present in either tier. On
// a miss it schedules a background fill and returns immediately with
// ok=false; it never blocks the caller on a store round-trip.
func (c *Cache) Get(ip string) (GeoResult, bool) {
	if v, ok := c.hot.Load(ip); ok {
		return v.(GeoResult), true
	}
	if v, ok := c.warm.Get(ip); ok {
		c.hot.Store(ip, v)
		return v, true
	}
	c.scheduleFill(ip)
	return GeoResult{}, false
}

func (c *Cache) scheduleFill(ip string) {
	go func() {
		c.group.Do(ip, func() (interface{}, error) {
			if c.lookup.Err() != nil {
				return nil, c.lookup.Err()
			}
			res, found, err := c.src.LookupGeo(c.lookup, ip)
			if err != nil || !found {
				return nil, err
			}
			res.RefreshedAt = time.Now().UTC()
			c.hot.Store(ip, res)
			c.warm.Add(ip, res)
			return res, nil
		})
	}()
}

// PreWarm loads a startup snapshot of the top-N most-hit IPs directly into
// Hot, skipping Warm (those entries are refreshed far more often than the
// default TTL would tolerate).
func (c *Cache) PreWarm(entries map[string]GeoResult) {
	now := time.Now().UTC()
	for ip, res := range entries {
		if res.RefreshedAt.IsZero() {
			res.RefreshedAt = now
		}
		c.hot.Store(ip, res)
	}
}

// ClearHot drops the entire Hot tier, used by the daily refresh job
// (IpApiSyncHourUtc) and by the Edge's /internal/geo-cache/clear control
// endpoint. Warm is left untouched and decays on its own TTL.
func (c *Cache) ClearHot() {
	c.hot.Range(func(k, _ interface{}) bool {
		c.hot.Delete(k)
		return true
	})
}
