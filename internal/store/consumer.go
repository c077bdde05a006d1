package store

import (
	"context"

	"github.com/gravwell/pixelforge/internal/identity"
)

// ConsumerProximity implements identity.GeoLookup against the external
// consumer table (spec.md §4.K strategy 2): a coarse integer-bucket
// filter narrows the candidate set before a haversine refinement decides
// the positive match.
type ConsumerProximity struct {
	st *Store
}

// NewConsumerProximity builds an identity.GeoLookup backed by st.
func NewConsumerProximity(st *Store) *ConsumerProximity {
	return &ConsumerProximity{st: st}
}

// NearestWithinProximity seeks the consumer table's lat/lon bucket index
// for candidates in (lat, lon)'s bucket and its eight neighbors, then
// refines with haversine distance against the 692m threshold.
func (c *ConsumerProximity) NearestWithinProximity(ctx context.Context, lat, lon float64) (string, bool, error) {
	latBucket, lonBucket := identity.Bucket(lat, lon)
	neighbors := identity.NeighborBuckets(latBucket, lonBucket)

	latBuckets := make([]int, len(neighbors))
	lonBuckets := make([]int, len(neighbors))
	for i, n := range neighbors {
		latBuckets[i], lonBuckets[i] = n[0], n[1]
	}

	rows, err := c.st.Pool.Query(ctx, `
		SELECT resolved_key, latitude, longitude
		FROM consumer
		WHERE (lat_bucket, lon_bucket) IN (
			SELECT unnest($1::int[]), unnest($2::int[])
		)`, latBuckets, lonBuckets)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var bestKey string
	bestDist := identity.ProximityThresholdMeters
	found := false
	for rows.Next() {
		var key string
		var clat, clon float64
		if err := rows.Scan(&key, &clat, &clon); err != nil {
			return "", false, err
		}
		d := identity.HaversineMeters(lat, lon, clat, clon)
		if d <= bestDist {
			bestDist = d
			bestKey = key
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	return bestKey, found, nil
}
