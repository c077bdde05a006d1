package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/gravwell/pixelforge/internal/geocache"
)

// GeoSource implements geocache.Source: the range-index seek against the
// ip_geo table that a background fill performs on a Geo Cache miss
// (spec.md §4.B).
type GeoSource struct {
	st *Store
}

// NewGeoSource builds a geocache.Source backed by st.
func NewGeoSource(st *Store) *GeoSource {
	return &GeoSource{st: st}
}

// LookupGeo seeks ip_geo for the network containing ip, ordered so the
// most specific (largest prefix length) range wins.
func (g *GeoSource) LookupGeo(ctx context.Context, ip string) (geocache.GeoResult, bool, error) {
	row := g.st.Pool.QueryRow(ctx, `
		SELECT country_code, region, city, postal_code, latitude, longitude,
		       timezone, isp, org, is_proxy, is_mobile
		FROM ip_geo
		WHERE network >>= $1::inet
		ORDER BY masklen(network) DESC
		LIMIT 1`, ip)

	var r geocache.GeoResult
	err := row.Scan(&r.CountryCode, &r.Region, &r.City, &r.PostalCode, &r.Latitude, &r.Longitude,
		&r.Timezone, &r.ISP, &r.Org, &r.Proxy, &r.Mobile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return geocache.GeoResult{}, false, nil
		}
		return geocache.GeoResult{}, false, err
	}
	return r, true, nil
}

// SyncFromUpstream copies ip_geo_upstream rows beyond the geo-sync
// watermark into ip_geo and advances the watermark in the same
// transaction (spec.md §4.B's daily refresh). The caller clears the geo
// cache's hot tier afterwards; the warm tier decays on its own TTL.
func (g *GeoSource) SyncFromUpstream(ctx context.Context) (int64, error) {
	tx, err := g.st.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var last int64
	row := tx.QueryRow(ctx, `SELECT last_processed_id FROM watermarks WHERE process_name = 'geo-sync' FOR UPDATE`)
	if err := row.Scan(&last); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	var maxID int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM ip_geo_upstream`).Scan(&maxID); err != nil {
		return 0, err
	}
	if maxID <= last {
		return 0, tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO ip_geo (network, country_code, region, city, postal_code,
			latitude, longitude, timezone, isp, org, is_proxy, is_mobile)
		SELECT network, country_code, region, city, postal_code,
			latitude, longitude, timezone, isp, org, is_proxy, is_mobile
		FROM ip_geo_upstream WHERE id > $1 AND id <= $2
		ON CONFLICT (network) DO UPDATE SET
			country_code = EXCLUDED.country_code,
			region = EXCLUDED.region,
			city = EXCLUDED.city,
			postal_code = EXCLUDED.postal_code,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			timezone = EXCLUDED.timezone,
			isp = EXCLUDED.isp,
			org = EXCLUDED.org,
			is_proxy = EXCLUDED.is_proxy,
			is_mobile = EXCLUDED.is_mobile`, last, maxID)
	if err != nil {
		return 0, err
	}

	if err := AdvanceWatermark(ctx, tx, Watermark{Process: "geo-sync", LastProcessed: maxID, RowsProcessed: tag.RowsAffected()}); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}

// TopHitIPs returns the topN most-hit IPs from the IP dimension, used by
// the Geo Cache's startup pre-warm pass (spec.md §4.B).
func (g *GeoSource) TopHitIPs(ctx context.Context, topN int) (map[string]geocache.GeoResult, error) {
	rows, err := g.st.Pool.Query(ctx, `
		SELECT d.ip_address, g.country_code, g.region, g.city, g.postal_code,
		       g.latitude, g.longitude, g.timezone, g.isp, g.org, g.is_proxy, g.is_mobile
		FROM ip_dimension d
		JOIN LATERAL (
			SELECT country_code, region, city, postal_code, latitude, longitude,
			       timezone, isp, org, is_proxy, is_mobile
			FROM ip_geo
			WHERE network >>= d.ip_address::inet
			ORDER BY masklen(network) DESC
			LIMIT 1
		) g ON true
		ORDER BY d.hit_count DESC
		LIMIT $1`, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]geocache.GeoResult, topN)
	for rows.Next() {
		var ip string
		var r geocache.GeoResult
		if err := rows.Scan(&ip, &r.CountryCode, &r.Region, &r.City, &r.PostalCode,
			&r.Latitude, &r.Longitude, &r.Timezone, &r.ISP, &r.Org, &r.Proxy, &r.Mobile); err != nil {
			return nil, err
		}
		out[ip] = r
	}
	return out, rows.Err()
}
