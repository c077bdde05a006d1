// Package identity implements the Identity Resolver (spec.md §4.K):
// four resolution strategies tried in priority order per unmatched
// visit, MERGE'd into the Match table.
//
// Grounded on internal/etl's one-pgx.Tx-per-run, watermark-serialized
// shape, generalized from a single linear pass to a priority chain of
// independent strategies, each short-circuiting the rest once one
// succeeds.
package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravwell/pixelforge/internal/ipclass"
)

const processName = "identity"

// Candidate is one visit awaiting resolution.
type Candidate struct {
	VisitID      int64
	CompanyID    string
	PixelID      string
	IPAddress    string
	UID          string // from _cp_uid, empty if absent
	CookieUID    string // session-linked UID, empty if absent
	Lat, Lon     float64
	HasGeo       bool
	IsDatacenter bool
}

// MatchType enumerates the Match table's match-type discriminator.
type MatchType string

const (
	MatchEmail MatchType = "email"
	MatchIP    MatchType = "ip"
	MatchGeo   MatchType = "geo"
)

// Resolution is the outcome of resolving one Candidate.
type Resolution struct {
	MatchType MatchType
	MatchKey  string
	Strategy  string
}

// GeoLookup resolves a consumer address centroid close to (lat, lon),
// returning its resolved key when a positive match is found.
type GeoLookup interface {
	NearestWithinProximity(ctx context.Context, lat, lon float64) (key string, ok bool, err error)
}

// Resolver drives one watermarked identity-resolution pass.
type Resolver struct {
	pool *pgxpool.Pool
	geo  GeoLookup
}

func New(pool *pgxpool.Pool, geo GeoLookup) *Resolver {
	return &Resolver{pool: pool, geo: geo}
}

// Resolve tries each strategy in priority order and returns the first
// positive match, or ok=false if none apply.
func (r *Resolver) Resolve(ctx context.Context, c Candidate) (Resolution, bool, error) {
	// 1. UID match.
	if c.UID != "" {
		return Resolution{MatchType: MatchEmail, MatchKey: c.UID, Strategy: "uid"}, true, nil
	}

	// 2. Geo proximity.
	if c.HasGeo && r.geo != nil {
		key, ok, err := r.geo.NearestWithinProximity(ctx, c.Lat, c.Lon)
		if err != nil {
			return Resolution{}, false, fmt.Errorf("geo proximity: %w", err)
		}
		if ok {
			return Resolution{MatchType: MatchGeo, MatchKey: key, Strategy: "geo"}, true, nil
		}
	}

	// 3. Cookie correlation.
	if c.CookieUID != "" {
		return Resolution{MatchType: MatchEmail, MatchKey: c.CookieUID, Strategy: "cookie"}, true, nil
	}

	// 4. Direct IP, residential only: publicly routable and not flagged
	// as a datacenter address by internal/dcset upstream.
	if c.IPAddress != "" && !c.IsDatacenter {
		class := ipclass.Classify(c.IPAddress)
		if class.Class == ipclass.Public {
			return Resolution{MatchType: MatchIP, MatchKey: c.IPAddress, Strategy: "direct-ip"}, true, nil
		}
	}

	return Resolution{}, false, nil
}

// Run resolves every unmatched visit above the identity watermark, up to
// limit rows, MERGE-ing a Match row for each positive resolution.
func (r *Resolver) Run(ctx context.Context, candidates []Candidate, limit int64) (matched int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var highest int64
	for _, c := range candidates {
		res, ok, rerr := r.Resolve(ctx, c)
		if rerr != nil {
			return matched, rerr
		}
		if c.VisitID > highest {
			highest = c.VisitID
		}
		if !ok {
			continue
		}
		if err := mergeMatch(ctx, tx, c, res); err != nil {
			return matched, fmt.Errorf("merge match: %w", err)
		}
		matched++
	}

	// The watermark upsert is written out here rather than calling
	// store.AdvanceWatermark: internal/store imports this package.
	_, err = tx.Exec(ctx, `
		INSERT INTO watermarks (process_name, last_processed_id, last_run_at, rows_processed, rows_matched)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (process_name) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			last_run_at = EXCLUDED.last_run_at,
			rows_processed = watermarks.rows_processed + EXCLUDED.rows_processed,
			rows_matched = watermarks.rows_matched + EXCLUDED.rows_matched`,
		processName, highest, int64(len(candidates)), matched)
	if err != nil {
		return matched, fmt.Errorf("advance watermark: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return matched, fmt.Errorf("commit: %w", err)
	}
	return matched, nil
}

func mergeMatch(ctx context.Context, tx pgx.Tx, c Candidate, res Resolution) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO match (company_id, pixel_id, match_type, match_key, first_visit_id, last_visit_id, first_seen, last_seen, hit_count)
		VALUES ($1, $2, $3, $4, $5, $5, now(), now(), 1)
		ON CONFLICT (company_id, pixel_id, match_type, match_key) DO UPDATE SET
			last_visit_id = EXCLUDED.last_visit_id,
			last_seen = now(),
			hit_count = match.hit_count + 1`,
		c.CompanyID, c.PixelID, string(res.MatchType), res.MatchKey, c.VisitID)
	return err
}
