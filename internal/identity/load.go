package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// lastProcessed reads the identity watermark's high-water mark directly
// (rather than through internal/store, to avoid a read-only query paying
// for a full Watermark row scan), returning 0 if the process has never run.
func lastProcessed(ctx context.Context, pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, process string) (int64, error) {
	var last int64
	row := pool.QueryRow(ctx, `SELECT last_processed_id FROM watermarks WHERE process_name = $1`, process)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return last, nil
}

// LoadCandidates pulls up to limit unmatched visits above the identity
// watermark, joining in the signals each resolution strategy needs: the
// _cp_uid carried in client params, a session-linked UID from an earlier
// visit in the same session (cookie correlation), the IP dimension's
// datacenter flag, and its MaxMind coordinates for proximity matching
// (the only per-IP lat/lon the dimension stores).
func (r *Resolver) LoadCandidates(ctx context.Context, limit int64) ([]Candidate, error) {
	since, err := lastProcessed(ctx, r.pool, processName)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT v.visit_id, v.company_id, v.pixel_id, v.ip_address,
		       COALESCE(p.uid, ''),
		       COALESCE((
				SELECT p2.uid FROM visit v2
				JOIN parsed p2 ON p2.raw_id = v2.raw_id
				WHERE v2.session_id = v.session_id
				  AND v2.visit_id < v.visit_id
				  AND COALESCE(p2.uid, '') <> ''
				ORDER BY v2.visit_id DESC LIMIT 1
		       ), '') AS cookie_uid,
		       COALESCE(i.mm_lat, 0), COALESCE(i.mm_lon, 0),
		       (i.mm_lat IS NOT NULL AND i.mm_lon IS NOT NULL) AS has_geo,
		       COALESCE(i.is_datacenter, false)
		FROM visit v
		LEFT JOIN parsed p ON p.raw_id = v.raw_id
		LEFT JOIN ip_dimension i ON i.id = v.ip_id
		WHERE v.visit_id > $1
		  AND NOT EXISTS (
			SELECT 1 FROM match m
			WHERE m.company_id = v.company_id AND m.pixel_id = v.pixel_id
			  AND m.last_visit_id = v.visit_id
		  )
		ORDER BY v.visit_id
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var cookieUID string
		if err := rows.Scan(&c.VisitID, &c.CompanyID, &c.PixelID, &c.IPAddress,
			&c.UID, &cookieUID, &c.Lat, &c.Lon, &c.HasGeo, &c.IsDatacenter); err != nil {
			return nil, err
		}
		c.CookieUID = cookieUID
		out = append(out, c)
	}
	return out, rows.Err()
}
