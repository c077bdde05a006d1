package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

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

// LoadBatch pulls up to limit visits above the scoring watermark, along
// with the ingredient signals MouseAuthenticity/SessionQuality/
// CompositeQuality need: mouse-path derived stats from the parsed row,
// session hit-count/duration from the visit row, and the already-
// materialized bot/lead/cultural scores the Forge enrichments produced.
func (m *Materializer) LoadBatch(ctx context.Context, limit int64) ([]VisitScore, error) {
	since, err := lastProcessed(ctx, m.pool, processName)
	if err != nil {
		return nil, err
	}

	rows, err := m.pool.Query(ctx, `
		SELECT v.visit_id, v.company_id, v.received_at,
		       COALESCE(p.mouse_entropy, 0), COALESCE(p.mouse_timing_cv, 0),
		       COALESCE(p.mouse_speed_cv, 0), COALESCE(p.mouse_move_bucket, 0),
		       p.mouse_move_bucket IS NOT NULL,
		       COALESCE(v.replay_detected, false), COALESCE(v.scroll_contradiction, false),
		       COALESCE(v.session_page_count, 0), COALESCE(v.session_duration_seconds, 0),
		       COALESCE(v.bot_score, 0), COALESCE(v.lead_quality, 0),
		       COALESCE(v.arbitrage_score, 0), COALESCE(v.contradiction_count, 0) = 0,
		       COALESCE(v.affluence_tier, '')
		FROM visit v
		LEFT JOIN parsed p ON p.raw_id = v.raw_id
		WHERE v.visit_id > $1
		ORDER BY v.visit_id
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VisitScore
	for rows.Next() {
		var vs VisitScore
		var receivedAt time.Time
		var pageCount, sessionDuration int
		if err := rows.Scan(&vs.VisitID, &vs.CompanyID, &receivedAt,
			&vs.Mouse.Entropy, &vs.Mouse.TimingCV, &vs.Mouse.SpeedCV, &vs.Mouse.MoveCountBucket,
			&vs.Mouse.MoveCountBucketKnown, &vs.Mouse.Replayed, &vs.Mouse.ScrollContradiction,
			&pageCount, &sessionDuration,
			&vs.Composite.BotScore, &vs.Composite.LeadQuality,
			&vs.Composite.CulturalConsistency, &vs.Composite.ContradictionFree,
			&vs.Composite.AffluenceTier); err != nil {
			return nil, err
		}
		vs.Day = receivedAt.UTC().Truncate(24 * time.Hour)
		vs.Session = SessionSignals{
			PageCount:       pageCount,
			DurationSeconds: sessionDuration,
			MultiPage:       pageCount > 1,
		}
		out = append(out, vs)
	}
	return out, rows.Err()
}
