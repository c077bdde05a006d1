package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravwell/pixelforge/internal/store"
)

const processName = "scoring"

// Period names one rollup granularity.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// VisitScore is one materialized per-visit composite score, ready to be
// folded into its owning company's rollups.
type VisitScore struct {
	VisitID   int64
	CompanyID string
	Day       time.Time // truncated to UTC midnight
	Mouse     MouseSignals
	Session   SessionSignals
	Composite CompositeSignals
}

// TouchedPeriods returns the distinct (day, week-start, month-start) keys
// a batch of visit days spans, so a rollup pass only recomputes periods
// that actually changed rather than rescanning full history.
func TouchedPeriods(days []time.Time) (daily, weekly, monthly []time.Time) {
	seenD := map[time.Time]struct{}{}
	seenW := map[time.Time]struct{}{}
	seenM := map[time.Time]struct{}{}
	for _, d := range days {
		d = d.UTC().Truncate(24 * time.Hour)
		if _, ok := seenD[d]; !ok {
			seenD[d] = struct{}{}
			daily = append(daily, d)
		}
		w := weekStart(d)
		if _, ok := seenW[w]; !ok {
			seenW[w] = struct{}{}
			weekly = append(weekly, w)
		}
		m := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		if _, ok := seenM[m]; !ok {
			seenM[m] = struct{}{}
			monthly = append(monthly, m)
		}
	}
	return daily, weekly, monthly
}

func weekStart(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7 // Monday-anchored
	return d.AddDate(0, 0, -offset)
}

// Materializer computes composite scores for a batch of visits and
// recomputes only the rollup periods the batch touches.
type Materializer struct {
	pool *pgxpool.Pool
}

func NewMaterializer(pool *pgxpool.Pool) *Materializer {
	return &Materializer{pool: pool}
}

// Run scores every visit in batch, persists each composite score, then
// recomputes the daily rollups those visits touched, followed by the
// weekly and monthly rollups derived from those daily rows. Weekly and
// monthly rollups are folded from already-materialized daily rows, never
// rescanned from raw visits.
func (m *Materializer) Run(ctx context.Context, batch []VisitScore) (scored int64, err error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	days := make([]time.Time, 0, len(batch))
	var highest int64
	for _, v := range batch {
		mouse := MouseAuthenticity(v.Mouse)
		session := SessionQuality(v.Session)
		v.Composite.MouseAuthenticity = mouse
		v.Composite.SessionQuality = session
		composite := CompositeQuality(v.Composite)

		_, err := tx.Exec(ctx, `
			UPDATE visit SET
				mouse_authenticity = $2,
				session_quality = $3,
				composite_quality = $4
			WHERE visit_id = $1`,
			v.VisitID, mouse, session, composite)
		if err != nil {
			return scored, fmt.Errorf("update visit %d: %w", v.VisitID, err)
		}
		days = append(days, v.Day)
		if v.VisitID > highest {
			highest = v.VisitID
		}
		scored++
	}

	daily, weekly, monthly := TouchedPeriods(days)
	for _, c := range distinctCompanies(batch) {
		for _, d := range daily {
			if err := rollupPeriod(ctx, tx, c, PeriodDaily, d, d.AddDate(0, 0, 1)); err != nil {
				return scored, err
			}
		}
		for _, w := range weekly {
			if err := rollupFromDaily(ctx, tx, c, PeriodWeekly, w, w.AddDate(0, 0, 7)); err != nil {
				return scored, err
			}
		}
		for _, mo := range monthly {
			if err := rollupFromDaily(ctx, tx, c, PeriodMonthly, mo, mo.AddDate(0, 1, 0)); err != nil {
				return scored, err
			}
		}
	}

	wm := store.Watermark{Process: processName, LastProcessed: highest, RowsProcessed: int64(len(batch))}
	if err := store.AdvanceWatermark(ctx, tx, wm); err != nil {
		return scored, fmt.Errorf("advance watermark: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return scored, fmt.Errorf("commit: %w", err)
	}
	return scored, nil
}

func distinctCompanies(batch []VisitScore) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range batch {
		if _, ok := seen[v.CompanyID]; !ok {
			seen[v.CompanyID] = struct{}{}
			out = append(out, v.CompanyID)
		}
	}
	return out
}

// rollupPeriod recomputes a daily rollup directly from the visit rows
// in [start, end).
func rollupPeriod(ctx context.Context, tx pgx.Tx, company string, period Period, start, end time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO quality_rollup (company_id, period, period_start, visit_count, avg_composite_quality)
		SELECT $1, $2, $3, count(*), avg(composite_quality)
		FROM visit
		WHERE company_id = $1 AND received_at >= $3 AND received_at < $4
		ON CONFLICT (company_id, period, period_start) DO UPDATE SET
			visit_count = EXCLUDED.visit_count,
			avg_composite_quality = EXCLUDED.avg_composite_quality`,
		company, string(period), start, end)
	return err
}

// rollupFromDaily folds already-materialized daily rows in [start, end)
// into a weekly or monthly rollup, rather than rescanning raw visits.
func rollupFromDaily(ctx context.Context, tx pgx.Tx, company string, period Period, start, end time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO quality_rollup (company_id, period, period_start, visit_count, avg_composite_quality)
		SELECT $1, $2, $3, sum(visit_count),
		       sum(visit_count * avg_composite_quality) / NULLIF(sum(visit_count), 0)
		FROM quality_rollup
		WHERE company_id = $1 AND period = $5 AND period_start >= $3 AND period_start < $4
		ON CONFLICT (company_id, period, period_start) DO UPDATE SET
			visit_count = EXCLUDED.visit_count,
			avg_composite_quality = EXCLUDED.avg_composite_quality`,
		company, string(period), start, end, string(PeriodDaily))
	return err
}
