// Package store is the pgx-based relational layer behind the Raw,
// Parsed, Device, IP, Visit, Match, and SubnetReputation tables (spec.md
// §3), plus the watermark bookkeeping the ETL, Identity Resolver, and
// Scoring stages share.
//
// Grounded on the age-backfill tool's pgxpool.Pool-based connection
// management (a single pool, dialed once at process start, passed down
// to every table-specific writer) found in the pack's carverauto
// example, generalized from a one-shot backfill tool to a long-lived
// service pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the connection pool shared by the Bulk Writer, ETL,
// Identity Resolver, and Scoring stages.
type Store struct {
	Pool *pgxpool.Pool
}

// Open dials a pgx connection pool against connString.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Watermark is one process's progress marker, per spec.md §3.
type Watermark struct {
	Process       string
	LastProcessed int64
	LastRunAt     time.Time
	RowsProcessed int64
	RowsMatched   int64
}

// LoadWatermark reads the current watermark row for process, returning
// the zero value (LastProcessed 0) if none exists yet.
func (s *Store) LoadWatermark(ctx context.Context, process string) (Watermark, error) {
	var w Watermark
	w.Process = process
	row := s.Pool.QueryRow(ctx, `
		SELECT last_processed_id, last_run_at, rows_processed, rows_matched
		FROM watermarks WHERE process_name = $1`, process)
	err := row.Scan(&w.LastProcessed, &w.LastRunAt, &w.RowsProcessed, &w.RowsMatched)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return w, nil
		}
		return w, err
	}
	return w, nil
}

// AdvanceWatermark upserts the watermark row for process inside tx,
// matching spec.md §3's invariant that a parser advances its watermark
// only inside the transaction that commits its output.
func AdvanceWatermark(ctx context.Context, tx pgx.Tx, w Watermark) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO watermarks (process_name, last_processed_id, last_run_at, rows_processed, rows_matched)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (process_name) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			last_run_at = EXCLUDED.last_run_at,
			rows_processed = watermarks.rows_processed + EXCLUDED.rows_processed,
			rows_matched = watermarks.rows_matched + EXCLUDED.rows_matched`,
		w.Process, w.LastProcessed, w.RowsProcessed, w.RowsMatched)
	return err
}
