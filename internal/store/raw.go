package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/gravwell/pixelforge/internal/record"
)

// rawColumns is the fixed column order CopyFrom writes, matching
// TrackingRecord's wire fields plus the Tier-2/3 enrichment JSON blob the
// Bulk Writer appends after the Forge pipeline runs.
var rawColumns = []string{
	"received_at", "company_id", "pixel_id", "ip_address",
	"request_path", "query_string", "headers_json", "user_agent", "referer",
	"forge_json",
}

// CopyRaw bulk-inserts rows into the Raw table via pgx's binary COPY
// protocol, the idiomatic Go replacement for a typed-row batched INSERT.
func (s *Store) CopyRaw(ctx context.Context, rows []RawRow) (int64, error) {
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
			r.Record.ReceivedAt, r.Record.CompanyID, r.Record.PixelID, r.Record.IPAddress,
			r.Record.RequestPath, r.Record.QueryString, r.Record.HeadersJson,
			r.Record.UserAgent, r.Record.Referer, r.ForgeJSON,
		}, nil
	})
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"raw"}, rawColumns, src)
}

// RawRow is one Bulk Writer batch entry: the wire record plus the
// Forge-side enrichment result serialized as JSON.
type RawRow struct {
	Record    record.TrackingRecord
	ForgeJSON []byte
}
