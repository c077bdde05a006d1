package etl

import (
	"encoding/json"

	"github.com/gravwell/pixelforge/internal/record"
)

// clientParamsJSON aggregates a raw row's _cp_* parameters into a single
// JSON object (spec.md §4.J phase 7).
func clientParamsJSON(qs string) []byte {
	params := record.ExtractClientParams(qs)
	b, err := json.Marshal(params)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// matchEmail populates match_email from the client params' email field,
// returning "" (stored as NULL) when absent.
func matchEmail(qs string) string {
	email, _ := record.MatchEmail(qs)
	return email
}
