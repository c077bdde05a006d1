// Package record defines the TrackingRecord wire/raw-store payload shared
// by the Edge, the pipe transport, the Forge, and the ETL parser, plus the
// opaque query-string helpers the rest of the pipeline builds on.
//
// The wire format is grounded on the teacher's entry package: a fixed set
// of stable field names marshaled straight to JSON, one record per line,
// no envelope.
package record

import (
	"encoding/json"
	"time"
)

const (
	// MaxQueryStringBytes is the largest accepted raw query string; a
	// 16385th byte causes Edge Capture to reject the request with 400.
	MaxQueryStringBytes = 16384
	// MaxUserAgent truncates UserAgent capture.
	MaxUserAgent = 2000
	// MaxReferer truncates Referer capture.
	MaxReferer = 2000

	// SrvPrefix marks a server-generated enrichment parameter.
	SrvPrefix = "_srv_"
	// ClientParamPrefix marks a client-supplied custom parameter.
	ClientParamPrefix = "_cp_"

	// HitTypeLegacy marks a hit with no query string.
	HitTypeLegacy = "legacy"
	// HitTypeModern marks a hit carrying a query string.
	HitTypeModern = "modern"
)

// TrackingRecord is the unit of work produced by Edge Capture, mutated by
// Fast Enrichments, carried over the pipe, enriched further by the Forge,
// and durably persisted by the Bulk Writer into the Raw table.
type TrackingRecord struct {
	ReceivedAt  time.Time `json:"ReceivedAt"`
	CompanyID   string    `json:"CompanyID"`
	PixelID     string    `json:"PiXLID"`
	IPAddress   string    `json:"IPAddress"`
	RequestPath string    `json:"RequestPath"`
	QueryString string    `json:"QueryString"`
	HeadersJson string    `json:"HeadersJson"`
	UserAgent   string    `json:"UserAgent"`
	Referer     string    `json:"Referer"`
}

// wireRecord mirrors TrackingRecord but carries ReceivedAt as an
// ISO-8601 UTC millisecond string, matching spec.md §6's cross-process
// stream contract exactly.
type wireRecord struct {
	ReceivedAt  string `json:"ReceivedAt"`
	CompanyID   string `json:"CompanyID"`
	PixelID     string `json:"PiXLID"`
	IPAddress   string `json:"IPAddress"`
	RequestPath string `json:"RequestPath"`
	QueryString string `json:"QueryString"`
	HeadersJson string `json:"HeadersJson"`
	UserAgent   string `json:"UserAgent"`
	Referer     string `json:"Referer"`
}

const wireTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// MarshalJSON renders the record as one line-delimited wire object.
func (t TrackingRecord) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		ReceivedAt:  t.ReceivedAt.UTC().Format(wireTimeLayout),
		CompanyID:   t.CompanyID,
		PixelID:     t.PixelID,
		IPAddress:   t.IPAddress,
		RequestPath: t.RequestPath,
		QueryString: t.QueryString,
		HeadersJson: t.HeadersJson,
		UserAgent:   t.UserAgent,
		Referer:     t.Referer,
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses one wire line back into a TrackingRecord.
func (t *TrackingRecord) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := time.Parse(wireTimeLayout, w.ReceivedAt)
	if err != nil {
		// Tolerate a bare RFC3339 producer; millisecond precision is not
		// load-bearing for correctness, only for display.
		if ts, err = time.Parse(time.RFC3339Nano, w.ReceivedAt); err != nil {
			return err
		}
	}
	t.ReceivedAt = ts.UTC()
	t.CompanyID = w.CompanyID
	t.PixelID = w.PixelID
	t.IPAddress = w.IPAddress
	t.RequestPath = w.RequestPath
	t.QueryString = w.QueryString
	t.HeadersJson = w.HeadersJson
	t.UserAgent = w.UserAgent
	t.Referer = w.Referer
	return nil
}

// HitType reports whether this capture carried no query string at all.
func (t *TrackingRecord) HitType() string {
	if t.QueryString == `` {
		return HitTypeLegacy
	}
	return HitTypeModern
}

// TruncateUserAgent clamps UserAgent to MaxUserAgent characters.
func (t *TrackingRecord) TruncateUserAgent() {
	t.UserAgent = truncate(t.UserAgent, MaxUserAgent)
}

// TruncateReferer clamps Referer to MaxReferer characters.
func (t *TrackingRecord) TruncateReferer() {
	t.Referer = truncate(t.Referer, MaxReferer)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
