package record

import (
	"net/url"
	"sort"
	"strings"
)

// GetQueryParam returns the URL-decoded value of key in qs, or ("", false)
// if key is absent. It is the opaque accessor both the Fast Enrichments
// and the ETL's ~200-column extraction are built on: callers never parse
// the query string themselves.
func GetQueryParam(qs, key string) (string, bool) {
	vals, err := url.ParseQuery(qs)
	if err != nil {
		// url.ParseQuery still returns whatever it managed to decode
		// before the first error; a partially malformed query string
		// should not hide the keys that did parse.
		if vals == nil {
			return "", false
		}
	}
	v, ok := vals[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// AppendParam appends one key=value pair to qs, URL-encoding value, and
// returns the extended query string. Used by Fast/Forge Enrichments to
// add `_srv_*` pairs; never mutates the caller's string in place.
func AppendParam(qs, key, value string) string {
	pair := key + "=" + url.QueryEscape(value)
	if qs == `` {
		return pair
	}
	return qs + "&" + pair
}

// AppendFlag appends key=1, the idiom Fast/Forge Enrichments use for
// boolean `_srv_*` flags.
func AppendFlag(qs, key string) string {
	return AppendParam(qs, key, "1")
}

// ExtractClientParams collects every `_cp_*` key in qs into a map keyed by
// the parameter name with the prefix stripped, matching spec.md §8
// scenario 6 (`_cp_email=...` → `{"email": "..."}`).
func ExtractClientParams(qs string) map[string]string {
	vals, err := url.ParseQuery(qs)
	if err != nil && vals == nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for k, v := range vals {
		if len(v) == 0 {
			continue
		}
		if name, ok := strings.CutPrefix(k, ClientParamPrefix); ok {
			out[name] = v[0]
		}
	}
	return out
}

// MatchEmail extracts the `email` client parameter, if present, matching
// the ETL's `match_email` population rule ($.email of the client-params
// JSON).
func MatchEmail(qs string) (string, bool) {
	v, ok := GetQueryParam(qs, ClientParamPrefix+"email")
	return v, ok
}

// SortedKeys is a small helper used by tests and by any enrichment that
// needs deterministic iteration over a parameter map (e.g. emitting a
// stable flag list for the contradiction matrix).
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
