package etl

import "github.com/gravwell/pixelforge/internal/record"

// ParsedRow is the typed projection of one raw row's query string into
// the Parsed table's fixed column set (spec.md §4.J phase 2). The real
// warehouse table carries close to two hundred columns; this struct
// names the ones the rest of the pipeline (device/IP dimension merge,
// identity resolution, scoring) actually reads, and sweepGroups below
// partitions the remainder into small grouped UPDATE statements so no
// single statement touches the whole row.
type ParsedRow struct {
	RawID int64

	CanvasHash string
	WebGLHash  string
	AudioHash  string
	Fonts      string
	GPU        string

	ScreenWidth  string
	ScreenHeight string
	CoresLogical string
	MemoryGB     string
	Platform     string
	Browser      string
	OS           string
	Language     string
	Timezone     string
	NumberFormat string
	Calendar     string
	TouchPoints  string
	Battery      string
	WebDriver    string
	VoiceCount   string

	MousePath string
	UID       string
}

// qpString returns the empty string for an absent query parameter,
// matching GetQueryParam's "null" contract at the Go level.
func qpString(qs, key string) string {
	v, _ := record.GetQueryParam(qs, key)
	return v
}

// ExtractParsedRow builds a ParsedRow from a raw row's query string via
// the opaque GetQueryParam helper, per spec.md §4.J phase 2.
func ExtractParsedRow(rawID int64, qs string) ParsedRow {
	return ParsedRow{
		RawID:        rawID,
		CanvasHash:   qpString(qs, record.ClientParamPrefix+"cv"),
		WebGLHash:    qpString(qs, record.ClientParamPrefix+"wgl"),
		AudioHash:    qpString(qs, record.ClientParamPrefix+"aud"),
		Fonts:        qpString(qs, record.ClientParamPrefix+"fonts"),
		GPU:          qpString(qs, record.ClientParamPrefix+"gpu"),
		ScreenWidth:  qpString(qs, record.ClientParamPrefix+"sw"),
		ScreenHeight: qpString(qs, record.ClientParamPrefix+"sh"),
		CoresLogical: qpString(qs, record.ClientParamPrefix+"cores"),
		MemoryGB:     qpString(qs, record.ClientParamPrefix+"mem"),
		Platform:     qpString(qs, record.ClientParamPrefix+"platform"),
		Browser:      qpString(qs, record.ClientParamPrefix+"browser"),
		OS:           qpString(qs, record.ClientParamPrefix+"os"),
		Language:     qpString(qs, record.ClientParamPrefix+"lang"),
		Timezone:     qpString(qs, record.ClientParamPrefix+"tz"),
		NumberFormat: qpString(qs, record.ClientParamPrefix+"numfmt"),
		Calendar:     qpString(qs, record.ClientParamPrefix+"cal"),
		TouchPoints:  qpString(qs, record.ClientParamPrefix+"touch"),
		Battery:      qpString(qs, record.ClientParamPrefix+"battery"),
		WebDriver:    qpString(qs, record.ClientParamPrefix+"webdriver"),
		VoiceCount:   qpString(qs, record.ClientParamPrefix+"voices"),
		MousePath:    qpString(qs, record.ClientParamPrefix+"mpath"),
		UID:          qpString(qs, record.ClientParamPrefix+"uid"),
	}
}

// sweepGroup is one small batch of additional columns the "update
// sweeps" phase (spec.md §4.J phase 3) writes in its own statement,
// keeping any single UPDATE narrow even as the real column count grows
// toward the spec's ~200.
type sweepGroup struct {
	name    string
	columns []string
}

var sweepGroups = []sweepGroup{
	{name: "hardware", columns: []string{"screen_width", "screen_height", "cores_logical", "memory_gb"}},
	{name: "software", columns: []string{"platform", "browser", "os", "language"}},
	{name: "locale", columns: []string{"timezone", "number_format", "calendar"}},
	{name: "sensors", columns: []string{"touch_points", "battery", "webdriver", "voice_count"}},
	{name: "mouse", columns: []string{"mouse_entropy", "mouse_timing_cv", "mouse_speed_cv", "mouse_move_bucket"}},
}
