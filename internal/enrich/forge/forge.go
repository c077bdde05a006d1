// Package forge implements the Forge-side Tier-2 and Tier-3 enrichments
// (spec.md §4.H): session stitching, cross-customer intelligence, lead
// quality, affluence, device-age estimation, a contradiction matrix,
// behavioral replay detection, cultural/geographic arbitrage, and a
// dead-internet index.
//
// All state is in-process and owned by the single Pipeline instance that
// creates it, one mutex-guarded map per concern, the same shape as the
// Edge-side fast enrichments in internal/enrich/fast.
package forge

import "sync"

// Signals is the decoded client-side fingerprint and behavioral payload
// a Forge enrichment pass operates on, assembled from a TrackingRecord's
// _cp_* parameters plus whatever _srv_* flags Fast Enrichments already
// set. Zero-valued fields are treated as "signal absent", not as zero.
type Signals struct {
	CompanyID   string
	PixelID     string
	IPAddress   string
	RequestPath string
	Fingerprint string

	CanvasHash  string
	WebGLHash   string
	AudioHash   string
	Fonts       []string
	GPURenderer string

	MousePath  string // "x,y,tMs|x,y,tMs|..."
	MouseMoves int

	ScreenWidth  int
	ScreenHeight int
	CoresLogical int
	MemoryGB     int
	Platform     string
	Browser      string
	OS           string
	Language     string
	Timezone     string
	NumberFormat string
	Calendar     string
	TouchPoints  int
	Battery      bool
	WebDriver    bool
	VoiceCount   int

	GeoCountry            string
	IsResidential         bool
	IsDatacenter          bool
	KnownBot              bool
	ConsistentFingerprint bool
}

// Pipeline owns every Forge-side in-process state table.
type Pipeline struct {
	sessions      *SessionStore
	crossCustomer *CrossCustomerTracker
	replay        *ReplayIndex
	deadInternet  *DeadInternetTracker

	mu sync.Mutex
}

// NewPipeline builds a Pipeline with all state tables initialized.
func NewPipeline() *Pipeline {
	return &Pipeline{
		sessions:      NewSessionStore(),
		crossCustomer: NewCrossCustomerTracker(),
		replay:        NewReplayIndex(),
		deadInternet:  NewDeadInternetTracker(5),
	}
}

// Result is everything a Forge enrichment pass computes for one hit.
type Result struct {
	SessionID              string
	SessionHitNum          int
	SessionPageCount       int
	SessionDurationSeconds int

	DistinctCompanies  int
	CrossCustomerAlert bool

	LeadQuality int

	AffluenceTier  string
	AffluenceScore int

	DeviceAgeYears   int
	DeviceAgeAnomaly bool

	ContradictionCount int
	ContradictionFlags []string

	ReplayDetected   bool
	MatchFingerprint string
	ReplayCount      int

	ArbitrageScore int

	DeadInternetIndex int
}

// Run executes every Tier-2/3 enrichment for one hit, in the order named
// in spec.md §4.H, and returns the aggregate Result.
func (p *Pipeline) Run(s Signals) Result {
	var r Result

	sess := p.sessions.Stitch(s.Fingerprint, s.RequestPath)
	r.SessionID, r.SessionHitNum = sess.ID, sess.HitNum
	r.SessionPageCount, r.SessionDurationSeconds = sess.PageCount, sess.DurationSeconds
	r.DistinctCompanies, r.CrossCustomerAlert = p.crossCustomer.Observe(s.IPAddress, s.Fingerprint, s.CompanyID)

	flags, count := Contradictions(s)
	r.ContradictionFlags = flags
	r.ContradictionCount = count

	r.ReplayDetected, r.MatchFingerprint, r.ReplayCount = p.replay.Observe(s.Fingerprint, s.MousePath)

	r.LeadQuality = LeadQuality(LeadSignals{
		ResidentialIP:         s.IsResidential,
		ConsistentFingerprint: s.ConsistentFingerprint,
		MouseEntropy:          mouseEntropy(s.MousePath),
		DistinctFontCount:     len(s.Fonts),
		CleanCanvas:           s.CanvasHash != "" && !r.ReplayDetected,
		TimezoneMatchesGeo:    timezoneMatchesCountry(s.Timezone, s.GeoCountry),
		SessionHitNumber:      r.SessionHitNum,
		KnownBot:              s.KnownBot,
		ContradictionCount:    r.ContradictionCount,
	})

	r.AffluenceTier, r.AffluenceScore = Affluence(s)
	r.DeviceAgeYears, r.DeviceAgeAnomaly = DeviceAge(s)
	r.ArbitrageScore = Arbitrage(s)

	r.DeadInternetIndex = p.deadInternet.Observe(s.CompanyID, DeadInternetSample{
		Bot:           s.KnownBot,
		NoMouseMoves:  s.MouseMoves == 0,
		Datacenter:    s.IsDatacenter,
		Contradiction: r.ContradictionCount > 0,
		Replay:        r.ReplayDetected,
		Fingerprint:   s.Fingerprint,
	})

	return r
}
