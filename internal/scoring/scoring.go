// Package scoring implements the Scoring stage (spec.md §4.L):
// per-visit composite quality materialization plus per-customer
// daily/weekly/monthly rollups, recomputed only for touched periods.
package scoring

// MouseSignals feeds the mouse-authenticity score.
type MouseSignals struct {
	Entropy              float64
	TimingCV             float64 // coefficient of variation of inter-point timing
	SpeedCV              float64 // coefficient of variation of inter-point speed
	MoveCountBucket      int     // 0 when move-count-bucket is absent
	MoveCountBucketKnown bool
	Replayed             bool
	ScrollContradiction  bool
}

// MouseAuthenticity is additive, 0..100, zero when move-count-bucket is
// absent per spec.md §4.L.
func MouseAuthenticity(s MouseSignals) int {
	if !s.MoveCountBucketKnown {
		return 0
	}
	score := 0
	score += clamp(int(s.Entropy*10), 0, 30)
	score += clamp(int((1-s.TimingCV)*20), 0, 20)
	score += clamp(int((1-s.SpeedCV)*15), 0, 15)
	score += clamp(s.MoveCountBucket*3, 0, 15)
	if !s.Replayed {
		score += 10
	}
	if !s.ScrollContradiction {
		score += 10
	}
	return clamp(score, 0, 100)
}

// SessionSignals feeds the session-quality score.
type SessionSignals struct {
	PageCount       int
	DurationSeconds int
	MultiPage       bool
}

// SessionQuality is additive, 0..100.
func SessionQuality(s SessionSignals) int {
	score := clamp(s.PageCount*8, 0, 40)
	score += clamp(s.DurationSeconds/10, 0, 40)
	if s.MultiPage {
		score += 20
	}
	return clamp(score, 0, 100)
}

// CompositeSignals is everything CompositeQuality weighs together.
type CompositeSignals struct {
	BotScore            int // 0..100, higher means more bot-like
	MouseAuthenticity   int
	SessionQuality      int
	LeadQuality         int
	CulturalConsistency int // the arbitrage score, 0..100
	ContradictionFree   bool
	AffluenceTier       string // "LOW", "MID", "HIGH"
}

// CompositeQuality is the weighted sum spec.md §4.L names, clamped to
// 0..100.
func CompositeQuality(s CompositeSignals) int {
	invertedBot := 100 - s.BotScore
	score := float64(invertedBot)*0.25 +
		float64(s.MouseAuthenticity)*0.20 +
		float64(s.SessionQuality)*0.15 +
		float64(s.LeadQuality)*0.15 +
		float64(s.CulturalConsistency)*0.10

	if s.ContradictionFree {
		score += 100 * 0.10
	}
	switch s.AffluenceTier {
	case "HIGH":
		score += 5
	case "MID":
		score += 3
	}
	return clamp(int(score), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
