package scoring

import (
	"testing"
	"time"
)

func TestMouseAuthenticityZeroWhenBucketAbsent(t *testing.T) {
	got := MouseAuthenticity(MouseSignals{Entropy: 5, MoveCountBucketKnown: false})
	if got != 0 {
		t.Fatalf("expected 0 when move-count-bucket is unknown, got %d", got)
	}
}

func TestMouseAuthenticityClampedTo100(t *testing.T) {
	got := MouseAuthenticity(MouseSignals{
		Entropy:              10,
		TimingCV:             0,
		SpeedCV:              0,
		MoveCountBucket:      10,
		MoveCountBucketKnown: true,
		Replayed:             false,
		ScrollContradiction:  false,
	})
	if got != 100 {
		t.Fatalf("expected clamp to 100, got %d", got)
	}
}

func TestMouseAuthenticityReplayedLosesBonus(t *testing.T) {
	base := MouseSignals{Entropy: 1, MoveCountBucket: 1, MoveCountBucketKnown: true}
	withReplay := base
	withReplay.Replayed = true
	if MouseAuthenticity(withReplay) >= MouseAuthenticity(base) {
		t.Fatalf("expected a replayed path to score no higher than a fresh one")
	}
}

func TestSessionQualityMultiPageBonus(t *testing.T) {
	single := SessionQuality(SessionSignals{PageCount: 1, DurationSeconds: 10, MultiPage: false})
	multi := SessionQuality(SessionSignals{PageCount: 1, DurationSeconds: 10, MultiPage: true})
	if multi != single+20 {
		t.Fatalf("expected multi-page bonus of 20, got delta %d", multi-single)
	}
}

func TestSessionQualityClampedTo100(t *testing.T) {
	got := SessionQuality(SessionSignals{PageCount: 100, DurationSeconds: 10000, MultiPage: true})
	if got != 100 {
		t.Fatalf("expected clamp to 100, got %d", got)
	}
}

func TestCompositeQualityPerfectInputsClampTo100(t *testing.T) {
	got := CompositeQuality(CompositeSignals{
		BotScore:            0,
		MouseAuthenticity:   100,
		SessionQuality:      100,
		LeadQuality:         100,
		CulturalConsistency: 100,
		ContradictionFree:   true,
		AffluenceTier:       "HIGH",
	})
	if got != 100 {
		t.Fatalf("expected clamp to 100, got %d", got)
	}
}

func TestCompositeQualityHighBotScoreDragsDownInvertedWeight(t *testing.T) {
	clean := CompositeQuality(CompositeSignals{BotScore: 0, MouseAuthenticity: 50, SessionQuality: 50, LeadQuality: 50, CulturalConsistency: 50})
	bot := CompositeQuality(CompositeSignals{BotScore: 100, MouseAuthenticity: 50, SessionQuality: 50, LeadQuality: 50, CulturalConsistency: 50})
	if bot >= clean {
		t.Fatalf("expected a maximal bot score to reduce composite quality, clean=%d bot=%d", clean, bot)
	}
}

func TestCompositeQualityAffluenceBonusOrdering(t *testing.T) {
	low := CompositeQuality(CompositeSignals{AffluenceTier: "LOW"})
	mid := CompositeQuality(CompositeSignals{AffluenceTier: "MID"})
	high := CompositeQuality(CompositeSignals{AffluenceTier: "HIGH"})
	if !(low <= mid && mid <= high) {
		t.Fatalf("expected affluence bonus to order LOW <= MID <= HIGH, got %d %d %d", low, mid, high)
	}
}

func TestTouchedPeriodsDedupesAcrossSharedWeekAndMonth(t *testing.T) {
	d1, err := time.Parse("2006-01-02", "2026-07-27") // Monday
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d2, err := time.Parse("2006-01-02", "2026-07-28") // same week, same month
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	daily, weekly, monthly := TouchedPeriods([]time.Time{d1, d2})
	if len(daily) != 2 {
		t.Fatalf("expected 2 distinct days, got %d", len(daily))
	}
	if len(weekly) != 1 {
		t.Fatalf("expected both days to fold into 1 week, got %d", len(weekly))
	}
	if len(monthly) != 1 {
		t.Fatalf("expected both days to fold into 1 month, got %d", len(monthly))
	}
}
