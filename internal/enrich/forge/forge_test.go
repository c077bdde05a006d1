package forge

import "testing"

func TestContradictionsAllNullYieldsZero(t *testing.T) {
	flags, count := Contradictions(Signals{})
	if count != 0 {
		t.Fatalf("expected 0 contradictions on an all-null snapshot, got %d (%v)", count, flags)
	}
	if len(flags) != 0 {
		t.Fatalf("expected an empty flag list, got %v", flags)
	}
}

func TestContradictionsWindowsSafari(t *testing.T) {
	flags, count := Contradictions(Signals{OS: "Windows 10", Browser: "Safari"})
	if count == 0 {
		t.Fatalf("expected at least one contradiction for Windows+Safari")
	}
	found := false
	for _, f := range flags {
		if f == "WindowsSafari" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected WindowsSafari flag, got %v", flags)
	}
}

func TestLeadQualityClampedTo100(t *testing.T) {
	score := LeadQuality(LeadSignals{
		ResidentialIP: true, ConsistentFingerprint: true, MouseEntropy: 3,
		DistinctFontCount: 5, CleanCanvas: true, TimezoneMatchesGeo: true,
		SessionHitNumber: 5, KnownBot: false, ContradictionCount: 0,
	})
	if score != 100 {
		t.Fatalf("expected every signal on to clamp at 100, got %d", score)
	}
}

func TestLeadQualityZeroSignals(t *testing.T) {
	score := LeadQuality(LeadSignals{KnownBot: true})
	if score != 10 {
		// zero contradictions still scores +10; every other signal is absent/negative
		t.Fatalf("expected 10 (zero-contradiction bonus only), got %d", score)
	}
}

func TestReplaySymmetricInDigestAsymmetricInFingerprint(t *testing.T) {
	idx := NewReplayIndex()
	path := "100,200,0|150,250,100|200,300,200"

	detected, match, count := idx.Observe("fpA", path)
	if detected {
		t.Fatalf("first presentation of a digest must not be flagged as replay")
	}

	detected, match, count = idx.Observe("fpB", path)
	if !detected {
		t.Fatalf("second, different-fingerprint presentation of the same digest must be flagged as replay")
	}
	if match != "fpA" {
		t.Fatalf("expected match fingerprint fpA, got %s", match)
	}
	if count != 1 {
		t.Fatalf("expected replay_count=1, got %d", count)
	}

	// Same fingerprint repeating its own path is not a replay of itself.
	detected, _, _ = idx.Observe("fpA", path)
	if detected {
		t.Fatalf("a fingerprint replaying its own path must not be flagged")
	}
}

func TestReplayIgnoresShortPaths(t *testing.T) {
	idx := NewReplayIndex()
	idx.Observe("fpA", "100,200,0|101,201,10")
	detected, _, _ := idx.Observe("fpB", "100,200,0|101,201,10")
	if detected {
		t.Fatalf("paths below the length threshold must be ignored entirely")
	}
}

func TestSessionStitchConsecutiveHitsShareSession(t *testing.T) {
	s := NewSessionStore()
	s1 := s.Stitch("fp1", "/a")
	s2 := s.Stitch("fp1", "/b")
	if s1.ID != s2.ID {
		t.Fatalf("expected the same session id for consecutive hits, got %s and %s", s1.ID, s2.ID)
	}
	if s1.HitNum != 1 || s2.HitNum != 2 {
		t.Fatalf("expected hit numbers 1 then 2, got %d then %d", s1.HitNum, s2.HitNum)
	}
}

func TestSessionStitchRevisitDoesNotDoubleCountPages(t *testing.T) {
	s := NewSessionStore()
	s.Stitch("fp1", "/a")
	s.Stitch("fp1", "/b")
	got := s.Stitch("fp1", "/a")
	if got.PageCount != 2 {
		t.Fatalf("expected 2 distinct pages after revisiting /a, got %d", got.PageCount)
	}
	if got.HitNum != 3 {
		t.Fatalf("expected hit number 3, got %d", got.HitNum)
	}
}

func TestMousePathStatsAbsentBelowTwoPoints(t *testing.T) {
	if _, ok := MousePathStats(""); ok {
		t.Fatalf("expected no stats for an empty path")
	}
	if _, ok := MousePathStats("100,200,0"); ok {
		t.Fatalf("expected no stats for a single-point path")
	}
}

func TestMousePathStatsSteadyLineHasLowVariation(t *testing.T) {
	stats, ok := MousePathStats("0,0,0|10,0,100|20,0,200|30,0,300")
	if !ok {
		t.Fatalf("expected stats for a four-point path")
	}
	if stats.Moves != 4 {
		t.Fatalf("expected 4 moves, got %d", stats.Moves)
	}
	if stats.TimingCV != 0 || stats.SpeedCV != 0 {
		t.Fatalf("expected zero variation on a perfectly steady line, got timing %v speed %v", stats.TimingCV, stats.SpeedCV)
	}
	if stats.Entropy != 0 {
		t.Fatalf("expected zero entropy for a single-direction path, got %v", stats.Entropy)
	}
}

func TestCrossCustomerAlertThreshold(t *testing.T) {
	c := NewCrossCustomerTracker()
	var distinct int
	var alert bool
	for _, company := range []string{"A", "B", "C"} {
		distinct, alert = c.Observe("198.51.100.5", "fpX", company)
	}
	if distinct != 3 {
		t.Fatalf("expected 3 distinct companies, got %d", distinct)
	}
	if !alert {
		t.Fatalf("expected an alert once distinct companies reached the threshold")
	}
}

func TestAffluenceTierBoundaries(t *testing.T) {
	tier, score := Affluence(Signals{})
	if tier != "LOW" || score != 0 {
		t.Fatalf("expected LOW/0 for an empty signal set, got %s/%d", tier, score)
	}

	tier, score = Affluence(Signals{GPURenderer: "NVIDIA RTX 4090", CoresLogical: 16, MemoryGB: 32, ScreenWidth: 3840, ScreenHeight: 2160, Platform: "MacIntel"})
	if tier != "HIGH" {
		t.Fatalf("expected HIGH for a maxed-out signal set, got %s (score %d)", tier, score)
	}
}

func TestDeadInternetRequiresMinimumSamples(t *testing.T) {
	d := NewDeadInternetTracker(5)
	var idx int
	for i := 0; i < 4; i++ {
		idx = d.Observe("acme", DeadInternetSample{Bot: true, Fingerprint: "fp1"})
	}
	if idx != 0 {
		t.Fatalf("expected index 0 before the minimum sample count is reached, got %d", idx)
	}
	idx = d.Observe("acme", DeadInternetSample{Bot: true, Fingerprint: "fp1"})
	if idx == 0 {
		t.Fatalf("expected a non-zero index once the minimum sample count is reached with all-bot traffic")
	}
}

func TestArbitrageEnglishAlwaysConsistent(t *testing.T) {
	score := Arbitrage(Signals{Language: "en-US", GeoCountry: "JP", Timezone: "Asia/Tokyo"})
	if score != 100 {
		t.Fatalf("expected English to never incur a language mismatch penalty, got %d", score)
	}
}

func TestDeviceAgeAnomalyDatacenterNoMouse(t *testing.T) {
	years, anomaly := DeviceAge(Signals{OS: "Windows 7", IsDatacenter: true, MouseMoves: 0})
	if years == 0 {
		t.Fatalf("expected a non-zero age estimate from a Windows 7 signal")
	}
	if !anomaly {
		t.Fatalf("expected an anomaly flag for an old device on a datacenter IP with no mouse activity")
	}
}
