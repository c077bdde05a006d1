package fast

import (
	"regexp"
	"strings"

	"github.com/gravwell/pixelforge/internal/record"
)

// botMatcher holds the compiled known-bot substring patterns for
// enrichment 8.
type botMatcher struct {
	patterns []namedPattern
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

func newBotMatcher() *botMatcher {
	names := []string{
		"Googlebot", "Bingbot", "Slurp", "DuckDuckBot", "Baiduspider",
		"YandexBot", "facebookexternalhit", "Twitterbot", "LinkedInBot",
		"AhrefsBot", "SemrushBot", "MJ12bot", "PetalBot", "curl", "python-requests",
	}
	pats := make([]namedPattern, 0, len(names))
	for _, n := range names {
		pats = append(pats, namedPattern{name: n, re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(n))})
	}
	return &botMatcher{patterns: pats}
}

func (p *Pipeline) runKnownBot(rec *record.TrackingRecord, fp Fingerprint) {
	ua := strings.TrimSpace(fp.UserAgent)
	if ua == `` {
		p.Stats.skip(8)
		return
	}
	for _, pat := range p.knownBot.patterns {
		if pat.re.MatchString(ua) {
			appendFlag(rec, "_srv_knownBot")
			appendParam(rec, "_srv_botName", pat.name)
			return
		}
	}
}
