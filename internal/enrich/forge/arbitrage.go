package forge

import "strings"

var cjkFontSubstrings = []string{"noto sans cjk", "microsoft yahei", "simsun", "msgothic", "malgun gothic"}
var cjkCountries = map[string]bool{"CN": true, "JP": true, "KR": true, "TW": true, "HK": true}

var languageCountryTable = map[string]string{
	"fr": "FR", "de": "DE", "es": "ES", "it": "IT", "ja": "JP",
	"zh": "CN", "ko": "KR", "pt": "BR", "ru": "RU", "nl": "NL",
}

var numberFormatCountryTable = map[string]string{
	"1,234.56": "US", "1.234,56": "DE", "1 234,56": "FR",
}

var calendarCountryTable = map[string]string{
	"gregorian": "", // universally consistent, never penalized
	"buddhist":  "TH",
	"japanese":  "JP",
	"hebrew":    "IL",
	"islamic":   "SA",
}

func primaryLanguage(lang string) string {
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		return strings.ToLower(lang[:idx])
	}
	return strings.ToLower(lang)
}

// Arbitrage scores geographic/cultural consistency starting at 100 and
// subtracting a fixed penalty per mismatch, per spec.md §4.H. English
// language is always treated as consistent with any country.
func Arbitrage(s Signals) int {
	score := 100

	if s.Timezone != "" && s.GeoCountry != "" {
		if tzCountry, ok := timezoneCountryTable[s.Timezone]; ok && !strings.EqualFold(tzCountry, s.GeoCountry) {
			score -= 15
		}
	}

	lang := primaryLanguage(s.Language)
	if lang != "" && lang != "en" && s.GeoCountry != "" {
		if want, ok := languageCountryTable[lang]; ok && !strings.EqualFold(want, s.GeoCountry) {
			score -= 15
		}
	}

	if hasCJKFont(s.Fonts) && s.GeoCountry != "" && !cjkCountries[strings.ToUpper(s.GeoCountry)] {
		score -= 10
	}

	if s.NumberFormat != "" && s.GeoCountry != "" {
		if want, ok := numberFormatCountryTable[s.NumberFormat]; ok && !strings.EqualFold(want, s.GeoCountry) {
			score -= 10
		}
	}

	if s.Calendar != "" && s.GeoCountry != "" {
		if want, ok := calendarCountryTable[strings.ToLower(s.Calendar)]; ok && want != "" && !strings.EqualFold(want, s.GeoCountry) {
			score -= 10
		}
	}

	if !containsFold(s.Platform, "mobile") && s.Platform != "" && s.VoiceCount == 0 {
		score -= 10
	}

	return clamp(score, 0, 100)
}

func hasCJKFont(fonts []string) bool {
	for _, f := range fonts {
		lower := strings.ToLower(f)
		for _, cjk := range cjkFontSubstrings {
			if strings.Contains(lower, cjk) {
				return true
			}
		}
	}
	return false
}
