package forge

import "strings"

// gpuTierTable maps a renderer-string substring to a coarse tier score
// contribution; matched case-insensitively, first match wins.
var gpuTierTable = []struct {
	substr string
	score  int
}{
	{"rtx 40", 30}, {"rtx 30", 26}, {"rtx 20", 20}, {"radeon rx 7", 28},
	{"radeon rx 6", 22}, {"apple m3", 28}, {"apple m2", 24}, {"apple m1", 20},
	{"gtx 16", 14}, {"gtx 10", 10}, {"intel iris", 8}, {"intel hd", 4},
	{"swiftshader", 0}, {"llvmpipe", 0},
}

func gpuScore(renderer string) int {
	lower := strings.ToLower(renderer)
	for _, e := range gpuTierTable {
		if strings.Contains(lower, e.substr) {
			return e.score
		}
	}
	if renderer == "" {
		return 0
	}
	return 12 // unknown but present GPU string: assume mid-range
}

func coresScore(cores int) int {
	switch {
	case cores >= 16:
		return 15
	case cores >= 8:
		return 10
	case cores >= 4:
		return 5
	default:
		return 0
	}
}

func memoryScore(gb int) int {
	switch {
	case gb >= 32:
		return 15
	case gb >= 16:
		return 10
	case gb >= 8:
		return 5
	default:
		return 0
	}
}

func screenClassScore(w, h int) int {
	area := w * h
	switch {
	case area >= 3840*2160:
		return 15
	case area >= 2560*1440:
		return 10
	case area >= 1920*1080:
		return 5
	default:
		return 0
	}
}

func platformBonus(platform string) int {
	switch strings.ToLower(platform) {
	case "macintel", "macarm", "mac":
		return 10
	case "win32", "win64":
		return 5
	default:
		return 0
	}
}

// Affluence scores the device's hardware signals into 0..100 and maps
// the score to LOW/MID/HIGH at thresholds 30 and 60, per spec.md §4.H.
func Affluence(s Signals) (tier string, score int) {
	score = clamp(
		gpuScore(s.GPURenderer)+
			coresScore(s.CoresLogical)+
			memoryScore(s.MemoryGB)+
			screenClassScore(s.ScreenWidth, s.ScreenHeight)+
			platformBonus(s.Platform),
		0, 100)
	switch {
	case score >= 60:
		tier = "HIGH"
	case score >= 30:
		tier = "MID"
	default:
		tier = "LOW"
	}
	return tier, score
}
