package forge

import (
	"strings"
	"time"
)

// gpuReleaseYearTable maps a renderer substring to its approximate
// release year, matched case-insensitively, first match wins.
var gpuReleaseYearTable = []struct {
	substr string
	year   int
}{
	{"rtx 40", 2022}, {"rtx 30", 2020}, {"rtx 20", 2018}, {"gtx 16", 2019},
	{"gtx 10", 2016}, {"radeon rx 7", 2022}, {"radeon rx 6", 2020},
	{"apple m3", 2023}, {"apple m2", 2022}, {"apple m1", 2020},
	{"intel iris", 2019}, {"intel hd", 2013},
}

var osReleaseYearTable = map[string]int{
	"windows 11": 2021, "windows 10": 2015, "windows 8": 2012, "windows 7": 2009,
	"macos sonoma": 2023, "macos ventura": 2022, "macos monterey": 2021,
	"ios 17": 2023, "ios 16": 2022, "android 14": 2023, "android 13": 2022,
	"ubuntu": 2020,
}

var browserReleaseYearTable = map[string]int{
	"chrome": 2023, "firefox": 2023, "safari": 2023, "edge": 2023,
}

func lookupYear(table map[string]int, s string) (int, bool) {
	lower := strings.ToLower(s)
	for k, y := range table {
		if strings.Contains(lower, k) {
			return y, true
		}
	}
	return 0, false
}

func gpuYear(renderer string) (int, bool) {
	lower := strings.ToLower(renderer)
	for _, e := range gpuReleaseYearTable {
		if strings.Contains(lower, e.substr) {
			return e.year, true
		}
	}
	return 0, false
}

// DeviceAge estimates the age, in years, of the oldest dated signal
// among GPU/OS/browser, and flags the anomaly conditions of spec.md
// §4.H.
func DeviceAge(s Signals) (years int, anomaly bool) {
	now := time.Now().Year()
	oldest := now
	found := false

	if y, ok := gpuYear(s.GPURenderer); ok {
		found = true
		if y < oldest {
			oldest = y
		}
	}
	if y, ok := lookupYear(osReleaseYearTable, s.OS); ok {
		found = true
		if y < oldest {
			oldest = y
		}
	}
	if y, ok := lookupYear(browserReleaseYearTable, s.Browser); ok {
		found = true
		if y < oldest {
			oldest = y
		}
	}
	if !found {
		return 0, false
	}
	years = now - oldest

	gpuY, gpuOK := gpuYear(s.GPURenderer)
	osY, osOK := lookupYear(osReleaseYearTable, s.OS)
	ageGap := 0
	if gpuOK && osOK {
		ageGap = abs(gpuY - osY)
	}

	isVirtualGPU := strings.Contains(strings.ToLower(s.GPURenderer), "swiftshader") ||
		strings.Contains(strings.ToLower(s.GPURenderer), "llvmpipe")

	switch {
	case years >= 5 && s.IsDatacenter && s.MouseMoves == 0:
		anomaly = true
	case ageGap > 5 && s.IsDatacenter:
		anomaly = true
	case isVirtualGPU && s.IsDatacenter && s.MouseMoves == 0:
		anomaly = true
	}
	return years, anomaly
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
