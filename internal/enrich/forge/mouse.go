package forge

import (
	"math"
	"strconv"
	"strings"
)

// mousePoint is one quantization step's worth of a client-reported mouse
// path sample: "x,y,tMs".
type mousePoint struct {
	x, y int
	t    int64
}

func parseMousePath(path string) []mousePoint {
	if path == "" {
		return nil
	}
	segs := strings.Split(path, "|")
	pts := make([]mousePoint, 0, len(segs))
	for _, seg := range segs {
		parts := strings.Split(seg, ",")
		if len(parts) != 3 {
			continue
		}
		x, errX := strconv.Atoi(parts[0])
		y, errY := strconv.Atoi(parts[1])
		t, errT := strconv.ParseInt(parts[2], 10, 64)
		if errX != nil || errY != nil || errT != nil {
			continue
		}
		pts = append(pts, mousePoint{x: x, y: y, t: t})
	}
	return pts
}

// mouseEntropy is a coarse Shannon entropy over the quantized direction
// of successive path segments, used as a crude bot-vs-human signal: a
// straight-line or absent path has near-zero entropy, organic movement
// spreads across more direction buckets.
func mouseEntropy(path string) float64 {
	pts := parseMousePath(path)
	if len(pts) < 2 {
		return 0
	}
	const buckets = 8
	counts := make([]int, buckets)
	total := 0
	for i := 1; i < len(pts); i++ {
		dx := float64(pts[i].x - pts[i-1].x)
		dy := float64(pts[i].y - pts[i-1].y)
		if dx == 0 && dy == 0 {
			continue
		}
		angle := math.Atan2(dy, dx)
		if angle < 0 {
			angle += 2 * math.Pi
		}
		b := int(angle / (2 * math.Pi / buckets))
		if b >= buckets {
			b = buckets - 1
		}
		counts[b]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// PathStats summarizes a raw client mouse path for downstream scoring:
// direction entropy, coefficient of variation of inter-point timing and
// speed, and the raw sample count.
type PathStats struct {
	Entropy  float64
	TimingCV float64
	SpeedCV  float64
	Moves    int
}

// MousePathStats computes PathStats over a "x,y,tMs|..." path string. ok
// is false when the path carries fewer than two parseable points, which
// downstream treats as "no mouse signal" rather than a zero score.
func MousePathStats(path string) (PathStats, bool) {
	pts := parseMousePath(path)
	if len(pts) < 2 {
		return PathStats{Moves: len(pts)}, false
	}
	gaps := make([]float64, 0, len(pts)-1)
	speeds := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		dt := float64(pts[i].t - pts[i-1].t)
		if dt <= 0 {
			dt = 1
		}
		dx := float64(pts[i].x - pts[i-1].x)
		dy := float64(pts[i].y - pts[i-1].y)
		gaps = append(gaps, dt)
		speeds = append(speeds, math.Hypot(dx, dy)/dt)
	}
	return PathStats{
		Entropy:  mouseEntropy(path),
		TimingCV: coefVariation(gaps),
		SpeedCV:  coefVariation(speeds),
		Moves:    len(pts),
	}, true
}

func coefVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}
	// Identical values have zero variation; computing it through the
	// rounded mean would leave a tiny nonzero residue.
	allEqual := true
	for _, x := range xs[1:] {
		if x != xs[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(xs))) / mean
}

func timezoneMatchesCountry(tz, country string) bool {
	if tz == "" || country == "" {
		return false
	}
	tzCountry, ok := timezoneCountryTable[tz]
	if !ok {
		return false
	}
	return strings.EqualFold(tzCountry, country)
}

// timezoneCountryTable maps a handful of common IANA zones to the
// country they overwhelmingly belong to; it is intentionally small,
// matching spec.md §4.H's "timezone matches geo" as a coarse signal, not
// an exhaustive tz database.
var timezoneCountryTable = map[string]string{
	"America/New_York":    "US",
	"America/Chicago":     "US",
	"America/Denver":      "US",
	"America/Los_Angeles": "US",
	"Europe/London":       "GB",
	"Europe/Paris":        "FR",
	"Europe/Berlin":       "DE",
	"Europe/Madrid":       "ES",
	"Europe/Rome":         "IT",
	"Asia/Tokyo":          "JP",
	"Asia/Shanghai":       "CN",
	"Asia/Kolkata":        "IN",
	"Australia/Sydney":    "AU",
}
