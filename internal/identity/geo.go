package identity

import "math"

const earthRadiusMeters = 6371000.0

// ProximityThresholdMeters is the maximum centroid distance spec.md
// §4.K accepts as a positive geo-proximity match.
const ProximityThresholdMeters = 692.0

// Bucket computes the coarse integer-bucket filter key (lat*100, lon*100)
// spec.md §4.K uses to narrow the geo-proximity candidate set before the
// more expensive haversine refinement.
func Bucket(lat, lon float64) (latBucket, lonBucket int) {
	return int(math.Round(lat * 100)), int(math.Round(lon * 100))
}

// NeighborBuckets returns bucket plus its eight neighbors (±1 in each
// axis), since two points within 692m can straddle a bucket boundary.
func NeighborBuckets(latBucket, lonBucket int) [][2]int {
	out := make([][2]int, 0, 9)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			out = append(out, [2]int{latBucket + dLat, lonBucket + dLon})
		}
	}
	return out
}

// HaversineMeters returns the great-circle distance between two
// lat/lon points in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// WithinProximity reports whether two points are within the spec's
// 692-meter positive-match threshold.
func WithinProximity(lat1, lon1, lat2, lon2 float64) bool {
	return HaversineMeters(lat1, lon1, lat2, lon2) <= ProximityThresholdMeters
}
