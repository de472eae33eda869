package geospatial

import (
	"math"

	"github.com/paulmach/orb"
)

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// BoundSize returns the east-west and north-south extent of a bound in meters.
// Width is measured along the bound's middle latitude.
func BoundSize(b orb.Bound) (width, height float64) {
	midLat := (b.Min[1] + b.Max[1]) / 2
	width = Haversine(midLat, b.Min[0], midLat, b.Max[0])
	height = Haversine(b.Min[1], b.Min[0], b.Max[1], b.Min[0])
	return width, height
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
