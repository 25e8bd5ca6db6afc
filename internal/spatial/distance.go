package spatial

import (
	"github.com/golang/geo/s2"
)

// Distance returns the great-circle distance in meters between two quantized points
func Distance(a, b Micro) float64 {
	return a.LatLng().Distance(b.LatLng()).Radians() * EarthRadiusMeters
}

// PolylineLength returns the length in meters of the path through the given points
func PolylineLength(points []s2.LatLng) float64 {
	if len(points) < 2 {
		return 0
	}
	return s2.PolylineFromLatLngs(points).Length().Radians() * EarthRadiusMeters
}

// EarthRadiusMeters is Earth's mean radius
const EarthRadiusMeters = 6371000.0
