package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// MicroScale is the fixed-point scale of stored coordinates
const MicroScale = 1e6

// Micro is a coordinate pair in integer micro-degrees
type Micro struct {
	Lat int
	Lgt int
}

// Quantize converts degrees to micro-degrees, rounding to the nearest unit.
// Every comparison and every stored coordinate must go through here.
func Quantize(lat, lon float64) Micro {
	return Micro{
		Lat: int(math.Round(lat * MicroScale)),
		Lgt: int(math.Round(lon * MicroScale)),
	}
}

// Degrees converts back to floating degrees
func (m Micro) Degrees() (lat, lon float64) {
	return float64(m.Lat) / MicroScale, float64(m.Lgt) / MicroScale
}

// LatLng returns the point as an s2 coordinate
func (m Micro) LatLng() s2.LatLng {
	lat, lon := m.Degrees()
	return s2.LatLngFromDegrees(lat, lon)
}

// ValidCoordinate reports whether lat/lon are finite and inside the valid ranges
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
