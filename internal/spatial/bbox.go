package spatial

import (
	"github.com/golang/geo/s2"

	"github.com/jengzang/trips-backend-go/internal/models"
)

// EmptyBox returns the inverted box of a trip without points.
// The sentinels lie outside any valid coordinate so the first point sets all four sides.
func EmptyBox() models.BoundingBox {
	return models.BoundingBox{
		LatMin: 100 * MicroScale,
		LatMax: -100 * MicroScale,
		LonMin: 360 * MicroScale,
		LonMax: -360 * MicroScale,
	}
}

// IsEmpty reports whether the box has never been widened
func IsEmpty(b models.BoundingBox) bool {
	return b.LatMin > b.LatMax || b.LonMin > b.LonMax
}

// Extend widens the box so it contains p
func Extend(b models.BoundingBox, p Micro) models.BoundingBox {
	b.LatMin = min(b.LatMin, p.Lat)
	b.LatMax = max(b.LatMax, p.Lat)
	b.LonMin = min(b.LonMin, p.Lgt)
	b.LonMax = max(b.LonMax, p.Lgt)
	return b
}

// Contains reports whether p lies inside the box
func Contains(b models.BoundingBox, p Micro) bool {
	return p.Lat >= b.LatMin && p.Lat <= b.LatMax && p.Lgt >= b.LonMin && p.Lgt <= b.LonMax
}

// Rect converts a non-empty box to an s2 rectangle in degrees
func Rect(b models.BoundingBox) (s2.Rect, bool) {
	if IsEmpty(b) {
		return s2.EmptyRect(), false
	}
	lo := Micro{Lat: b.LatMin, Lgt: b.LonMin}.LatLng()
	hi := Micro{Lat: b.LatMax, Lgt: b.LonMax}.LatLng()
	return s2.RectFromLatLng(lo).AddPoint(hi), true
}
