package track

import (
	"github.com/golang/geo/s2"

	"github.com/jengzang/trips-backend-go/internal/spatial"
)

// Simplify reduces vertices with the Douglas-Peucker algorithm. A vertex is dropped
// when it lies within toleranceMeters of the great-circle segment that replaces it.
// The endpoints are always kept.
func Simplify(vertices []Vertex, toleranceMeters float64) []Vertex {
	if len(vertices) < 3 || toleranceMeters <= 0 {
		return append([]Vertex(nil), vertices...)
	}

	points := make([]s2.Point, len(vertices))
	for i, v := range vertices {
		points[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(v.Lat, v.Lng))
	}

	keep := make([]bool, len(vertices))
	keep[0], keep[len(vertices)-1] = true, true

	// explicit stack of [first, last] ranges instead of recursion
	stack := [][2]int{{0, len(vertices) - 1}}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		first, last := r[0], r[1]
		if last-first < 2 {
			continue
		}

		maxDist, maxIndex := 0.0, 0
		for i := first + 1; i < last; i++ {
			d := s2.DistanceFromSegment(points[i], points[first], points[last]).Radians() * spatial.EarthRadiusMeters
			if d > maxDist {
				maxDist, maxIndex = d, i
			}
		}

		if maxDist > toleranceMeters {
			keep[maxIndex] = true
			stack = append(stack, [2]int{first, maxIndex}, [2]int{maxIndex, last})
		}
	}

	out := make([]Vertex, 0, len(vertices))
	for i, v := range vertices {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

// Simplified returns a copy of t whose vertices are simplified to toleranceMeters.
// Length, bounds and speeds still describe the full track.
func (t *Track) Simplified(toleranceMeters float64) *Track {
	c := *t
	c.Vertices = Simplify(t.Vertices, toleranceMeters)
	return &c
}
