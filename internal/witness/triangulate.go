package witness

import (
	"math"
	"time"
)

// Point is a triangulated position estimate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WitnessPoint is one witness's observation used for triangulation.
type WitnessPoint struct {
	Lat        float64
	Lon        float64
	BearingDeg *float64
	Timestamp  time.Time
}

// sightLine is a bearing ray in a local flat plane with x=lon, y=lat in
// degrees. The flat-plane treatment is a deliberate approximation: over
// the tens of kilometres witnesses span, degree-space lines are close
// enough to great circles for a position estimate.
type sightLine struct {
	x, y   float64
	dx, dy float64
}

func lineFor(p WitnessPoint) sightLine {
	b := *p.BearingDeg * math.Pi / 180
	return sightLine{x: p.Lon, y: p.Lat, dx: math.Sin(b), dy: math.Cos(b)}
}

// intersect solves two bearing lines analytically. Returns false for
// near-parallel lines.
func intersect(a, b sightLine) (Point, bool) {
	det := b.dx*a.dy - a.dx*b.dy
	if math.Abs(det) < 1e-9 {
		return Point{}, false
	}
	t := (b.dx*(b.y-a.y) - b.dy*(b.x-a.x)) / det
	return Point{Lat: a.y + t*a.dy, Lon: a.x + t*a.dx}, true
}

// Triangulate estimates the observed object's position from witness
// bearing lines. It needs at least two witnesses carrying bearings; for
// more than two lines it intersects every pair and returns the centroid
// of the intersections. Returns nil when no estimate is possible.
func Triangulate(points []WitnessPoint) *Point {
	var lines []sightLine
	for _, p := range points {
		if p.BearingDeg != nil {
			lines = append(lines, lineFor(p))
		}
	}
	if len(lines) < 2 {
		return nil
	}

	var sumLat, sumLon float64
	n := 0
	for i := 0; i < len(lines); i++ {
		for j := i + 1; j < len(lines); j++ {
			pt, ok := intersect(lines[i], lines[j])
			if !ok {
				continue
			}
			sumLat += pt.Lat
			sumLon += pt.Lon
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &Point{Lat: sumLat / float64(n), Lon: sumLon / float64(n)}
}
