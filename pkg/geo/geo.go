// Package geo provides the spherical-geometry primitives the alert network
// is built on: great-circle distance, initial bearing, bounding boxes and
// angular separation between pointing directions. All angles are in degrees
// and all positions use WGS84 decimal degrees.
package geo

import (
	"fmt"
	"math"
)

const (
	// DegreesToRadians converts degrees to radians.
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees.
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers.
	EarthRadiusKm = 6371.0

	// kmPerDegreeLat is the approximate north-south extent of one degree
	// of latitude. Used for bounding-box construction.
	kmPerDegreeLat = 111.32
)

// InputError reports a malformed or out-of-range geographic input.
type InputError struct {
	Field string
	Value float64
}

func (e *InputError) Error() string {
	return fmt.Sprintf("geo: invalid %s: %g", e.Field, e.Value)
}

// ValidateLatLon checks that a coordinate pair is within valid ranges.
func ValidateLatLon(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &InputError{Field: "latitude", Value: lat}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return &InputError{Field: "longitude", Value: lon}
	}
	return nil
}

// ValidateElevation checks that an elevation angle is within [-90, 90].
func ValidateElevation(deg float64) error {
	if math.IsNaN(deg) || deg < -90 || deg > 90 {
		return &InputError{Field: "elevation", Value: deg}
	}
	return nil
}

// NormalizeAzimuth wraps an azimuth into the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// DistanceKm calculates the great-circle distance between two points using
// the haversine formula on a 6371 km sphere.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * DegreesToRadians
	lon1Rad := lon1 * DegreesToRadians
	lat2Rad := lat2 * DegreesToRadians
	lon2Rad := lon2 * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// BearingDeg calculates the initial bearing (forward azimuth) from one
// point to another along the great circle. Returns degrees in [0, 360),
// where 0 = North, 90 = East.
func BearingDeg(fromLat, fromLon, toLat, toLon float64) float64 {
	lat1 := fromLat * DegreesToRadians
	lon1 := fromLon * DegreesToRadians
	lat2 := toLat * DegreesToRadians
	lon2 := toLon * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return NormalizeAzimuth(bearing)
}

// AngularSeparationDeg computes the angle between two pointing directions,
// each given as (azimuth, elevation) in degrees. The directions are mapped
// to unit vectors and the dot product is clamped to [-1, 1] before arccos
// to guard against floating-point drift near parallel directions.
func AngularSeparationDeg(az1, el1, az2, el2 float64) (float64, error) {
	az1 = NormalizeAzimuth(az1)
	az2 = NormalizeAzimuth(az2)
	if err := ValidateElevation(el1); err != nil {
		return 0, err
	}
	if err := ValidateElevation(el2); err != nil {
		return 0, err
	}

	a1 := az1 * DegreesToRadians
	e1 := el1 * DegreesToRadians
	a2 := az2 * DegreesToRadians
	e2 := el2 * DegreesToRadians

	// Unit vectors in local ENU-style coordinates (x east, y north, z up).
	x1, y1, z1 := math.Cos(e1)*math.Sin(a1), math.Cos(e1)*math.Cos(a1), math.Sin(e1)
	x2, y2, z2 := math.Cos(e2)*math.Sin(a2), math.Cos(e2)*math.Cos(a2), math.Sin(e2)

	dot := x1*x2 + y1*y2 + z1*z2
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}

	return math.Acos(dot) * RadiansToDegrees, nil
}

// BoundingBox is an inclusive latitude/longitude window around a center.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether a point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// BBox returns the bounding box covering a radius around a center point.
// Longitude extent scales with 1/cos(lat); near the poles the box widens
// to the full longitude range rather than inverting.
func BBox(lat, lon, radiusKm float64) (BoundingBox, error) {
	if err := ValidateLatLon(lat, lon); err != nil {
		return BoundingBox{}, err
	}
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return BoundingBox{}, &InputError{Field: "radius_km", Value: radiusKm}
	}

	dLat := radiusKm / kmPerDegreeLat

	cosLat := math.Cos(lat * DegreesToRadians)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = radiusKm / (kmPerDegreeLat * cosLat)
	}

	box := BoundingBox{
		MinLat: math.Max(lat-dLat, -90),
		MaxLat: math.Min(lat+dLat, 90),
		MinLon: math.Max(lon-dLon, -180),
		MaxLon: math.Min(lon+dLon, 180),
	}
	return box, nil
}

// ElevationDeg computes the elevation angle from an observer to a target
// given the altitude difference in meters and the ground distance in meters.
func ElevationDeg(altitudeDiffM, groundDistanceM float64) float64 {
	return math.Atan2(altitudeDiffM, groundDistanceM) * RadiansToDegrees
}
