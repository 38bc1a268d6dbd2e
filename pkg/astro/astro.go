// Package astro computes observer-relative positions of the sun, moon and
// naked-eye planets. The algorithms are simplified (NOAA solar formulas,
// low-precision lunar series, Keplerian planet elements) and accurate to
// roughly a degree, which is enough to tell a witness "that bright light
// is Venus". Results are labelled with the model name so downstream
// consumers know no full ephemeris was involved.
package astro

import (
	"math"
	"time"
)

// Model identifies the computation model in emitted payloads.
const Model = "simplified"

// HorizontalPosition is an alt/az pair for one body at one instant.
type HorizontalPosition struct {
	AltitudeDeg float64
	AzimuthDeg  float64
}

// deg2rad converts degrees to radians.
func deg2rad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// rad2deg converts radians to degrees.
func rad2deg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// julianDate calculates the Julian Date from a time.Time.
func julianDate(t time.Time) float64 {
	t = t.UTC()
	year := t.Year()
	month := int(t.Month())
	day := t.Day()

	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	jd := float64(int(365.25*float64(year+4716))) +
		float64(int(30.6001*float64(month+1))) +
		float64(day+b) - 1524.5

	dayFraction := (float64(t.Hour()) + float64(t.Minute())/60.0 + float64(t.Second())/3600.0) / 24.0
	return jd + dayFraction
}

// greenwichSiderealDeg returns the Greenwich mean sidereal time in degrees.
func greenwichSiderealDeg(jd float64) float64 {
	jc := (jd - 2451545.0) / 36525.0
	gmst := math.Mod(280.46061837+360.98564736629*(jd-2451545.0)+
		0.000387933*jc*jc-jc*jc*jc/38710000.0, 360.0)
	if gmst < 0 {
		gmst += 360
	}
	return gmst
}

// equatorialToHorizontal converts (ra, dec) in degrees to alt/az for an
// observer at (lat, lon) at the given instant.
func equatorialToHorizontal(raDeg, decDeg, lat, lon float64, t time.Time) HorizontalPosition {
	jd := julianDate(t)
	lst := math.Mod(greenwichSiderealDeg(jd)+lon, 360.0)

	ha := lst - raDeg
	if ha < 0 {
		ha += 360
	}
	if ha > 180 {
		ha -= 360
	}

	latRad := deg2rad(lat)
	decRad := deg2rad(decDeg)
	haRad := deg2rad(ha)

	sinAlt := math.Sin(latRad)*math.Sin(decRad) + math.Cos(latRad)*math.Cos(decRad)*math.Cos(haRad)
	altitude := rad2deg(math.Asin(sinAlt))

	cosAz := (math.Sin(decRad) - math.Sin(latRad)*math.Sin(deg2rad(altitude))) /
		(math.Cos(latRad) * math.Cos(deg2rad(altitude)))
	if cosAz > 1.0 {
		cosAz = 1.0
	}
	if cosAz < -1.0 {
		cosAz = -1.0
	}
	azimuth := rad2deg(math.Acos(cosAz))
	if math.Sin(haRad) > 0 {
		azimuth = 360.0 - azimuth
	}

	return HorizontalPosition{AltitudeDeg: altitude, AzimuthDeg: azimuth}
}

// eclipticToEquatorial converts ecliptic (lambda, beta) in degrees to
// (ra, dec) in degrees using the mean obliquity at the given epoch.
func eclipticToEquatorial(lambdaDeg, betaDeg, jd float64) (raDeg, decDeg float64) {
	jc := (jd - 2451545.0) / 36525.0
	epsilon := 23.439291 - 0.0130042*jc

	lRad := deg2rad(lambdaDeg)
	bRad := deg2rad(betaDeg)
	eRad := deg2rad(epsilon)

	ra := math.Atan2(
		math.Sin(lRad)*math.Cos(eRad)-math.Tan(bRad)*math.Sin(eRad),
		math.Cos(lRad),
	)
	dec := math.Asin(math.Sin(bRad)*math.Cos(eRad) + math.Cos(bRad)*math.Sin(eRad)*math.Sin(lRad))

	raDeg = rad2deg(ra)
	if raDeg < 0 {
		raDeg += 360
	}
	return raDeg, rad2deg(dec)
}

// TwilightType names the light regime from the sun's altitude.
type TwilightType string

const (
	TwilightDay          TwilightType = "day"
	TwilightCivil        TwilightType = "civil_twilight"
	TwilightNautical     TwilightType = "nautical_twilight"
	TwilightAstronomical TwilightType = "astronomical_twilight"
	TwilightNight        TwilightType = "night"
)

// Twilight classifies the sun altitude against the standard -6/-12/-18
// degree thresholds.
func Twilight(sunAltitudeDeg float64) TwilightType {
	switch {
	case sunAltitudeDeg >= 0:
		return TwilightDay
	case sunAltitudeDeg >= -6:
		return TwilightCivil
	case sunAltitudeDeg >= -12:
		return TwilightNautical
	case sunAltitudeDeg >= -18:
		return TwilightAstronomical
	default:
		return TwilightNight
	}
}
