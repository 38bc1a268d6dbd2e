package astro

import (
	"math"
	"time"
)

// SunPosition calculates the sun's alt/az for an observer.
// Based on NOAA solar calculator algorithms, accurate to about an
// arcminute.
func SunPosition(lat, lon float64, t time.Time) HorizontalPosition {
	jd := julianDate(t)
	ra, dec := sunEquatorial(jd)

	pos := equatorialToHorizontal(ra, dec, lat, lon, t)

	// Atmospheric refraction correction near and above the horizon.
	altitude := pos.AltitudeDeg
	if altitude > -0.833 && altitude < 85.0 {
		tanAlt := math.Tan(deg2rad(altitude))
		refraction := 0.0
		if altitude > 5.0 {
			refraction = 58.1/tanAlt - 0.07/(tanAlt*tanAlt*tanAlt) + 0.000086/(tanAlt*tanAlt*tanAlt*tanAlt*tanAlt)
		} else if altitude > -0.575 {
			refraction = 1735.0 + altitude*(-518.2+altitude*(103.4+altitude*(-12.79+altitude*0.711)))
		}
		pos.AltitudeDeg = altitude + refraction/3600.0
	}

	return pos
}

// sunEquatorial returns the sun's (ra, dec) in degrees at the given
// Julian date.
func sunEquatorial(jd float64) (raDeg, decDeg float64) {
	jc := (jd - 2451545.0) / 36525.0

	// Geometric mean longitude and mean anomaly (degrees).
	L0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)
	M := 357.52911 + jc*(35999.05029-0.0001537*jc)
	Mrad := deg2rad(M)

	// Equation of center.
	C := math.Sin(Mrad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*Mrad)*(0.019993-0.000101*jc) +
		math.Sin(3*Mrad)*0.000289

	sunTrueLong := L0 + C

	// Apparent longitude, corrected for aberration and nutation.
	omega := 125.04 - 1934.136*jc
	lambda := sunTrueLong - 0.00569 - 0.00478*math.Sin(deg2rad(omega))

	// Obliquity of the ecliptic.
	epsilon0 := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813))))/60.0/60.0
	epsilon := epsilon0 + 0.00256*math.Cos(deg2rad(omega))

	lambdaRad := deg2rad(lambda)
	epsilonRad := deg2rad(epsilon)

	ra := rad2deg(math.Atan2(math.Cos(epsilonRad)*math.Sin(lambdaRad), math.Cos(lambdaRad)))
	if ra < 0 {
		ra += 360
	}
	dec := rad2deg(math.Asin(math.Sin(epsilonRad) * math.Sin(lambdaRad)))

	return ra, dec
}

// sunEclipticLongitude returns the sun's apparent ecliptic longitude in
// degrees. The moon phase calculation needs it for elongation.
func sunEclipticLongitude(jd float64) float64 {
	jc := (jd - 2451545.0) / 36525.0

	L0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)
	M := 357.52911 + jc*(35999.05029-0.0001537*jc)
	Mrad := deg2rad(M)

	C := math.Sin(Mrad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*Mrad)*(0.019993-0.000101*jc) +
		math.Sin(3*Mrad)*0.000289

	return math.Mod(L0+C+360, 360)
}

// IsAboveHorizon reports whether an altitude clears the apparent horizon,
// accounting for the solar radius and typical refraction.
func IsAboveHorizon(altitudeDeg float64) bool {
	return altitudeDeg > -0.833
}
