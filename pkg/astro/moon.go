package astro

import (
	"math"
	"time"
)

// MoonPhase names, in order around the synodic cycle.
const (
	PhaseNew            = "new"
	PhaseWaxingCrescent = "waxing_crescent"
	PhaseFirstQuarter   = "first_quarter"
	PhaseWaxingGibbous  = "waxing_gibbous"
	PhaseFull           = "full"
	PhaseWaningGibbous  = "waning_gibbous"
	PhaseLastQuarter    = "last_quarter"
	PhaseWaningCrescent = "waning_crescent"
)

// MoonInfo is the moon's observer-relative state at one instant.
type MoonInfo struct {
	Position     HorizontalPosition
	PhaseName    string
	Illumination float64 // fraction of the disc lit, [0, 1]
}

// MoonPosition calculates the moon's alt/az, phase name and illuminated
// fraction. Low-precision lunar series, accurate to about a degree.
func MoonPosition(lat, lon float64, t time.Time) MoonInfo {
	jd := julianDate(t)
	d := jd - 2451545.0

	// Mean elements (degrees).
	L := math.Mod(218.316+13.176396*d, 360.0)  // mean longitude
	M := math.Mod(134.963+13.064993*d, 360.0)  // mean anomaly
	F := math.Mod(93.272+13.229350*d, 360.0)   // argument of latitude

	lambda := L + 6.289*math.Sin(deg2rad(M))
	beta := 5.128 * math.Sin(deg2rad(F))

	ra, dec := eclipticToEquatorial(lambda, beta, jd)
	pos := equatorialToHorizontal(ra, dec, lat, lon, t)

	// Elongation from the sun drives phase and illumination.
	elongation := math.Mod(lambda-sunEclipticLongitude(jd)+360, 360)
	illumination := (1 - math.Cos(deg2rad(elongation))) / 2

	return MoonInfo{
		Position:     pos,
		PhaseName:    phaseName(elongation),
		Illumination: illumination,
	}
}

// phaseName buckets the sun-moon elongation into the eight common phase
// names. The quarter phases get a band of ~22.5 degrees each.
func phaseName(elongationDeg float64) string {
	switch {
	case elongationDeg < 11.25 || elongationDeg >= 348.75:
		return PhaseNew
	case elongationDeg < 78.75:
		return PhaseWaxingCrescent
	case elongationDeg < 101.25:
		return PhaseFirstQuarter
	case elongationDeg < 168.75:
		return PhaseWaxingGibbous
	case elongationDeg < 191.25:
		return PhaseFull
	case elongationDeg < 258.75:
		return PhaseWaningGibbous
	case elongationDeg < 281.25:
		return PhaseLastQuarter
	default:
		return PhaseWaningCrescent
	}
}
