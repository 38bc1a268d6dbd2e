package astro

import (
	"math"
	"time"
)

// Planet identifies one of the naked-eye planets the celestial summary
// reports on.
type Planet string

const (
	Venus   Planet = "venus"
	Mars    Planet = "mars"
	Jupiter Planet = "jupiter"
	Saturn  Planet = "saturn"
)

// Planets lists the reported planets in brightness order.
var Planets = []Planet{Venus, Jupiter, Mars, Saturn}

// orbitalElements are Keplerian elements linear in days from J2000-ish
// epoch (d = JD - 2451543.5).
type orbitalElements struct {
	n0, nd float64 // longitude of ascending node
	i0, id float64 // inclination
	w0, wd float64 // argument of perihelion
	a      float64 // semi-major axis, AU
	e0, ed float64 // eccentricity
	m0, md float64 // mean anomaly
}

var planetElements = map[Planet]orbitalElements{
	Venus: {
		n0: 76.6799, nd: 2.46590e-5,
		i0: 3.3946, id: 2.75e-8,
		w0: 54.8910, wd: 1.38374e-5,
		a:  0.723330,
		e0: 0.006773, ed: -1.302e-9,
		m0: 48.0052, md: 1.6021302244,
	},
	Mars: {
		n0: 49.5574, nd: 2.11081e-5,
		i0: 1.8497, id: -1.78e-8,
		w0: 286.5016, wd: 2.92961e-5,
		a:  1.523688,
		e0: 0.093405, ed: 2.516e-9,
		m0: 18.6021, md: 0.5240207766,
	},
	Jupiter: {
		n0: 100.4542, nd: 2.76854e-5,
		i0: 1.3030, id: -1.557e-7,
		w0: 273.8777, wd: 1.64505e-5,
		a:  5.20256,
		e0: 0.048498, ed: 4.469e-9,
		m0: 19.8950, md: 0.0830853001,
	},
	Saturn: {
		n0: 113.6634, nd: 2.38980e-5,
		i0: 2.4886, id: -1.081e-7,
		w0: 339.3939, wd: 2.97661e-5,
		a:  9.55475,
		e0: 0.055546, ed: -9.499e-9,
		m0: 316.9670, md: 0.0334442282,
	},
}

// PlanetPosition calculates a planet's alt/az for an observer. The model
// ignores perturbations, so expect errors up to a degree or two for the
// outer planets; fine for "is that Jupiter" purposes.
func PlanetPosition(p Planet, lat, lon float64, t time.Time) HorizontalPosition {
	jd := julianDate(t)
	d := jd - 2451543.5

	px, py, pz := heliocentric(planetElements[p], d)
	ex, ey, ez := earthHeliocentric(d)

	// Geocentric ecliptic coordinates.
	gx, gy, gz := px-ex, py-ey, pz-ez
	lambda := rad2deg(math.Atan2(gy, gx))
	if lambda < 0 {
		lambda += 360
	}
	beta := rad2deg(math.Atan2(gz, math.Sqrt(gx*gx+gy*gy)))

	ra, dec := eclipticToEquatorial(lambda, beta, jd)
	return equatorialToHorizontal(ra, dec, lat, lon, t)
}

// heliocentric returns ecliptic xyz (AU) from Keplerian elements.
func heliocentric(el orbitalElements, d float64) (x, y, z float64) {
	n := deg2rad(math.Mod(el.n0+el.nd*d, 360))
	i := deg2rad(el.i0 + el.id*d)
	w := deg2rad(math.Mod(el.w0+el.wd*d, 360))
	e := el.e0 + el.ed*d
	m := deg2rad(math.Mod(el.m0+el.md*d+360*1000, 360))

	ea := solveKepler(m, e)

	// Position in the orbital plane.
	xv := el.a * (math.Cos(ea) - e)
	yv := el.a * math.Sqrt(1-e*e) * math.Sin(ea)
	v := math.Atan2(yv, xv)
	r := math.Sqrt(xv*xv + yv*yv)

	// Rotate into ecliptic coordinates.
	x = r * (math.Cos(n)*math.Cos(v+w) - math.Sin(n)*math.Sin(v+w)*math.Cos(i))
	y = r * (math.Sin(n)*math.Cos(v+w) + math.Cos(n)*math.Sin(v+w)*math.Cos(i))
	z = r * math.Sin(v+w) * math.Sin(i)
	return x, y, z
}

// earthHeliocentric derives Earth's position from the geocentric sun.
func earthHeliocentric(d float64) (x, y, z float64) {
	w := deg2rad(math.Mod(282.9404+4.70935e-5*d, 360))
	e := 0.016709 - 1.151e-9*d
	m := deg2rad(math.Mod(356.0470+0.9856002585*d+360*1000, 360))

	ea := solveKepler(m, e)
	xv := math.Cos(ea) - e
	yv := math.Sqrt(1-e*e) * math.Sin(ea)
	v := math.Atan2(yv, xv)
	r := math.Sqrt(xv*xv + yv*yv)

	// Geocentric sun longitude; Earth sits opposite.
	sunLon := v + w
	return -r * math.Cos(sunLon), -r * math.Sin(sunLon), 0
}

// solveKepler iterates E = M + e sin E. Converges in a handful of steps
// for planetary eccentricities.
func solveKepler(m, e float64) float64 {
	ea := m + e*math.Sin(m)*(1+e*math.Cos(m))
	for iter := 0; iter < 10; iter++ {
		delta := (ea - e*math.Sin(ea) - m) / (1 - e*math.Cos(ea))
		ea -= delta
		if math.Abs(delta) < 1e-8 {
			break
		}
	}
	return ea
}
