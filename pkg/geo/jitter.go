package geo

import (
	"math"
	"math/rand"
	"sync"
)

// Jitterer perturbs coordinates for privacy before they are persisted or
// surfaced. The jittered point is drawn uniformly over a disc between
// MinRadiusM and MaxRadiusM around the true position, so the original
// location cannot be recovered from repeated reads.
type Jitterer struct {
	// MinRadiusM is the minimum displacement in meters (default 100).
	MinRadiusM float64

	// MaxRadiusM is the maximum displacement in meters (default 300).
	MaxRadiusM float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitterer creates a jitterer with the given displacement bounds.
// Zero values fall back to the 100 m / 300 m defaults.
func NewJitterer(minRadiusM, maxRadiusM float64) *Jitterer {
	if minRadiusM <= 0 {
		minRadiusM = 100
	}
	if maxRadiusM <= minRadiusM {
		maxRadiusM = minRadiusM + 200
	}
	return &Jitterer{
		MinRadiusM: minRadiusM,
		MaxRadiusM: maxRadiusM,
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewSeededJitterer creates a deterministic jitterer for tests.
func NewSeededJitterer(minRadiusM, maxRadiusM float64, seed int64) *Jitterer {
	j := NewJitterer(minRadiusM, maxRadiusM)
	j.rng = rand.New(rand.NewSource(seed))
	return j
}

// Jitter returns a perturbed coordinate pair. The displacement distance is
// uniform in [MinRadiusM, MaxRadiusM] and the direction uniform in [0, 2π).
// Longitude displacement scales with 1/cos(lat); both outputs are clamped
// to valid coordinate ranges.
func (j *Jitterer) Jitter(lat, lon float64) (float64, float64, error) {
	if err := ValidateLatLon(lat, lon); err != nil {
		return 0, 0, err
	}

	j.mu.Lock()
	distanceM := j.MinRadiusM + j.rng.Float64()*(j.MaxRadiusM-j.MinRadiusM)
	theta := j.rng.Float64() * 2 * math.Pi
	j.mu.Unlock()

	dLat := (distanceM * math.Cos(theta)) / (kmPerDegreeLat * 1000)

	cosLat := math.Cos(lat * DegreesToRadians)
	dLon := 0.0
	if cosLat > 1e-6 {
		dLon = (distanceM * math.Sin(theta)) / (kmPerDegreeLat * 1000 * cosLat)
	}

	jLat := clamp(lat+dLat, -90, 90)
	jLon := lon + dLon
	// Wrap across the antimeridian instead of clamping into it.
	if jLon > 180 {
		jLon -= 360
	} else if jLon < -180 {
		jLon += 360
	}

	return jLat, jLon, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
