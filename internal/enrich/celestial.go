package enrich

import (
	"context"
	"time"

	"github.com/skybeep/skybeep/pkg/astro"
)

// CelestialProcessor computes sun, moon and planet positions for the
// sighting. Pure math, no credentials, always available.
type CelestialProcessor struct {
	timeout time.Duration
	cache   *ttlCache[map[string]any]
}

// NewCelestialProcessor builds the processor.
func NewCelestialProcessor(timeoutSeconds int) *CelestialProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &CelestialProcessor{
		timeout: time.Duration(timeoutSeconds) * time.Second,
		// Sky positions for a fixed place and hour never change.
		cache: newTTLCache[map[string]any](0),
	}
}

func (p *CelestialProcessor) Name() string           { return "celestial" }
func (p *CelestialProcessor) Priority() int          { return 2 }
func (p *CelestialProcessor) Timeout() time.Duration { return p.timeout }
func (p *CelestialProcessor) IsAvailable() bool      { return true }

func (p *CelestialProcessor) Process(ctx context.Context, ec Context) Result {
	key := locationHourKey(ec.Latitude, ec.Longitude, ec.Timestamp)
	if data, ok := p.cache.get(key); ok {
		return okResult(data, 0.95)
	}

	sun := astro.SunPosition(ec.Latitude, ec.Longitude, ec.Timestamp)
	moon := astro.MoonPosition(ec.Latitude, ec.Longitude, ec.Timestamp)

	planets := make(map[string]any, len(astro.Planets))
	for _, planet := range astro.Planets {
		pos := astro.PlanetPosition(planet, ec.Latitude, ec.Longitude, ec.Timestamp)
		planets[string(planet)] = map[string]any{
			"altitude_deg": pos.AltitudeDeg,
			"azimuth_deg":  pos.AzimuthDeg,
			"is_up":        pos.AltitudeDeg > 0,
		}
	}

	data := map[string]any{
		"model": astro.Model,
		"sun": map[string]any{
			"altitude_deg": sun.AltitudeDeg,
			"azimuth_deg":  sun.AzimuthDeg,
			"is_up":        astro.IsAboveHorizon(sun.AltitudeDeg),
		},
		"moon": map[string]any{
			"altitude_deg": moon.Position.AltitudeDeg,
			"azimuth_deg":  moon.Position.AzimuthDeg,
			"is_up":        moon.Position.AltitudeDeg > 0,
			"phase_name":   moon.PhaseName,
			"illumination": moon.Illumination,
		},
		"planets": planets,
		"summary": map[string]any{
			"twilight_type": string(astro.Twilight(sun.AltitudeDeg)),
		},
	}

	p.cache.put(key, data)
	return okResult(data, 0.95)
}
