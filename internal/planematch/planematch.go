// Package planematch decides whether a reported sighting is most likely a
// known aircraft. It compares the device's pointing direction against the
// line of sight to every aircraft near the observer and scores the best
// candidate.
package planematch

import (
	"context"
	"fmt"
	"time"

	"github.com/skybeep/skybeep/pkg/adsb"
	"github.com/skybeep/skybeep/pkg/geo"
)

// hardCapRadiusKm bounds the state-vector search regardless of config.
const hardCapRadiusKm = 80

// Sensor is the device pose at the moment of the beep.
type Sensor struct {
	Timestamp  time.Time
	Lat        float64
	Lon        float64
	AltitudeM  *float64
	AzimuthDeg float64
	PitchDeg   float64
	RollDeg    *float64
	HFOVDeg    *float64
	AccuracyM  *float64
}

// Matched describes the aircraft the pose lines up with.
type Matched struct {
	Callsign        string   `json:"callsign,omitempty"`
	ICAO24          string   `json:"icao24,omitempty"`
	AltitudeM       float64  `json:"altitude_m"`
	VelocityMS      *float64 `json:"velocity_ms,omitempty"`
	DistanceKm      float64  `json:"distance_km"`
	BearingDeg      float64  `json:"bearing_deg"`
	ElevationDeg    float64  `json:"elevation_deg"`
	AngularErrorDeg float64  `json:"angular_error_deg"`
}

// Result is the analyser verdict, persisted under the plane_match key.
type Result struct {
	IsPlane    bool      `json:"is_plane"`
	Matched    *Matched  `json:"matched,omitempty"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Analyzer matches sensor poses against live aircraft state vectors.
type Analyzer struct {
	source       adsb.StateSource
	radiusKm     float64
	toleranceDeg float64
}

// NewAnalyzer builds an analyser. radiusKm defaults to 50 and is capped
// at 80; toleranceDeg defaults to 2.5.
func NewAnalyzer(source adsb.StateSource, radiusKm, toleranceDeg float64) *Analyzer {
	if radiusKm <= 0 {
		radiusKm = 50
	}
	if radiusKm > hardCapRadiusKm {
		radiusKm = hardCapRadiusKm
	}
	if toleranceDeg <= 0 {
		toleranceDeg = 2.5
	}
	return &Analyzer{source: source, radiusKm: radiusKm, toleranceDeg: toleranceDeg}
}

// Match evaluates the sensor pose against nearby aircraft.
func (a *Analyzer) Match(ctx context.Context, sensor Sensor) (*Result, error) {
	if err := geo.ValidateLatLon(sensor.Lat, sensor.Lon); err != nil {
		return nil, err
	}
	if err := geo.ValidateElevation(sensor.PitchDeg); err != nil {
		return nil, err
	}
	azimuth := geo.NormalizeAzimuth(sensor.AzimuthDeg)

	box, err := geo.BBox(sensor.Lat, sensor.Lon, a.radiusKm)
	if err != nil {
		return nil, err
	}

	states, err := a.source.StatesInBox(ctx, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, sensor.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("aircraft state lookup: %w", err)
	}

	observerAltM := 0.0
	if sensor.AltitudeM != nil {
		observerAltM = *sensor.AltitudeM
	}

	var best *Matched
	candidates := 0
	for i := range states {
		sv := &states[i]
		if !sv.HasPosition() {
			continue
		}

		distanceKm := geo.DistanceKm(sensor.Lat, sensor.Lon, *sv.Latitude, *sv.Longitude)
		if distanceKm > a.radiusKm {
			continue
		}
		candidates++

		bearing := geo.BearingDeg(sensor.Lat, sensor.Lon, *sv.Latitude, *sv.Longitude)
		elevation := geo.ElevationDeg(sv.AltitudeM()-observerAltM, distanceKm*1000)

		angularErr, err := geo.AngularSeparationDeg(azimuth, sensor.PitchDeg, bearing, elevation)
		if err != nil {
			continue
		}
		if angularErr > a.toleranceDeg {
			continue
		}
		if best != nil && angularErr >= best.AngularErrorDeg {
			continue
		}

		best = &Matched{
			Callsign:        sv.Callsign,
			ICAO24:          sv.ICAO24,
			AltitudeM:       sv.AltitudeM(),
			VelocityMS:      sv.VelocityMS,
			DistanceKm:      distanceKm,
			BearingDeg:      bearing,
			ElevationDeg:    elevation,
			AngularErrorDeg: angularErr,
		}
	}

	result := &Result{Timestamp: sensor.Timestamp.UTC()}
	switch {
	case candidates == 0:
		result.Reason = "no aircraft in search area"
	case best == nil:
		result.Reason = fmt.Sprintf("no aircraft within %.1f deg of pointing direction", a.toleranceDeg)
	default:
		result.IsPlane = true
		result.Matched = best
		result.Confidence = a.confidence(best)
		result.Reason = fmt.Sprintf("pointing at %s with %.2f deg error", aircraftLabel(best), best.AngularErrorDeg)
	}
	return result, nil
}

// confidence combines angular accuracy with plausibility factors for
// distance and altitude.
func (a *Analyzer) confidence(m *Matched) float64 {
	angular := 1 - m.AngularErrorDeg/a.toleranceDeg

	var distanceFactor float64
	switch {
	case m.DistanceKm < 1:
		// Commercial traffic is rarely under a kilometer away.
		distanceFactor = 0.5
	case m.DistanceKm < 10:
		distanceFactor = 0.8
	case m.DistanceKm < 50:
		distanceFactor = 1.0
	default:
		distanceFactor = 0.9
	}

	var altitudeFactor float64
	switch {
	case m.AltitudeM < 1000:
		altitudeFactor = 0.7
	case m.AltitudeM < 12000:
		altitudeFactor = 1.0
	default:
		altitudeFactor = 0.9
	}

	return angular * distanceFactor * altitudeFactor
}

func aircraftLabel(m *Matched) string {
	if m.Callsign != "" {
		return m.Callsign
	}
	if m.ICAO24 != "" {
		return m.ICAO24
	}
	return "unidentified aircraft"
}
