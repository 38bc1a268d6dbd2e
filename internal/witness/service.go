package witness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

// Aggregator runs the confirmation pipeline: validation, persistence
// with the atomic count increment, and consensus recomputation.
type Aggregator struct {
	store        store.Store
	gate         *ratelimit.WitnessGate
	window       time.Duration
	maxConfirmKm float64
	log          *logrus.Entry

	// now is swappable for tests; all timing checks use server time.
	now func() time.Time
}

// NewAggregator wires the aggregator from witness config.
func NewAggregator(st store.Store, gate *ratelimit.WitnessGate, cfg config.WitnessConfig, log *logrus.Entry) *Aggregator {
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Hour
	}
	maxKm := cfg.MaxConfirmKm
	if maxKm <= 0 {
		maxKm = 50
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Aggregator{
		store:        st,
		gate:         gate,
		window:       window,
		maxConfirmKm: maxKm,
		log:          log,
		now:          time.Now,
	}
}

// Confirm validates and persists one confirmation, returning the
// sighting's new witness count. The checks run in a fixed order so a
// rejected confirmation never burns later budgets: existence, window,
// duplicate, rate, distance.
func (a *Aggregator) Confirm(ctx context.Context, sightingID string, conf *beep.WitnessConfirmation) (int, error) {
	sighting, err := a.store.GetSighting(ctx, sightingID)
	if err != nil {
		return 0, err
	}

	now := a.now().UTC()
	age := now.Sub(sighting.CreatedAt)
	if age > a.window {
		return 0, &WindowClosedError{Window: a.window, ClosedFor: age - a.window}
	}

	existing, err := a.store.ListWitnesses(ctx, sightingID)
	if err != nil {
		return 0, err
	}
	for _, w := range existing {
		if w.DeviceID == conf.DeviceID {
			return 0, store.ErrDuplicateWitness
		}
	}

	if err := a.gate.Allow(ctx, conf.DeviceID); err != nil {
		return 0, err
	}

	if conf.Latitude != nil && conf.Longitude != nil {
		distance := geo.DistanceKm(*conf.Latitude, *conf.Longitude,
			sighting.SensorData.Location.Lat, sighting.SensorData.Location.Lon)
		limit := a.effectiveLimitKm(sighting)
		if distance > limit {
			return 0, &OutOfRangeError{DistanceKm: distance, LimitKm: limit}
		}
		conf.DistanceKmToSighting = &distance
	}

	if conf.ID == "" {
		conf.ID = uuid.NewString()
	}
	conf.SightingID = sightingID
	if conf.ConfirmedAt.IsZero() {
		conf.ConfirmedAt = now
	}

	count, err := a.store.AddWitness(ctx, conf)
	if err != nil {
		return 0, fmt.Errorf("persisting confirmation: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"sighting_id":   sightingID,
		"device_id":     conf.DeviceID,
		"witness_count": count,
	}).Info("Witness confirmation accepted")
	return count, nil
}

// effectiveLimitKm is the distance guard: the configured maximum, or
// twice the reported visibility when weather enrichment has run.
func (a *Aggregator) effectiveLimitKm(sighting *beep.Sighting) float64 {
	weather, ok := sighting.EnrichmentData["weather"]
	if !ok {
		return a.maxConfirmKm
	}
	if v, ok := toFloat(weather["visibility_km"]); ok && v > 0 {
		return 2 * v
	}
	return a.maxConfirmKm
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// HasConfirmed reports whether the device already confirmed the
// sighting, with the confirmation time when it did.
func (a *Aggregator) HasConfirmed(ctx context.Context, sightingID, deviceID string) (bool, *time.Time, error) {
	witnesses, err := a.store.ListWitnesses(ctx, sightingID)
	if err != nil {
		return false, nil, err
	}
	for _, w := range witnesses {
		if w.DeviceID == deviceID {
			at := w.ConfirmedAt
			return true, &at, nil
		}
	}
	return false, nil, nil
}

// Summary recomputes the consensus report for a sighting.
func (a *Aggregator) Summary(ctx context.Context, sightingID string) (Report, error) {
	witnesses, err := a.store.ListWitnesses(ctx, sightingID)
	if err != nil {
		return Report{}, err
	}
	return Consensus(witnesses, a.now().UTC()), nil
}
