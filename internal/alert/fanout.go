// Package alert implements sighting fan-out: escalation from recent
// witness density, ring partition over the configured radii, and
// concurrent per-ring push dispatch with per-device payloads.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skybeep/skybeep/internal/push"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
)

// Escalation windows: recent witness density within 10 km of the
// sighting over the last 30 minutes sets the level; the emergency
// override looks at a tighter 1 km / 5 minute burst.
const (
	escalationWindow   = 30 * time.Minute
	escalationRadiusKm = 10.0
	overrideWindow     = 5 * time.Minute
	overrideRadiusKm   = 1.0
)

// Result summarises one fan-out run.
type Result struct {
	TotalSent         int             `json:"total_sent"`
	PerRingCounts     map[string]int  `json:"per_ring_counts"`
	DeliveryTimeMs    int64           `json:"delivery_time_ms"`
	EscalationApplied beep.AlertLevel `json:"escalation_applied"`

	// Suppressed is set when the global rate gate blocked the run and the
	// emergency override did not apply.
	Suppressed bool `json:"suppressed,omitempty"`
}

// ring is one dispatch batch: the devices whose distance lands in this
// band and nothing inner.
type ring struct {
	radiusKm float64
	level    beep.AlertLevel
	devices  []store.DeviceHit
}

// Engine runs fan-out against the device directory and push dispatcher.
type Engine struct {
	store         store.Store
	dispatcher    push.Dispatcher
	gate          *ratelimit.FanoutGate
	ringsKm       []float64
	maxRings      int
	overrideCount int
	log           *logrus.Entry

	now func() time.Time
}

// NewEngine wires the engine from fan-out config.
func NewEngine(st store.Store, dispatcher push.Dispatcher, gate *ratelimit.FanoutGate, cfg config.FanoutConfig, log *logrus.Entry) *Engine {
	ringsKm := cfg.RingsKm
	if len(ringsKm) == 0 {
		ringsKm = []float64{1, 5, 10, 25}
	}
	ringsKm = append([]float64(nil), ringsKm...)
	sort.Float64s(ringsKm)

	maxRings := cfg.MaxConcurrentRings
	if maxRings <= 0 {
		maxRings = 4
	}
	overrideCount := cfg.EmergencyOverrideWitnessCount
	if overrideCount <= 0 {
		overrideCount = 10
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		store:         st,
		dispatcher:    dispatcher,
		gate:          gate,
		ringsKm:       ringsKm,
		maxRings:      maxRings,
		overrideCount: overrideCount,
		log:           log,
		now:           time.Now,
	}
}

// FanOut alerts every eligible device around the sighting. Push errors
// are counted and logged, never fatal; an unavailable dispatcher yields
// a zero-sent result. The returned error covers only internal store
// failures that prevent the run entirely.
func (e *Engine) FanOut(ctx context.Context, sighting *beep.Sighting) (*Result, error) {
	started := e.now()
	lat := sighting.SensorData.Location.Lat
	lon := sighting.SensorData.Location.Lon

	escalation := e.escalationLevel(ctx, lat, lon)

	suppressed, err := e.gate.Suppressed(ctx)
	if err != nil {
		e.log.WithError(err).Warn("Fan-out gate check failed, proceeding")
	}
	if suppressed {
		if e.emergencyOverride(ctx, lat, lon) {
			escalation = beep.LevelEmergency
			e.log.WithField("sighting_id", sighting.ID).
				Warn("Fan-out rate cap lifted by mass-sighting override")
		} else {
			e.log.WithFields(logrus.Fields{
				"sighting_id": sighting.ID,
				"cap":         e.gate.Limit(),
			}).Info("Fan-out suppressed by global rate cap")
			return &Result{
				PerRingCounts:     map[string]int{},
				EscalationApplied: escalation,
				Suppressed:        true,
				DeliveryTimeMs:    e.now().Sub(started).Milliseconds(),
			}, nil
		}
	}

	outer := e.ringsKm[len(e.ringsKm)-1]
	hits, err := e.store.DevicesWithinRadius(ctx, lat, lon, outer, sighting.ReporterDeviceID)
	if err != nil {
		return nil, fmt.Errorf("device directory query: %w", err)
	}

	rings := e.partition(hits, escalation)
	ac := e.alertContext(sighting, escalation)

	result := &Result{
		PerRingCounts:     make(map[string]int, len(rings)),
		EscalationApplied: escalation,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxRings)
	for _, r := range rings {
		if len(r.devices) == 0 {
			continue
		}
		r := r
		g.Go(func() error {
			sent := e.dispatchRing(gctx, sighting, r, ac)
			mu.Lock()
			result.PerRingCounts[ringKey(r.radiusKm)] = sent
			result.TotalSent += sent
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	result.DeliveryTimeMs = e.now().Sub(started).Milliseconds()
	e.log.WithFields(logrus.Fields{
		"sighting_id":      sighting.ID,
		"total_sent":       result.TotalSent,
		"escalation":       escalation,
		"delivery_time_ms": result.DeliveryTimeMs,
	}).Info("Fan-out complete")
	return result, nil
}

// escalationLevel derives the level from recent local witness density.
// Store failures degrade to normal rather than blocking the alert.
func (e *Engine) escalationLevel(ctx context.Context, lat, lon float64) beep.AlertLevel {
	count, err := e.store.CountRecentWitnessesNear(ctx, lat, lon, escalationRadiusKm, e.now().Add(-escalationWindow))
	if err != nil {
		e.log.WithError(err).Warn("Recent witness count failed, assuming none")
		return beep.LevelNormal
	}
	switch {
	case count >= 10:
		return beep.LevelEmergency
	case count >= 3:
		return beep.LevelUrgent
	default:
		return beep.LevelNormal
	}
}

// emergencyOverride reports whether a mass sighting is in progress close
// by: enough confirmations inside 1 km over the last 5 minutes.
func (e *Engine) emergencyOverride(ctx context.Context, lat, lon float64) bool {
	count, err := e.store.CountRecentWitnessesNear(ctx, lat, lon, overrideRadiusKm, e.now().Add(-overrideWindow))
	if err != nil {
		e.log.WithError(err).Warn("Override witness count failed")
		return false
	}
	return count >= e.overrideCount
}

// partition buckets device hits into ring-only sets: each device lands
// in the innermost ring whose radius covers its distance, so no device
// is alerted more than once per sighting.
func (e *Engine) partition(hits []store.DeviceHit, escalation beep.AlertLevel) []ring {
	rings := make([]ring, len(e.ringsKm))
	for i, radius := range e.ringsKm {
		rings[i] = ring{radiusKm: radius, level: ringBaseLevel(radius).Max(escalation)}
	}
	for _, hit := range hits {
		for i := range rings {
			if hit.DistanceKm <= rings[i].radiusKm {
				rings[i].devices = append(rings[i].devices, hit)
				break
			}
		}
	}
	return rings
}

// ringBaseLevel is the floor severity per ring: the closest ring is
// always an emergency, the 5 km ring at least urgent.
func ringBaseLevel(radiusKm float64) beep.AlertLevel {
	switch {
	case radiusKm <= 1:
		return beep.LevelEmergency
	case radiusKm <= 5:
		return beep.LevelUrgent
	default:
		return beep.LevelNormal
	}
}

// alertContext builds the per-sighting payload fields, pulling the
// location name from geocoding enrichment when it already ran.
func (e *Engine) alertContext(sighting *beep.Sighting, level beep.AlertLevel) push.AlertContext {
	ac := push.AlertContext{
		SightingID:        sighting.ID,
		Level:             level,
		WitnessCount:      sighting.WitnessCount,
		Timestamp:         sighting.CreatedAt,
		Action:            push.ActionOpenCompass,
		SubmitterDeviceID: sighting.ReporterDeviceID,
	}
	lat := sighting.SensorData.Location.Lat
	lon := sighting.SensorData.Location.Lon
	ac.Lat = &lat
	ac.Lon = &lon
	if geocoding, ok := sighting.EnrichmentData["geocoding"]; ok {
		if name, ok := geocoding["location_name"].(string); ok {
			ac.LocationName = name
		}
	}
	return ac
}

// dispatchRing sends one ring's batch and records per-device outcomes.
// Returns the number of successful deliveries.
func (e *Engine) dispatchRing(ctx context.Context, sighting *beep.Sighting, r ring, ac push.AlertContext) int {
	ac.Level = r.level
	title := Title(r.radiusKm, r.level)
	body := Body(sighting.WitnessCount, ac.LocationName)

	notifications := make([]push.Notification, 0, len(r.devices))
	for _, hit := range r.devices {
		data := push.BuildData(ac, hit.Device.Lat, hit.Device.Lon, hit.DistanceKm)
		data["ring"] = ringKey(r.radiusKm)
		notifications = append(notifications, push.Notification{
			Token: *hit.Device.PushToken,
			Title: title,
			Body:  body,
			Data:  data,
		})
	}

	results, err := e.dispatcher.Send(ctx, notifications)
	if err != nil {
		if errors.Is(err, push.ErrDispatchUnavailable) {
			e.log.WithField("sighting_id", sighting.ID).
				Warn("Push dispatcher unconfigured, no alerts sent")
		} else {
			e.log.WithError(err).WithField("sighting_id", sighting.ID).
				Error("Ring dispatch failed")
		}
		return 0
	}

	sent := 0
	for i, res := range results {
		e.recordOutcome(ctx, sighting, r, r.devices[i], res)
		if res.OK {
			sent++
		}
	}
	return sent
}

// recordOutcome persists the alert record, engagement event and token
// hygiene for one delivery attempt.
func (e *Engine) recordOutcome(ctx context.Context, sighting *beep.Sighting, r ring, hit store.DeviceHit, res push.SendResult) {
	record := &beep.AlertRecord{
		ID:         uuid.NewString(),
		SightingID: sighting.ID,
		DeviceID:   hit.Device.DeviceID,
		DistanceKm: hit.DistanceKm,
		RingKm:     r.radiusKm,
		Level:      r.level,
		SentAt:     e.now().UTC(),
		Delivered:  res.OK,
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}
	if err := e.store.RecordAlert(ctx, record); err != nil {
		e.log.WithError(err).Warn("Failed to record alert")
	}

	if res.OK {
		sightingID := sighting.ID
		err := e.store.AppendEngagement(ctx, &beep.EngagementEvent{
			ID:         uuid.NewString(),
			DeviceID:   hit.Device.DeviceID,
			SightingID: &sightingID,
			EventType:  beep.EngagementAlertSent,
			Timestamp:  e.now().UTC(),
		})
		if err != nil {
			e.log.WithError(err).Warn("Failed to record engagement")
		}
	}

	if res.Unregistered {
		if err := e.store.DisablePushToken(ctx, res.Token); err != nil {
			e.log.WithError(err).Warn("Failed to disable stale push token")
		}
	}
}

func ringKey(radiusKm float64) string {
	return strconv.FormatFloat(radiusKm, 'f', -1, 64) + "km"
}
