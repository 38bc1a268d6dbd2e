// Package core wires the sighting-alert pipeline into one root value
// owning the store, enrichment registry, fan-out engine and witness
// aggregator. Request handlers call the core; nothing in here knows
// about HTTP.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skybeep/skybeep/internal/alert"
	"github.com/skybeep/skybeep/internal/enrich"
	"github.com/skybeep/skybeep/internal/metrics"
	"github.com/skybeep/skybeep/internal/planematch"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/internal/witness"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

// backgroundTimeout bounds one background enrichment run.
const backgroundTimeout = 2 * time.Minute

// Core owns the pipeline components and exposes the operations the API
// surfaces.
type Core struct {
	store      store.Store
	jitterer   *geo.Jitterer
	enricher   *enrich.Orchestrator
	engine     *alert.Engine
	aggregator *witness.Aggregator
	fanoutGate *ratelimit.FanoutGate
	analyzer   *planematch.Analyzer
	tasks      *taskRunner
	hub        *hub
	metrics    *metrics.Metrics
	log        *logrus.Entry
}

// New assembles the core. analyzer may be nil when no aircraft state
// source is configured; mets may be nil in tests.
func New(cfg *config.Config, st store.Store, enricher *enrich.Orchestrator, engine *alert.Engine, aggregator *witness.Aggregator, fanoutGate *ratelimit.FanoutGate, analyzer *planematch.Analyzer, mets *metrics.Metrics, log *logrus.Entry) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Core{
		store:      st,
		jitterer:   geo.NewJitterer(cfg.Privacy.JitterMinM, cfg.Privacy.JitterMaxM),
		enricher:   enricher,
		engine:     engine,
		aggregator: aggregator,
		fanoutGate: fanoutGate,
		analyzer:   analyzer,
		tasks:      newTaskRunner(8, backgroundTimeout),
		hub:        newHub(),
		metrics:    mets,
		log:        log,
	}
}

// IngestInput is a beep submission after transport decoding.
type IngestInput struct {
	DeviceID    string
	Latitude    float64
	Longitude   float64
	AccuracyM   *float64
	AltitudeM   *float64
	AzimuthDeg  *float64
	PitchDeg    *float64
	RollDeg     *float64
	HFOVDeg     *float64
	Title       string
	Description string
	Category    string
	HasMedia    bool
}

// Ingest persists a new sighting and runs fan-out. The true coordinates
// are jittered before the write; enrichment is dispatched to the
// background and never awaited. When the submission announces media,
// fan-out is deferred until the upload completes so alerts can carry the
// imagery.
func (c *Core) Ingest(ctx context.Context, in IngestInput) (*beep.Sighting, *alert.Result, error) {
	jlat, jlon, err := c.jitterer.Jitter(in.Latitude, in.Longitude)
	if err != nil {
		return nil, nil, fmt.Errorf("jittering location: %w", err)
	}

	now := time.Now().UTC()
	origLat, origLon := in.Latitude, in.Longitude
	category := in.Category
	if category == "" {
		category = "ufo"
	}

	sighting := &beep.Sighting{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
		ReporterDeviceID: in.DeviceID,
		Title:            in.Title,
		Description:      in.Description,
		Category:         category,
		SensorData: beep.SensorData{
			Location: beep.Location{
				Lat:         jlat,
				Lon:         jlon,
				AccuracyM:   in.AccuracyM,
				AltitudeM:   in.AltitudeM,
				OriginalLat: &origLat,
				OriginalLon: &origLon,
			},
			AzimuthDeg: in.AzimuthDeg,
			PitchDeg:   in.PitchDeg,
			RollDeg:    in.RollDeg,
			HFOVDeg:    in.HFOVDeg,
			Timestamp:  now,
			DeviceID:   in.DeviceID,
		},
		AlertLevel:   beep.LevelNormal,
		Status:       beep.StatusCreated,
		WitnessCount: 1,
		IsPublic:     true,
	}

	if err := c.store.CreateSighting(ctx, sighting); err != nil {
		return nil, nil, fmt.Errorf("persisting sighting: %w", err)
	}

	if err := c.fanoutGate.Record(ctx); err != nil {
		c.log.WithError(err).Warn("Failed to record sighting against the fan-out window")
	}

	sightingID := sighting.ID
	if err := c.store.AppendEngagement(ctx, &beep.EngagementEvent{
		ID:         uuid.NewString(),
		DeviceID:   in.DeviceID,
		SightingID: &sightingID,
		EventType:  beep.EngagementBeepSubmitted,
		Timestamp:  now,
	}); err != nil {
		c.log.WithError(err).Warn("Failed to record submission engagement")
	}

	if c.metrics != nil {
		c.metrics.SightingsIngested.Inc()
	}

	c.tasks.Go(func(bctx context.Context) {
		results := c.enricher.Enrich(bctx, enrichContext(sighting))
		if c.metrics != nil {
			for processor, result := range results {
				status := "completed"
				if !result.Success {
					status = "failed"
				}
				c.metrics.EnrichmentResults.WithLabelValues(processor, status).Inc()
			}
		}
	})
	c.hub.publish(sighting)

	if in.HasMedia {
		// Alerts wait for the media upload; CompleteMediaUpload fires
		// the fan-out.
		return sighting, nil, nil
	}

	result, err := c.engine.FanOut(ctx, sighting)
	if err != nil {
		c.log.WithError(err).WithField("sighting_id", sighting.ID).
			Error("Fan-out failed after successful persistence")
		result = &alert.Result{PerRingCounts: map[string]int{}, EscalationApplied: beep.LevelNormal}
	}
	c.observeFanout(result)
	return sighting, result, nil
}

// observeFanout records one fan-out run's metrics.
func (c *Core) observeFanout(result *alert.Result) {
	if c.metrics == nil || result == nil {
		return
	}
	if result.Suppressed {
		c.metrics.FanoutSuppressed.Inc()
	}
	for ring, count := range result.PerRingCounts {
		c.metrics.AlertsSent.WithLabelValues(ring).Add(float64(count))
	}
	c.metrics.FanoutDuration.Observe(float64(result.DeliveryTimeMs) / 1000)
}

// enrichContext projects a sighting into processor input. Enrichment
// sees only the jittered position.
func enrichContext(s *beep.Sighting) enrich.Context {
	return enrich.Context{
		SightingID:  s.ID,
		Latitude:    s.SensorData.Location.Lat,
		Longitude:   s.SensorData.Location.Lon,
		AltitudeM:   s.SensorData.Location.AltitudeM,
		Timestamp:   s.SensorData.Timestamp,
		AzimuthDeg:  s.SensorData.AzimuthDeg,
		PitchDeg:    s.SensorData.PitchDeg,
		RollDeg:     s.SensorData.RollDeg,
		Category:    s.Category,
		Title:       s.Title,
		Description: s.Description,
	}
}

// AttachMedia appends an uploaded media file to a sighting.
func (c *Core) AttachMedia(ctx context.Context, sightingID string, file beep.MediaFile) error {
	return c.store.AttachMedia(ctx, sightingID, file)
}

// CompleteMediaUpload fires the fan-out deferred at ingestion time.
func (c *Core) CompleteMediaUpload(ctx context.Context, sightingID string) (*alert.Result, error) {
	sighting, err := c.store.GetSighting(ctx, sightingID)
	if err != nil {
		return nil, err
	}
	result, err := c.engine.FanOut(ctx, sighting)
	if err != nil {
		return nil, err
	}
	c.observeFanout(result)
	return result, nil
}

// ConfirmWitness runs the confirmation pipeline and recomputes the
// consensus. An escalating consensus raises the sighting's alert level;
// the raise is monotonic so concurrent confirmations cannot demote it.
func (c *Core) ConfirmWitness(ctx context.Context, sightingID string, conf *beep.WitnessConfirmation) (int, witness.Report, error) {
	count, err := c.aggregator.Confirm(ctx, sightingID, conf)
	if err != nil {
		if c.metrics != nil {
			c.metrics.WitnessOutcomes.WithLabelValues("rejected").Inc()
		}
		return 0, witness.Report{}, err
	}
	if c.metrics != nil {
		c.metrics.WitnessOutcomes.WithLabelValues("accepted").Inc()
	}

	report, err := c.aggregator.Summary(ctx, sightingID)
	if err != nil {
		c.log.WithError(err).Warn("Consensus recomputation failed")
		return count, witness.Report{}, nil
	}

	if report.ShouldEscalate {
		level := beep.LevelUrgent
		if count >= 10 {
			level = beep.LevelEmergency
		}
		if err := c.store.UpdateAlertLevel(ctx, sightingID, level); err != nil {
			c.log.WithError(err).Warn("Alert level escalation failed")
		}
	}
	return count, report, nil
}

// WitnessStatus reports whether a device already confirmed a sighting.
func (c *Core) WitnessStatus(ctx context.Context, sightingID, deviceID string) (bool, *time.Time, error) {
	if _, err := c.store.GetSighting(ctx, sightingID); err != nil {
		return false, nil, err
	}
	return c.aggregator.HasConfirmed(ctx, sightingID, deviceID)
}

// WitnessSummary recomputes the consensus report for a sighting.
func (c *Core) WitnessSummary(ctx context.Context, sightingID string) (witness.Report, error) {
	return c.aggregator.Summary(ctx, sightingID)
}

// GetSighting returns one sighting with jittered coordinates.
func (c *Core) GetSighting(ctx context.Context, id string) (*beep.Sighting, error) {
	return c.store.GetSighting(ctx, id)
}

// ListSightings returns public sightings, newest first.
func (c *Core) ListSightings(ctx context.Context, limit, offset int) ([]beep.Sighting, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return c.store.ListPublicSightings(ctx, limit, offset)
}

// RegisterDevice upserts a device record.
func (c *Core) RegisterDevice(ctx context.Context, d *beep.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.LastSeen = &now
	return c.store.UpsertDevice(ctx, d)
}

// RecordEngagement appends a device interaction event.
func (c *Core) RecordEngagement(ctx context.Context, e *beep.EngagementEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return c.store.AppendEngagement(ctx, e)
}

// MatchAircraft runs the on-demand aircraft analysis for a sensor pose.
// Returns ErrNoAnalyzer when no state source is configured.
func (c *Core) MatchAircraft(ctx context.Context, sensor planematch.Sensor) (*planematch.Result, error) {
	if c.analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	return c.analyzer.Match(ctx, sensor)
}

// Subscribe attaches a listener to the stream of newly created public
// sightings. The returned cancel func must be called when done.
func (c *Core) Subscribe() (<-chan *beep.Sighting, func()) {
	return c.hub.subscribe()
}

// Ping checks the persistence backend.
func (c *Core) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Shutdown drains background tasks and closes the broadcast hub.
func (c *Core) Shutdown() {
	c.tasks.Wait()
	c.hub.close()
}
