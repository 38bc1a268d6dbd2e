package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skybeep/skybeep/internal/alert"
	"github.com/skybeep/skybeep/internal/enrich"
	"github.com/skybeep/skybeep/internal/planematch"
	"github.com/skybeep/skybeep/internal/push"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/internal/witness"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

func ptr[T any](v T) *T { return &v }

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []push.Notification
}

func (f *fakeDispatcher) Send(ctx context.Context, notifications []push.Notification) ([]push.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notifications...)
	results := make([]push.SendResult, len(notifications))
	for i, n := range notifications {
		results[i] = push.SendResult{Token: n.Token, OK: true}
	}
	return results, nil
}

func (f *fakeDispatcher) Close() error { return nil }

func (f *fakeDispatcher) notifications() []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.sent...)
}

func newCore(st store.Store, d push.Dispatcher) *Core {
	cfg := config.DefaultConfig()
	fanoutGate := ratelimit.NewFanoutGate(ratelimit.NewMemoryWindow(), 100)
	witnessGate := ratelimit.NewWitnessGate(ratelimit.NewMemoryWindow(), cfg.Witness.RatePerHour)

	enricher := enrich.NewOrchestrator(enrich.NewRegistry(), st, cfg.Enrichment.Concurrency, nil)
	engine := alert.NewEngine(st, d, fanoutGate, cfg.Fanout, nil)
	aggregator := witness.NewAggregator(st, witnessGate, cfg.Witness, nil)
	return New(cfg, st, enricher, engine, aggregator, fanoutGate, nil, nil, nil)
}

const (
	origLat = 47.6213
	origLon = -122.3790
)

func ingestInput(deviceID string) IngestInput {
	return IngestInput{
		DeviceID:    deviceID,
		Latitude:    origLat,
		Longitude:   origLon,
		Description: "bright object moving fast",
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("Coordinates are jittered before persistence", func(t *testing.T) {
		st := store.NewMemoryStore()
		c := newCore(st, &fakeDispatcher{})

		sighting, _, err := c.Ingest(ctx, ingestInput("reporter"))
		if err != nil {
			t.Fatal(err)
		}

		loc := sighting.SensorData.Location
		displacement := geo.DistanceKm(loc.Lat, loc.Lon, origLat, origLon) * 1000
		if displacement < 1 {
			t.Error("Stored coordinates equal the originals")
		}
		if displacement > 301 {
			t.Errorf("Displacement %.0f m exceeds the jitter bound", displacement)
		}

		// The read path must agree and never leak the originals.
		stored, err := c.GetSighting(ctx, sighting.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.SensorData.Location.Lat != loc.Lat || stored.SensorData.Location.Lon != loc.Lon {
			t.Error("Read path returned different coordinates than persisted")
		}
		if stored.SensorData.Location.OriginalLat != nil || stored.SensorData.Location.OriginalLon != nil {
			t.Error("Original coordinates surfaced through the read path")
		}
		if sighting.WitnessCount != 1 {
			t.Errorf("WitnessCount = %d", sighting.WitnessCount)
		}
	})

	t.Run("Fan-out reaches a nearby device", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		c := newCore(st, d)

		token := "t1"
		deviceLat := origLat + 8.0/110.574
		err := st.UpsertDevice(ctx, &beep.Device{
			ID: "row1", DeviceID: "d1", Platform: beep.PlatformAndroid,
			PushToken: &token, PushEnabled: true, AlertNotifications: true,
			IsActive: true, Lat: &deviceLat, Lon: ptr(origLon),
		})
		if err != nil {
			t.Fatal(err)
		}

		_, result, err := c.Ingest(ctx, ingestInput("reporter"))
		if err != nil {
			t.Fatal(err)
		}
		if result == nil || result.TotalSent != 1 {
			t.Fatalf("Fan-out result = %+v", result)
		}
		sent := d.notifications()
		if len(sent) != 1 || sent[0].Data["action"] != "open_compass" {
			t.Errorf("Unexpected notifications: %+v", sent)
		}
	})

	t.Run("Media submissions defer fan-out", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		c := newCore(st, d)

		token := "t1"
		deviceLat := origLat + 2.0/110.574
		err := st.UpsertDevice(ctx, &beep.Device{
			ID: "row1", DeviceID: "d1", Platform: beep.PlatformIOS,
			PushToken: &token, PushEnabled: true, AlertNotifications: true,
			IsActive: true, Lat: &deviceLat, Lon: ptr(origLon),
		})
		if err != nil {
			t.Fatal(err)
		}

		in := ingestInput("reporter")
		in.HasMedia = true
		sighting, result, err := c.Ingest(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		if result != nil {
			t.Fatalf("Fan-out ran despite pending media: %+v", result)
		}
		if len(d.notifications()) != 0 {
			t.Error("Alerts sent before media completed")
		}

		result, err = c.CompleteMediaUpload(ctx, sighting.ID)
		if err != nil {
			t.Fatal(err)
		}
		if result.TotalSent != 1 {
			t.Errorf("TotalSent = %d after media completion", result.TotalSent)
		}
	})
}

func TestConfirmWitnessEscalation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newCore(st, &fakeDispatcher{})

	sighting, _, err := c.Ingest(ctx, ingestInput("reporter"))
	if err != nil {
		t.Fatal(err)
	}
	loc := sighting.SensorData.Location

	// Five distinct nearby devices: mass rule escalates at >= 5 total.
	var lastCount int
	var lastReport witness.Report
	for i := 0; i < 5; i++ {
		lastCount, lastReport, err = c.ConfirmWitness(ctx, sighting.ID, &beep.WitnessConfirmation{
			DeviceID:  string(rune('a' + i)),
			Latitude:  ptr(loc.Lat + float64(i)*0.001),
			Longitude: ptr(loc.Lon),
		})
		if err != nil {
			t.Fatalf("Confirmation %d: %v", i, err)
		}
	}
	if lastCount != 6 {
		t.Errorf("Final count = %d, expected 6", lastCount)
	}
	if !lastReport.ShouldEscalate {
		t.Error("Five witnesses must escalate")
	}

	stored, err := c.GetSighting(ctx, sighting.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.AlertLevel.AtLeast(beep.LevelUrgent) {
		t.Errorf("AlertLevel = %s after escalation", stored.AlertLevel)
	}
}

func TestWitnessStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newCore(st, &fakeDispatcher{})

	sighting, _, err := c.Ingest(ctx, ingestInput("reporter"))
	if err != nil {
		t.Fatal(err)
	}

	ok, _, err := c.WitnessStatus(ctx, sighting.ID, "d1")
	if err != nil || ok {
		t.Errorf("Expected no confirmation, got ok=%v err=%v", ok, err)
	}

	if _, _, err := c.ConfirmWitness(ctx, sighting.ID, &beep.WitnessConfirmation{DeviceID: "d1"}); err != nil {
		t.Fatal(err)
	}
	ok, at, err := c.WitnessStatus(ctx, sighting.ID, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || at == nil {
		t.Error("Confirmation not visible in status")
	}

	if _, _, err := c.WitnessStatus(ctx, "missing", "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := newCore(st, &fakeDispatcher{})

	ch, cancel := c.Subscribe()
	defer cancel()

	sighting, _, err := c.Ingest(ctx, ingestInput("reporter"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.ID != sighting.ID {
			t.Errorf("Streamed sighting %s, expected %s", got.ID, sighting.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("No sighting streamed")
	}
}

func TestMatchAircraftUnconfigured(t *testing.T) {
	c := newCore(store.NewMemoryStore(), &fakeDispatcher{})
	_, err := c.MatchAircraft(context.Background(), planematch.Sensor{})
	if !errors.Is(err, ErrNoAnalyzer) {
		t.Errorf("Expected ErrNoAnalyzer, got %v", err)
	}
}
