package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skybeep/skybeep/pkg/beep"
)

func newTestSighting(id string) *beep.Sighting {
	origLat, origLon := 47.6097, -122.3425
	now := time.Now().UTC()
	return &beep.Sighting{
		ID:               id,
		CreatedAt:        now,
		UpdatedAt:        now,
		ReporterDeviceID: "reporter-1",
		Category:         "ufo",
		SensorData: beep.SensorData{
			Location: beep.Location{
				Lat:         47.6112,
				Lon:         -122.3401,
				OriginalLat: &origLat,
				OriginalLon: &origLon,
			},
			Timestamp: now,
			DeviceID:  "reporter-1",
		},
		AlertLevel:   beep.LevelNormal,
		Status:       beep.StatusCreated,
		WitnessCount: 1,
		IsPublic:     true,
	}
}

func ptr[T any](v T) *T { return &v }

// TestSightingLifecycle tests creation, reads and privacy of the stored
// coordinates.
func TestSightingLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and get", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := s.GetSighting(ctx, "s1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.WitnessCount != 1 {
			t.Errorf("Expected witness count 1, got %d", got.WitnessCount)
		}
		if got.AlertLevel != beep.LevelNormal {
			t.Errorf("Expected normal level, got %s", got.AlertLevel)
		}
	})

	t.Run("Original coordinates never surfaced", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetSighting(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.SensorData.Location.OriginalLat != nil || got.SensorData.Location.OriginalLon != nil {
			t.Error("Read surfaced original coordinates")
		}
		if got.SensorData.Location.Lat != 47.6112 {
			t.Errorf("Expected jittered latitude, got %f", got.SensorData.Location.Lat)
		}

		list, err := s.ListPublicSightings(ctx, 10, 0)
		if err != nil {
			t.Fatal(err)
		}
		for _, sighting := range list {
			if sighting.SensorData.Location.OriginalLat != nil {
				t.Error("List surfaced original coordinates")
			}
		}
	})

	t.Run("Create is idempotent by id", func(t *testing.T) {
		s := NewMemoryStore()
		first := newTestSighting("s1")
		if err := s.CreateSighting(ctx, first); err != nil {
			t.Fatal(err)
		}

		again := newTestSighting("s1")
		again.Title = "should not overwrite"
		if err := s.CreateSighting(ctx, again); err != nil {
			t.Fatalf("Idempotent re-create failed: %v", err)
		}

		got, _ := s.GetSighting(ctx, "s1")
		if got.Title != "" {
			t.Error("Re-create overwrote existing sighting")
		}
	})

	t.Run("Missing sighting returns ErrNotFound", func(t *testing.T) {
		s := NewMemoryStore()
		if _, err := s.GetSighting(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List orders newest first and pages", func(t *testing.T) {
		s := NewMemoryStore()
		base := time.Now().UTC()
		for i := 0; i < 5; i++ {
			sighting := newTestSighting(fmt.Sprintf("s%d", i))
			sighting.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := s.CreateSighting(ctx, sighting); err != nil {
				t.Fatal(err)
			}
		}

		list, err := s.ListPublicSightings(ctx, 2, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(list))
		}
		if list[0].ID != "s3" || list[1].ID != "s2" {
			t.Errorf("Expected s3, s2; got %s, %s", list[0].ID, list[1].ID)
		}
	})
}

// TestAddWitness tests uniqueness and the atomic witness counter.
func TestAddWitness(t *testing.T) {
	ctx := context.Background()

	t.Run("Increment returns new count", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatal(err)
		}

		count, err := s.AddWitness(ctx, &beep.WitnessConfirmation{
			SightingID:  "s1",
			DeviceID:    "w1",
			ConfirmedAt: time.Now().UTC(),
			Confidence:  beep.ConfidenceMedium,
		})
		if err != nil {
			t.Fatalf("AddWitness failed: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected count 2 (reporter + witness), got %d", count)
		}
	})

	t.Run("Duplicate device rejected", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatal(err)
		}

		w := &beep.WitnessConfirmation{SightingID: "s1", DeviceID: "w1", ConfirmedAt: time.Now().UTC()}
		if _, err := s.AddWitness(ctx, w); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AddWitness(ctx, w); !errors.Is(err, ErrDuplicateWitness) {
			t.Errorf("Expected ErrDuplicateWitness, got %v", err)
		}

		got, _ := s.GetSighting(ctx, "s1")
		if got.WitnessCount != 2 {
			t.Errorf("Duplicate must not bump the counter, got %d", got.WitnessCount)
		}
	})

	t.Run("Unknown sighting rejected", func(t *testing.T) {
		s := NewMemoryStore()
		w := &beep.WitnessConfirmation{SightingID: "nope", DeviceID: "w1"}
		if _, err := s.AddWitness(ctx, w); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Concurrent confirmations never lose increments", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatal(err)
		}

		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AddWitness(ctx, &beep.WitnessConfirmation{
					SightingID:  "s1",
					DeviceID:    fmt.Sprintf("w%d", i),
					ConfirmedAt: time.Now().UTC(),
				})
				if err != nil {
					t.Errorf("AddWitness failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		got, _ := s.GetSighting(ctx, "s1")
		if got.WitnessCount != 1+n {
			t.Errorf("Expected witness count %d, got %d", 1+n, got.WitnessCount)
		}
		witnesses, _ := s.ListWitnesses(ctx, "s1")
		if len(witnesses) != n {
			t.Errorf("Expected %d confirmations, got %d", n, len(witnesses))
		}
	})

	t.Run("List ordered by confirmed_at", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
			t.Fatal(err)
		}

		base := time.Now().UTC()
		for i, offset := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute} {
			_, err := s.AddWitness(ctx, &beep.WitnessConfirmation{
				SightingID:  "s1",
				DeviceID:    fmt.Sprintf("w%d", i),
				ConfirmedAt: base.Add(offset),
			})
			if err != nil {
				t.Fatal(err)
			}
		}

		witnesses, _ := s.ListWitnesses(ctx, "s1")
		if witnesses[0].DeviceID != "w1" || witnesses[2].DeviceID != "w0" {
			t.Error("Confirmations not ordered by confirmed_at ascending")
		}
	})
}

// TestMergeEnrichment tests that concurrent processor merges never lose
// each other's sections.
func TestMergeEnrichment(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
		t.Fatal(err)
	}

	processors := []string{"weather", "geocoding", "celestial", "satellites", "content_filter"}
	var wg sync.WaitGroup
	for _, name := range processors {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := s.MergeEnrichment(ctx, "s1", name, map[string]any{"status": "completed", "source": name})
			if err != nil {
				t.Errorf("Merge %s failed: %v", name, err)
			}
		}(name)
	}
	wg.Wait()

	got, _ := s.GetSighting(ctx, "s1")
	for _, name := range processors {
		section, ok := got.EnrichmentData[name]
		if !ok {
			t.Errorf("Section %s lost", name)
			continue
		}
		if section["source"] != name {
			t.Errorf("Section %s holds wrong payload: %v", name, section)
		}
	}

	if err := s.MergeEnrichment(ctx, "nope", "weather", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestUpdateAlertLevel tests monotonic escalation.
func TestUpdateAlertLevel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateAlertLevel(ctx, "s1", beep.LevelUrgent); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSighting(ctx, "s1")
	if got.AlertLevel != beep.LevelUrgent {
		t.Errorf("Expected urgent, got %s", got.AlertLevel)
	}

	// A lower level never wins.
	if err := s.UpdateAlertLevel(ctx, "s1", beep.LevelLow); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSighting(ctx, "s1")
	if got.AlertLevel != beep.LevelUrgent {
		t.Errorf("Level regressed to %s", got.AlertLevel)
	}
}

// TestDeviceDirectory tests the radius query against the eligibility and
// distance rules.
func TestDeviceDirectory(t *testing.T) {
	ctx := context.Background()

	// Center: downtown Seattle.
	const centerLat, centerLon = 47.6062, -122.3321

	device := func(id string, lat, lon *float64, mutate ...func(*beep.Device)) *beep.Device {
		d := &beep.Device{
			DeviceID:           id,
			Platform:           beep.PlatformIOS,
			PushToken:          ptr("token-" + id),
			PushProvider:       beep.ProviderFCM,
			PushEnabled:        true,
			AlertNotifications: true,
			IsActive:           true,
			Lat:                lat,
			Lon:                lon,
		}
		for _, m := range mutate {
			m(d)
		}
		return d
	}

	t.Run("Filters by distance and sorts ascending", func(t *testing.T) {
		s := NewMemoryStore()
		// ~0.8 km, ~3.7 km, ~full-city away.
		for _, d := range []*beep.Device{
			device("near", ptr(47.6135), ptr(-122.3321)),
			device("mid", ptr(47.6395), ptr(-122.3300)),
			device("far", ptr(47.9000), ptr(-122.3000)),
		} {
			if err := s.UpsertDevice(ctx, d); err != nil {
				t.Fatal(err)
			}
		}

		hits, err := s.DevicesWithinRadius(ctx, centerLat, centerLon, 5, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Fatalf("Expected 2 hits, got %d", len(hits))
		}
		if hits[0].Device.DeviceID != "near" || hits[1].Device.DeviceID != "mid" {
			t.Errorf("Not sorted by distance: %s, %s", hits[0].Device.DeviceID, hits[1].Device.DeviceID)
		}
		if hits[0].DistanceKm >= hits[1].DistanceKm {
			t.Error("Distances not ascending")
		}
	})

	t.Run("Excludes submitter and ineligible devices", func(t *testing.T) {
		s := NewMemoryStore()
		devices := []*beep.Device{
			device("submitter", ptr(centerLat), ptr(centerLon)),
			device("ok", ptr(47.6100), ptr(-122.3300)),
			device("inactive", ptr(47.6100), ptr(-122.3300), func(d *beep.Device) { d.IsActive = false }),
			device("push-off", ptr(47.6100), ptr(-122.3300), func(d *beep.Device) { d.PushEnabled = false }),
			device("no-token", ptr(47.6100), ptr(-122.3300), func(d *beep.Device) { d.PushToken = nil }),
			device("alerts-off", ptr(47.6100), ptr(-122.3300), func(d *beep.Device) { d.AlertNotifications = false }),
		}
		for _, d := range devices {
			if err := s.UpsertDevice(ctx, d); err != nil {
				t.Fatal(err)
			}
		}

		hits, err := s.DevicesWithinRadius(ctx, centerLat, centerLon, 5, "submitter")
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].Device.DeviceID != "ok" {
			t.Errorf("Expected only the eligible device, got %d hits", len(hits))
		}
	})

	t.Run("No-location devices only at the widest ring", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.UpsertDevice(ctx, device("nowhere", nil, nil)); err != nil {
			t.Fatal(err)
		}

		hits, err := s.DevicesWithinRadius(ctx, centerLat, centerLon, 10, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 0 {
			t.Errorf("No-location device leaked into a 10 km query")
		}

		hits, err = s.DevicesWithinRadius(ctx, centerLat, centerLon, 25, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 {
			t.Fatalf("Expected the no-location device at 25 km, got %d", len(hits))
		}
		if hits[0].DistanceKm != 25 {
			t.Errorf("Expected distance = radius, got %f", hits[0].DistanceKm)
		}
	})

	t.Run("Invalid center rejected", func(t *testing.T) {
		s := NewMemoryStore()
		if _, err := s.DevicesWithinRadius(ctx, 95, 0, 5, ""); err == nil {
			t.Error("Expected validation error")
		}
	})
}

// TestEngagement tests the append-only log and device counters.
func TestEngagement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.UpsertDevice(ctx, &beep.Device{DeviceID: "d1", PushEnabled: true, IsActive: true}); err != nil {
		t.Fatal(err)
	}

	events := []beep.EngagementType{
		beep.EngagementAlertSent,
		beep.EngagementAlertOpened,
		beep.EngagementSeeItToo,
	}
	for _, et := range events {
		err := s.AppendEngagement(ctx, &beep.EngagementEvent{
			DeviceID:  "d1",
			EventType: et,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if got := len(s.Engagements()); got != 3 {
		t.Errorf("Expected 3 events, got %d", got)
	}

	d, _ := s.GetDevice(ctx, "d1")
	if d.NotificationsSent != 1 || d.NotificationsOpened != 1 {
		t.Errorf("Counters wrong: sent=%d opened=%d", d.NotificationsSent, d.NotificationsOpened)
	}
}

// TestCountRecentWitnessesNear tests the escalation input query.
func TestCountRecentWitnessesNear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateSighting(ctx, newTestSighting("s1")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	add := func(id string, lat, lon float64, at time.Time) {
		_, err := s.AddWitness(ctx, &beep.WitnessConfirmation{
			SightingID:  "s1",
			DeviceID:    id,
			ConfirmedAt: at,
			Latitude:    &lat,
			Longitude:   &lon,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	add("recent-near", 47.6100, -122.3320, now.Add(-5*time.Minute))
	add("recent-far", 48.5000, -122.3320, now.Add(-5*time.Minute))
	add("old-near", 47.6100, -122.3320, now.Add(-2*time.Hour))

	count, err := s.CountRecentWitnessesNear(ctx, 47.6062, -122.3321, 10, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 recent near witness, got %d", count)
	}
}
