package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/skybeep/skybeep/internal/push"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
)

func ptr[T any](v T) *T { return &v }

// fakeDispatcher records notifications and simulates per-token outcomes.
type fakeDispatcher struct {
	mu           sync.Mutex
	sent         []push.Notification
	unregistered map[string]bool
	unavailable  bool
}

func (f *fakeDispatcher) Send(ctx context.Context, notifications []push.Notification) ([]push.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, push.ErrDispatchUnavailable
	}
	f.sent = append(f.sent, notifications...)
	results := make([]push.SendResult, len(notifications))
	for i, n := range notifications {
		if f.unregistered[n.Token] {
			results[i] = push.SendResult{Token: n.Token, Unregistered: true, Err: fmt.Errorf("unregistered")}
			continue
		}
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

const (
	sightLat = 47.6213
	sightLon = -122.3790
)

func seedDevice(t *testing.T, st store.Store, deviceID, token string, lat, lon *float64) {
	t.Helper()
	err := st.UpsertDevice(context.Background(), &beep.Device{
		ID:                 "row-" + deviceID,
		DeviceID:           deviceID,
		Platform:           beep.PlatformAndroid,
		PushToken:          &token,
		PushProvider:       beep.ProviderFCM,
		PushEnabled:        true,
		AlertNotifications: true,
		IsActive:           true,
		Lat:                lat,
		Lon:                lon,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// offsetFrom places a point at roughly the given north/east displacement
// in kilometres from the sighting.
func offsetFrom(northKm, eastKm float64) (float64, float64) {
	return sightLat + northKm/110.574, sightLon + eastKm/75.05
}

func testSighting(id, reporter string, witnessCount int) *beep.Sighting {
	return &beep.Sighting{
		ID:               id,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
		ReporterDeviceID: reporter,
		Category:         "ufo",
		AlertLevel:       beep.LevelNormal,
		Status:           beep.StatusCreated,
		WitnessCount:     witnessCount,
		IsPublic:         true,
		SensorData: beep.SensorData{
			Location: beep.Location{Lat: sightLat, Lon: sightLon},
		},
	}
}

func newEngine(st store.Store, d push.Dispatcher, cap15Min int) *Engine {
	gate := ratelimit.NewFanoutGate(ratelimit.NewMemoryWindow(), cap15Min)
	return NewEngine(st, d, gate, config.FanoutConfig{
		RingsKm:                       []float64{1, 5, 10, 25},
		Rate15MinCap:                  cap15Min,
		EmergencyOverrideWitnessCount: 10,
		MaxConcurrentRings:            4,
	}, nil)
}

func TestFanOutRingPartition(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := &fakeDispatcher{}
	e := newEngine(st, d, 100)

	lat1, lon1 := offsetFrom(0.5, 0)
	lat2, lon2 := offsetFrom(0, 3)
	lat3, lon3 := offsetFrom(-8, 0)
	lat4, lon4 := offsetFrom(0, -20)
	seedDevice(t, st, "inner", "t-inner", &lat1, &lon1)
	seedDevice(t, st, "near", "t-near", &lat2, &lon2)
	seedDevice(t, st, "area", "t-area", &lat3, &lon3)
	seedDevice(t, st, "far", "t-far", &lat4, &lon4)
	seedDevice(t, st, "nowhere", "t-nowhere", nil, nil)
	seedDevice(t, st, "reporter", "t-reporter", &lat2, &lon2)

	sighting := testSighting("s1", "reporter", 1)
	if err := st.CreateSighting(ctx, sighting); err != nil {
		t.Fatal(err)
	}

	result, err := e.FanOut(ctx, sighting)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSent != 5 {
		t.Errorf("TotalSent = %d, expected 5", result.TotalSent)
	}
	if result.EscalationApplied != beep.LevelNormal {
		t.Errorf("EscalationApplied = %s", result.EscalationApplied)
	}

	wantRing := map[string]string{
		"t-inner":   "1km",
		"t-near":    "5km",
		"t-area":    "10km",
		"t-far":     "25km",
		"t-nowhere": "25km",
	}
	wantLevel := map[string]string{
		"t-inner":   "emergency",
		"t-near":    "urgent",
		"t-area":    "normal",
		"t-far":     "normal",
		"t-nowhere": "normal",
	}
	seen := map[string]int{}
	for _, n := range d.notifications() {
		seen[n.Token]++
		if n.Data["ring"] != wantRing[n.Token] {
			t.Errorf("Token %s in ring %s, expected %s", n.Token, n.Data["ring"], wantRing[n.Token])
		}
		if n.Data["alert_level"] != wantLevel[n.Token] {
			t.Errorf("Token %s at level %s, expected %s", n.Token, n.Data["alert_level"], wantLevel[n.Token])
		}
		if n.Data["submitter_device_id"] != "reporter" {
			t.Errorf("Missing submitter id in %v", n.Data)
		}
	}
	if _, ok := seen["t-reporter"]; ok {
		t.Error("Reporter alerted about own sighting")
	}
	for token, count := range seen {
		if count != 1 {
			t.Errorf("Token %s received %d alerts", token, count)
		}
	}
	if result.PerRingCounts["25km"] != 2 {
		t.Errorf("PerRingCounts = %v", result.PerRingCounts)
	}
}

func TestFanOutPayload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := &fakeDispatcher{}
	e := newEngine(st, d, 100)

	// ~8 km north-east: the 10 km ring at normal level.
	lat, lon := offsetFrom(5.66, 5.66)
	seedDevice(t, st, "d1", "t1", &lat, &lon)

	sighting := testSighting("s1", "reporter", 1)
	if err := st.CreateSighting(ctx, sighting); err != nil {
		t.Fatal(err)
	}
	if err := st.MergeEnrichment(ctx, "s1", "geocoding", map[string]any{
		"location_name": "Seattle, Washington",
	}); err != nil {
		t.Fatal(err)
	}

	result, err := e.FanOut(ctx, sighting)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSent != 1 {
		t.Fatalf("TotalSent = %d", result.TotalSent)
	}

	sent := d.notifications()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(sent))
	}
	n := sent[0]
	if n.Data["type"] != "sighting_alert" || n.Data["action"] != "open_compass" {
		t.Errorf("Payload basics wrong: %v", n.Data)
	}
	if n.Data["alert_level"] != "normal" || n.Data["ring"] != "10km" {
		t.Errorf("Ring/level wrong: %v", n.Data)
	}
	distance, err := strconv.ParseFloat(n.Data["distance"], 64)
	if err != nil || distance < 7.5 || distance > 8.5 {
		t.Errorf("distance = %q", n.Data["distance"])
	}
	// The device sits north-east of the sighting, so it looks back
	// south-west.
	bearing, err := strconv.ParseFloat(n.Data["bearing"], 64)
	if err != nil || bearing < 215 || bearing > 235 {
		t.Errorf("bearing = %q", n.Data["bearing"])
	}
	if n.Data["location_name"] != "Seattle, Washington" {
		t.Errorf("location_name = %q", n.Data["location_name"])
	}
	if n.Title != "👁 UFO Alert in your area" {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Body != "New sighting near Seattle, Washington" {
		t.Errorf("Body = %q", n.Body)
	}

	alerts := st.Alerts()
	if len(alerts) != 1 || !alerts[0].Delivered || alerts[0].RingKm != 10 {
		t.Errorf("Alert record wrong: %+v", alerts)
	}
}

func seedConfirmations(t *testing.T, st store.Store, sightingID string, n int, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.AddWitness(context.Background(), &beep.WitnessConfirmation{
			ID:          fmt.Sprintf("w-%s-%d", sightingID, i),
			SightingID:  sightingID,
			DeviceID:    fmt.Sprintf("wd-%s-%d", sightingID, i),
			ConfirmedAt: time.Now().UTC().Add(-age),
			Latitude:    ptr(sightLat + 0.001),
			Longitude:   ptr(sightLon + 0.001),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestFanOutEscalation(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, witnesses int, want beep.AlertLevel) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		e := newEngine(st, d, 100)

		lat, lon := offsetFrom(-8, 0)
		seedDevice(t, st, "d1", "t1", &lat, &lon)

		prior := testSighting("prior", "someone", 1)
		if err := st.CreateSighting(ctx, prior); err != nil {
			t.Fatal(err)
		}
		seedConfirmations(t, st, "prior", witnesses, 10*time.Minute)

		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}
		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if result.EscalationApplied != want {
			t.Errorf("EscalationApplied = %s, expected %s", result.EscalationApplied, want)
		}
		for _, n := range d.notifications() {
			if n.Data["alert_level"] != string(want) {
				t.Errorf("alert_level = %s, expected %s", n.Data["alert_level"], want)
			}
		}
	}

	t.Run("Under three witnesses stays normal", func(t *testing.T) { run(t, 2, beep.LevelNormal) })
	t.Run("Three to nine witnesses is urgent", func(t *testing.T) { run(t, 4, beep.LevelUrgent) })
	t.Run("Ten or more is an emergency", func(t *testing.T) { run(t, 11, beep.LevelEmergency) })
}

func TestFanOutSuppression(t *testing.T) {
	ctx := context.Background()

	t.Run("Over the cap without an override", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		window := ratelimit.NewMemoryWindow()
		gate := ratelimit.NewFanoutGate(window, 3)
		e := NewEngine(st, d, gate, config.FanoutConfig{
			RingsKm:                       []float64{1, 5, 10, 25},
			EmergencyOverrideWitnessCount: 10,
		}, nil)

		lat, lon := offsetFrom(0.5, 0)
		seedDevice(t, st, "d1", "t1", &lat, &lon)
		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 4; i++ {
			if err := gate.Record(ctx); err != nil {
				t.Fatal(err)
			}
		}

		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if !result.Suppressed || result.TotalSent != 0 {
			t.Errorf("Expected suppression, got %+v", result)
		}
		if len(d.notifications()) != 0 {
			t.Error("Notifications sent while suppressed")
		}
	})

	t.Run("Mass sighting overrides the cap", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		window := ratelimit.NewMemoryWindow()
		gate := ratelimit.NewFanoutGate(window, 3)
		e := NewEngine(st, d, gate, config.FanoutConfig{
			RingsKm:                       []float64{1, 5, 10, 25},
			EmergencyOverrideWitnessCount: 10,
		}, nil)

		lat, lon := offsetFrom(0.5, 0)
		seedDevice(t, st, "d1", "t1", &lat, &lon)

		prior := testSighting("prior", "someone", 1)
		if err := st.CreateSighting(ctx, prior); err != nil {
			t.Fatal(err)
		}
		// Eleven confirmations inside 1 km in the last 5 minutes.
		seedConfirmations(t, st, "prior", 11, time.Minute)

		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 4; i++ {
			if err := gate.Record(ctx); err != nil {
				t.Fatal(err)
			}
		}

		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if result.Suppressed {
			t.Fatal("Override did not lift suppression")
		}
		if result.EscalationApplied != beep.LevelEmergency {
			t.Errorf("EscalationApplied = %s", result.EscalationApplied)
		}
		sent := d.notifications()
		if len(sent) != 1 || sent[0].Data["alert_level"] != "emergency" {
			t.Errorf("Expected one emergency alert, got %+v", sent)
		}
	})
}

func TestFanOutDispatcherFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Unavailable dispatcher sends nothing, no error", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{unavailable: true}
		e := newEngine(st, d, 100)

		lat, lon := offsetFrom(0.5, 0)
		seedDevice(t, st, "d1", "t1", &lat, &lon)
		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}

		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if result.TotalSent != 0 {
			t.Errorf("TotalSent = %d", result.TotalSent)
		}
	})

	t.Run("Unregistered token gets disabled", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{unregistered: map[string]bool{"stale": true}}
		e := newEngine(st, d, 100)

		lat, lon := offsetFrom(0.5, 0)
		seedDevice(t, st, "d1", "stale", &lat, &lon)
		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}

		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if result.TotalSent != 0 {
			t.Errorf("TotalSent = %d", result.TotalSent)
		}

		device, err := st.GetDevice(ctx, "d1")
		if err != nil {
			t.Fatal(err)
		}
		if device.PushEnabled {
			t.Error("Stale token still push-enabled")
		}
	})

	t.Run("No eligible devices", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := &fakeDispatcher{}
		e := newEngine(st, d, 100)

		sighting := testSighting("s1", "reporter", 1)
		if err := st.CreateSighting(ctx, sighting); err != nil {
			t.Fatal(err)
		}
		result, err := e.FanOut(ctx, sighting)
		if err != nil {
			t.Fatal(err)
		}
		if result.TotalSent != 0 {
			t.Errorf("TotalSent = %d", result.TotalSent)
		}
	})
}

func TestTitle(t *testing.T) {
	cases := []struct {
		ring  float64
		level beep.AlertLevel
		want  string
	}{
		{1, beep.LevelEmergency, "🚨 UFO EMERGENCY VERY CLOSE"},
		{5, beep.LevelUrgent, "⚡ UFO Sighting nearby"},
		{10, beep.LevelNormal, "👁 UFO Alert in your area"},
		{25, beep.LevelNormal, "👁 UFO Alert within 25km"},
		{25, beep.LevelEmergency, "🚨 UFO EMERGENCY within 25km"},
	}
	for _, tc := range cases {
		if got := Title(tc.ring, tc.level); got != tc.want {
			t.Errorf("Title(%v, %s) = %q, expected %q", tc.ring, tc.level, got, tc.want)
		}
	}
}

func TestBody(t *testing.T) {
	cases := []struct {
		count    int
		location string
		want     string
	}{
		{1, "", "New sighting"},
		{2, "", "2nd witness"},
		{3, "", "Multiple witnesses (3)"},
		{9, "Tacoma, Washington", "Multiple witnesses (9) near Tacoma, Washington"},
		{10, "", "MASS SIGHTING — 10 witnesses"},
		{14, "Reno, Nevada", "MASS SIGHTING — 14 witnesses near Reno, Nevada"},
	}
	for _, tc := range cases {
		if got := Body(tc.count, tc.location); got != tc.want {
			t.Errorf("Body(%d, %q) = %q, expected %q", tc.count, tc.location, got, tc.want)
		}
	}
}
