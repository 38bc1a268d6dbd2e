package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/geo"
)

// MemoryStore implements Store on in-process maps. It backs tests and
// single-node deployments without Postgres. All methods are safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	sightings   map[string]*beep.Sighting
	witnesses   map[string][]beep.WitnessConfirmation
	witnessSeen map[string]bool // "sightingID/deviceID"
	devices     map[string]*beep.Device
	engagements []beep.EngagementEvent
	alerts      []beep.AlertRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sightings:   make(map[string]*beep.Sighting),
		witnesses:   make(map[string][]beep.WitnessConfirmation),
		witnessSeen: make(map[string]bool),
		devices:     make(map[string]*beep.Device),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

// CreateSighting persists a new sighting; re-creating an id is a no-op.
func (s *MemoryStore) CreateSighting(ctx context.Context, sighting *beep.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sighting.ID == "" {
		sighting.ID = uuid.NewString()
	}
	if _, exists := s.sightings[sighting.ID]; exists {
		return nil
	}

	cp := cloneSighting(sighting)
	if cp.EnrichmentData == nil {
		cp.EnrichmentData = beep.EnrichmentData{}
	}
	s.sightings[sighting.ID] = cp
	return nil
}

// GetSighting returns a copy so callers never alias store state. The
// original coordinates are stripped, matching the read contract.
func (s *MemoryStore) GetSighting(ctx context.Context, id string) (*beep.Sighting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sighting, ok := s.sightings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneSighting(sighting)
	cp.SensorData.Location.OriginalLat = nil
	cp.SensorData.Location.OriginalLon = nil
	return cp, nil
}

func (s *MemoryStore) ListPublicSightings(ctx context.Context, limit, offset int) ([]beep.Sighting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*beep.Sighting
	for _, sighting := range s.sightings {
		if sighting.IsPublic {
			all = append(all, sighting)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]beep.Sighting, 0, len(all))
	for _, sighting := range all {
		cp := cloneSighting(sighting)
		cp.SensorData.Location.OriginalLat = nil
		cp.SensorData.Location.OriginalLon = nil
		out = append(out, *cp)
	}
	return out, nil
}

func (s *MemoryStore) MergeEnrichment(ctx context.Context, sightingID, processor string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sighting, ok := s.sightings[sightingID]
	if !ok {
		return ErrNotFound
	}
	if sighting.EnrichmentData == nil {
		sighting.EnrichmentData = beep.EnrichmentData{}
	}
	sighting.EnrichmentData[processor] = data
	sighting.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateAlertLevel(ctx context.Context, sightingID string, level beep.AlertLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sighting, ok := s.sightings[sightingID]
	if !ok {
		return ErrNotFound
	}
	sighting.AlertLevel = sighting.AlertLevel.Max(level)
	sighting.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AttachMedia(ctx context.Context, sightingID string, file beep.MediaFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sighting, ok := s.sightings[sightingID]
	if !ok {
		return ErrNotFound
	}
	sighting.MediaInfo.Files = append(sighting.MediaInfo.Files, file)
	sighting.MediaInfo.Count = len(sighting.MediaInfo.Files)
	sighting.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AddWitness(ctx context.Context, w *beep.WitnessConfirmation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sighting, ok := s.sightings[w.SightingID]
	if !ok {
		return 0, ErrNotFound
	}

	key := w.SightingID + "/" + w.DeviceID
	if s.witnessSeen[key] {
		return 0, ErrDuplicateWitness
	}

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.witnessSeen[key] = true
	s.witnesses[w.SightingID] = append(s.witnesses[w.SightingID], *w)

	sighting.WitnessCount++
	sighting.UpdatedAt = time.Now().UTC()
	return sighting.WitnessCount, nil
}

func (s *MemoryStore) ListWitnesses(ctx context.Context, sightingID string) ([]beep.WitnessConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]beep.WitnessConfirmation, len(s.witnesses[sightingID]))
	copy(out, s.witnesses[sightingID])
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConfirmedAt.Before(out[j].ConfirmedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountRecentWitnessesNear(ctx context.Context, lat, lon, radiusKm float64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, list := range s.witnesses {
		for _, w := range list {
			if w.ConfirmedAt.Before(since) || w.Latitude == nil || w.Longitude == nil {
				continue
			}
			if geo.DistanceKm(lat, lon, *w.Latitude, *w.Longitude) <= radiusKm {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) UpsertDevice(ctx context.Context, d *beep.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.devices[d.DeviceID]; ok {
		d.ID = existing.ID
		d.NotificationsSent = existing.NotificationsSent
		d.NotificationsOpened = existing.NotificationsOpened
	} else if d.ID == "" {
		d.ID = uuid.NewString()
	}
	cp := *d
	s.devices[d.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*beep.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) DevicesWithinRadius(ctx context.Context, lat, lon, radiusKm float64, excludeDeviceID string) ([]DeviceHit, error) {
	if err := geo.ValidateLatLon(lat, lon); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []DeviceHit
	for _, d := range s.devices {
		if d.DeviceID == excludeDeviceID || !d.Eligible() {
			continue
		}
		if !d.HasLocation() {
			if radiusKm >= noLocationMinRadiusKm {
				hits = append(hits, DeviceHit{Device: *d, DistanceKm: radiusKm})
			}
			continue
		}
		distanceKm := geo.DistanceKm(lat, lon, *d.Lat, *d.Lon)
		if distanceKm <= radiusKm {
			hits = append(hits, DeviceHit{Device: *d, DistanceKm: distanceKm})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	if len(hits) > deviceResultCap {
		hits = hits[:deviceResultCap]
	}
	return hits, nil
}

func (s *MemoryStore) DisablePushToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.devices {
		if d.PushToken != nil && *d.PushToken == token {
			d.PushEnabled = false
		}
	}
	return nil
}

func (s *MemoryStore) AppendEngagement(ctx context.Context, e *beep.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.engagements = append(s.engagements, *e)

	if d, ok := s.devices[e.DeviceID]; ok {
		switch e.EventType {
		case beep.EngagementAlertSent:
			d.NotificationsSent++
		case beep.EngagementAlertOpened:
			d.NotificationsOpened++
		}
	}
	return nil
}

func (s *MemoryStore) RecordAlert(ctx context.Context, a *beep.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.alerts = append(s.alerts, *a)
	return nil
}

// Engagements returns a copy of the engagement log. Test helper.
func (s *MemoryStore) Engagements() []beep.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]beep.EngagementEvent, len(s.engagements))
	copy(out, s.engagements)
	return out
}

// Alerts returns a copy of the alert log. Test helper.
func (s *MemoryStore) Alerts() []beep.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]beep.AlertRecord, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// cloneSighting deep-copies through JSON. Sighting payloads are small and
// the store is not on any hot read path.
func cloneSighting(s *beep.Sighting) *beep.Sighting {
	raw, _ := json.Marshal(s)
	var cp beep.Sighting
	_ = json.Unmarshal(raw, &cp)
	// Original coordinates are json:"-" and survive only by hand.
	cp.SensorData.Location.OriginalLat = s.SensorData.Location.OriginalLat
	cp.SensorData.Location.OriginalLon = s.SensorData.Location.OriginalLon
	return &cp
}
