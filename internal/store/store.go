// Package store is the persistence gateway: sightings, witness
// confirmations, devices, engagement events and outbound alert records.
// Two implementations exist, PostgresStore and MemoryStore; callers only
// ever see the Store interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skybeep/skybeep/pkg/beep"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateWitness is returned by AddWitness when the device already
// confirmed the sighting. One confirmation per device per sighting.
var ErrDuplicateWitness = errors.New("duplicate witness confirmation")

// TransientError marks a backend failure worth retrying: connection loss,
// serialization conflicts, backend overload. The gateway itself never
// retries; callers retry up to three times with exponential backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retriable backend failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DeviceHit is one device directory result with its distance from the
// query center. Devices without a known location carry distance = radius.
type DeviceHit struct {
	Device     beep.Device
	DistanceKm float64
}

// Store is the persistence gateway every service depends on.
type Store interface {
	// CreateSighting persists a new sighting. When the sighting carries a
	// caller-supplied id the call is idempotent: re-creating an existing
	// id is a no-op.
	CreateSighting(ctx context.Context, s *beep.Sighting) error

	// GetSighting returns a sighting by id, or ErrNotFound.
	GetSighting(ctx context.Context, id string) (*beep.Sighting, error)

	// ListPublicSightings returns public sightings ordered by created_at
	// descending.
	ListPublicSightings(ctx context.Context, limit, offset int) ([]beep.Sighting, error)

	// MergeEnrichment atomically merges one processor's result into the
	// sighting's enrichment data. Concurrent merges for different
	// processors never lose each other's writes.
	MergeEnrichment(ctx context.Context, sightingID, processor string, data map[string]any) error

	// UpdateAlertLevel raises a sighting's alert level. Levels only ever
	// go up; a write with a lower level is ignored.
	UpdateAlertLevel(ctx context.Context, sightingID string, level beep.AlertLevel) error

	// AttachMedia appends a media file to the sighting and bumps the count.
	AttachMedia(ctx context.Context, sightingID string, file beep.MediaFile) error

	// AddWitness persists a confirmation and atomically increments the
	// sighting's witness count in the same transaction, returning the new
	// count. Returns ErrDuplicateWitness when the device already confirmed
	// this sighting, ErrNotFound when the sighting does not exist.
	AddWitness(ctx context.Context, w *beep.WitnessConfirmation) (int, error)

	// ListWitnesses returns a sighting's confirmations ordered by
	// confirmed_at ascending.
	ListWitnesses(ctx context.Context, sightingID string) ([]beep.WitnessConfirmation, error)

	// CountRecentWitnessesNear counts confirmations with a reported
	// location within radiusKm of the center since the given time.
	CountRecentWitnessesNear(ctx context.Context, lat, lon, radiusKm float64, since time.Time) (int, error)

	// UpsertDevice registers or refreshes a device record keyed by its
	// client-chosen device_id.
	UpsertDevice(ctx context.Context, d *beep.Device) error

	// GetDevice returns a device by its client-chosen device_id.
	GetDevice(ctx context.Context, deviceID string) (*beep.Device, error)

	// DevicesWithinRadius is the device directory query: eligible devices
	// (active, push enabled, token present, alerts on) within radiusKm of
	// the center, excluding one device id, sorted ascending by distance and
	// capped. Devices without a known location are included only when
	// radiusKm is at least 25 and carry distance = radius.
	DevicesWithinRadius(ctx context.Context, lat, lon, radiusKm float64, excludeDeviceID string) ([]DeviceHit, error)

	// DisablePushToken turns off push for every device holding the token.
	// Called when the delivery backend reports the token unregistered.
	DisablePushToken(ctx context.Context, token string) error

	// AppendEngagement records an engagement event (append-only) and bumps
	// the device's notification counters for sent/opened events.
	AppendEngagement(ctx context.Context, e *beep.EngagementEvent) error

	// RecordAlert persists outbound delivery metadata for one device alert.
	RecordAlert(ctx context.Context, a *beep.AlertRecord) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
