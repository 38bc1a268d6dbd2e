// Package adsb provides live aircraft state vectors for the aircraft-match
// analyser. The StateSource abstraction allows switching between the hosted
// OpenSky-compatible API and local receivers without touching the analyser.
package adsb

import (
	"context"
	"fmt"
	"time"
)

// StateVector is one aircraft's most recent reported state.
// All position data is in WGS84 decimal degrees.
type StateVector struct {
	// ICAO24 is the unique 24-bit transponder address, lowercase hex
	ICAO24 string

	// Callsign is the flight number or registration, trimmed
	Callsign string

	// Latitude in decimal degrees (-90 to +90); nil when not reported
	Latitude *float64

	// Longitude in decimal degrees (-180 to +180); nil when not reported
	Longitude *float64

	// BaroAltitudeM is barometric altitude in meters; nil when on ground
	// or not reported
	BaroAltitudeM *float64

	// GeoAltitudeM is geometric (GPS) altitude in meters
	GeoAltitudeM *float64

	// VelocityMS is ground speed in meters per second
	VelocityMS *float64

	// TrackDeg is the ground track in degrees (0-360)
	TrackDeg *float64

	// VerticalRateMS in meters per second (positive = climbing)
	VerticalRateMS *float64

	// OnGround reports whether the transponder indicates surface position
	OnGround bool

	// LastContact is the time of the last received message
	LastContact time.Time
}

// HasPosition reports whether the vector carries a usable 3-D position.
func (s *StateVector) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil && s.BaroAltitudeM != nil && !s.OnGround
}

// AltitudeM returns the best available altitude, preferring barometric.
func (s *StateVector) AltitudeM() float64 {
	if s.BaroAltitudeM != nil {
		return *s.BaroAltitudeM
	}
	if s.GeoAltitudeM != nil {
		return *s.GeoAltitudeM
	}
	return 0
}

// StateSource is the interface all aircraft state providers implement.
type StateSource interface {
	// StatesInBox returns the state vectors inside a lat/lon window at
	// the given time. Implementations may quantise t into buckets and
	// serve cached results inside a bucket.
	StatesInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64, t time.Time) ([]StateVector, error)

	// Close cleanly shuts down the source.
	Close() error
}

// UpstreamError reports a provider failure with enough context for the
// caller to decide whether to retry.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Retriable  bool
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsUpstreamRetriable reports whether err is a retriable provider failure.
func IsUpstreamRetriable(err error) bool {
	ue, ok := err.(*UpstreamError)
	return ok && ue.Retriable
}
