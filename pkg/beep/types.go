// Package beep defines the shared domain types of the sighting-alert network:
// sightings, witness confirmations, devices, engagement events and outbound
// alert records. All services exchange these types; cross-entity references
// are by id only.
package beep

import "time"

// AlertLevel is the severity attached to a sighting and its outbound alerts.
type AlertLevel string

const (
	LevelLow       AlertLevel = "low"
	LevelNormal    AlertLevel = "normal"
	LevelUrgent    AlertLevel = "urgent"
	LevelEmergency AlertLevel = "emergency"
)

// rank orders alert levels for monotonic escalation comparisons.
func (l AlertLevel) rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelNormal:
		return 1
	case LevelUrgent:
		return 2
	case LevelEmergency:
		return 3
	}
	return -1
}

// Max returns the stricter of two levels. Escalation only ever raises a
// level, never lowers it.
func (l AlertLevel) Max(other AlertLevel) AlertLevel {
	if other.rank() > l.rank() {
		return other
	}
	return l
}

// AtLeast reports whether l is at least as severe as other.
func (l AlertLevel) AtLeast(other AlertLevel) bool {
	return l.rank() >= other.rank()
}

// SightingStatus tracks a sighting's lifecycle. The core only ever creates
// sightings in StatusCreated; later states are set by moderation tooling.
type SightingStatus string

const (
	StatusCreated   SightingStatus = "created"
	StatusProcessed SightingStatus = "processed"
	StatusVerified  SightingStatus = "verified"
)

// Platform identifies the client platform of a device.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// PushProvider identifies the delivery backend for a device's push token.
type PushProvider string

const (
	ProviderFCM     PushProvider = "fcm"
	ProviderAPNS    PushProvider = "apns"
	ProviderWebPush PushProvider = "webpush"
)

// WitnessConfidence is the self-reported confidence of a confirmation.
type WitnessConfidence string

const (
	ConfidenceLow    WitnessConfidence = "low"
	ConfidenceMedium WitnessConfidence = "medium"
	ConfidenceHigh   WitnessConfidence = "high"
)

// EngagementType enumerates append-only engagement events.
type EngagementType string

const (
	EngagementAlertSent     EngagementType = "alert_sent"
	EngagementSeeItToo      EngagementType = "quick_action_see_it_too"
	EngagementDontSee       EngagementType = "quick_action_dont_see"
	EngagementMissed        EngagementType = "quick_action_missed"
	EngagementAlertOpened   EngagementType = "alert_opened"
	EngagementBeepSubmitted EngagementType = "beep_submitted"
)

// Location is a geographic position as reported by a device sensor.
// For public sightings Lat/Lon always hold the jittered coordinates;
// the true coordinates live only in OriginalLat/OriginalLon and are
// never surfaced through any read path.
type Location struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AccuracyM   *float64 `json:"accuracy_m,omitempty"`
	AltitudeM   *float64 `json:"altitude_m,omitempty"`
	OriginalLat *float64 `json:"-"`
	OriginalLon *float64 `json:"-"`
}

// SensorData captures the device pose at the moment of the beep. Azimuth,
// pitch and roll are optional: older clients report location only.
type SensorData struct {
	Location   Location  `json:"location"`
	AzimuthDeg *float64  `json:"azimuth_deg,omitempty"`
	PitchDeg   *float64  `json:"pitch_deg,omitempty"`
	RollDeg    *float64  `json:"roll_deg,omitempty"`
	HFOVDeg    *float64  `json:"hfov_deg,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
}

// MediaKind distinguishes stored media artifacts.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaFile is one stored artifact with its rendition URLs. The four URL
// field names are consumed verbatim by clients and must not change.
type MediaFile struct {
	ID           string            `json:"id"`
	Kind         MediaKind         `json:"kind"`
	Filename     string            `json:"filename"`
	URL          string            `json:"url"`
	ThumbnailURL string            `json:"thumbnail_url"`
	WebURL       string            `json:"web_url"`
	PreviewURL   string            `json:"preview_url"`
	Size         int64             `json:"size"`
	EXIF         map[string]string `json:"exif,omitempty"`
}

// MediaInfo aggregates a sighting's media files.
type MediaInfo struct {
	Files []MediaFile `json:"files"`
	Count int         `json:"count"`
}

// EnrichmentData maps processor name to that processor's result payload.
// A key is present for every processor that ran, success or not.
type EnrichmentData map[string]map[string]any

// Sighting is the root entity of the network.
type Sighting struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReporterDeviceID string  `json:"reporter_device_id"`
	ReporterID       *string `json:"reporter_id,omitempty"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`

	SensorData     SensorData     `json:"sensor_data"`
	MediaInfo      MediaInfo      `json:"media_info"`
	EnrichmentData EnrichmentData `json:"enrichment_data"`

	AlertLevel AlertLevel     `json:"alert_level"`
	Status     SightingStatus `json:"status"`

	// WitnessCount is monotonic non-decreasing; set to 1 on creation
	// (the reporter counts as the first witness).
	WitnessCount int  `json:"witness_count"`
	IsPublic     bool `json:"is_public"`
}

// WitnessConfirmation is a single device's confirmation of a sighting.
// (SightingID, DeviceID) is unique: one confirmation per device per sighting.
type WitnessConfirmation struct {
	ID          string    `json:"id"`
	SightingID  string    `json:"sighting_id"`
	DeviceID    string    `json:"device_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`

	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`

	StillVisible bool              `json:"still_visible"`
	Confidence   WitnessConfidence `json:"confidence"`
	Description  string            `json:"description,omitempty"`
	Platform     string            `json:"platform,omitempty"`
	AppVersion   string            `json:"app_version,omitempty"`

	// DistanceKmToSighting is computed at insert time when the witness
	// reported a location.
	DistanceKmToSighting *float64 `json:"distance_km_to_sighting,omitempty"`
}

// Device is a registered mobile client. DeviceID is the client-chosen
// opaque identifier; ID is the server-assigned row id.
type Device struct {
	ID       string  `json:"id"`
	DeviceID string  `json:"device_id"`
	UserID   *string `json:"user_id,omitempty"`

	Platform     Platform     `json:"platform"`
	PushToken    *string      `json:"push_token,omitempty"`
	PushProvider PushProvider `json:"push_provider,omitempty"`
	PushEnabled  bool         `json:"push_enabled"`

	AlertNotifications  bool `json:"alert_notifications"`
	ChatNotifications   bool `json:"chat_notifications"`
	SystemNotifications bool `json:"system_notifications"`

	IsActive bool       `json:"is_active"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Lat      *float64   `json:"lat,omitempty"`
	Lon      *float64   `json:"lon,omitempty"`

	NotificationsSent   int `json:"notifications_sent"`
	NotificationsOpened int `json:"notifications_opened"`
}

// Eligible reports whether the device can receive alert fan-out at all.
// Devices without a known location are additionally restricted to the
// outermost ring by the device directory.
func (d *Device) Eligible() bool {
	return d.IsActive && d.PushEnabled && d.PushToken != nil && *d.PushToken != "" && d.AlertNotifications
}

// HasLocation reports whether the device has a last-known position.
func (d *Device) HasLocation() bool {
	return d.Lat != nil && d.Lon != nil
}

// EngagementEvent is an append-only record of a device interaction.
type EngagementEvent struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	SightingID *string        `json:"sighting_id,omitempty"`
	EventType  EngagementType `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AlertRecord is outbound delivery metadata for one device alert.
type AlertRecord struct {
	ID         string     `json:"id"`
	SightingID string     `json:"sighting_id"`
	DeviceID   string     `json:"device_id"`
	DistanceKm float64    `json:"distance_km"`
	RingKm     float64    `json:"ring"`
	Level      AlertLevel `json:"level"`
	SentAt     time.Time  `json:"sent_at"`
	Delivered  bool       `json:"delivered"`
	Error      string     `json:"error,omitempty"`
}
