package push

import (
	"fmt"
	"strconv"
	"time"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/geo"
)

// Alert action hints understood by clients.
const (
	ActionOpenCompass  = "open_compass"
	ActionOpenSighting = "open_sighting"
)

// AlertContext carries the sighting-level fields shared by every
// recipient of one fan-out.
type AlertContext struct {
	SightingID        string
	Level             beep.AlertLevel
	WitnessCount      int
	Timestamp         time.Time
	Action            string
	SubmitterDeviceID string

	// Jittered sighting position, when known.
	Lat          *float64
	Lon          *float64
	LocationName string
}

// BuildData assembles the opaque string map of a push payload. The key
// names are consumed verbatim by clients. Distance and bearing are
// per-recipient: bearing is the forward bearing from the device to the
// sighting, included only when the device position is known.
func BuildData(ac AlertContext, deviceLat, deviceLon *float64, distanceKm float64) map[string]string {
	data := map[string]string{
		"type":                "sighting_alert",
		"sighting_id":         ac.SightingID,
		"alert_level":         string(ac.Level),
		"witness_count":       strconv.Itoa(ac.WitnessCount),
		"timestamp":           ac.Timestamp.UTC().Format(time.RFC3339),
		"action":              ac.Action,
		"submitter_device_id": ac.SubmitterDeviceID,
	}

	if ac.Lat != nil && ac.Lon != nil {
		data["latitude"] = strconv.FormatFloat(*ac.Lat, 'f', -1, 64)
		data["longitude"] = strconv.FormatFloat(*ac.Lon, 'f', -1, 64)
		if ac.LocationName != "" {
			data["location_name"] = ac.LocationName
		}

		if deviceLat != nil && deviceLon != nil {
			data["distance"] = fmt.Sprintf("%.1f", distanceKm)
			bearing := geo.BearingDeg(*deviceLat, *deviceLon, *ac.Lat, *ac.Lon)
			data["bearing"] = fmt.Sprintf("%.1f", bearing)
		}
	}

	return data
}
