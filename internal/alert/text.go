package alert

import (
	"fmt"

	"github.com/skybeep/skybeep/pkg/beep"
)

// levelPrefix is the emoji-and-label lead of every alert title.
func levelPrefix(level beep.AlertLevel) string {
	switch level {
	case beep.LevelEmergency:
		return "🚨 UFO EMERGENCY"
	case beep.LevelUrgent:
		return "⚡ UFO Sighting"
	default:
		return "👁 UFO Alert"
	}
}

// ringPhrase describes how close the sighting is in ring terms.
func ringPhrase(ringKm float64) string {
	switch {
	case ringKm <= 1:
		return "VERY CLOSE"
	case ringKm <= 5:
		return "nearby"
	case ringKm <= 10:
		return "in your area"
	default:
		return fmt.Sprintf("within %.0fkm", ringKm)
	}
}

// Title composes the notification title for a ring and level.
func Title(ringKm float64, level beep.AlertLevel) string {
	return levelPrefix(level) + " " + ringPhrase(ringKm)
}

// witnessDescriptor summarises corroboration strength.
func witnessDescriptor(witnessCount int) string {
	switch {
	case witnessCount >= 10:
		return fmt.Sprintf("MASS SIGHTING — %d witnesses", witnessCount)
	case witnessCount >= 3:
		return fmt.Sprintf("Multiple witnesses (%d)", witnessCount)
	case witnessCount == 2:
		return "2nd witness"
	default:
		return "New sighting"
	}
}

// Body composes the notification body from the witness count and the
// geocoded location name, when one is known.
func Body(witnessCount int, locationName string) string {
	body := witnessDescriptor(witnessCount)
	if locationName != "" {
		body += " near " + locationName
	}
	return body
}
