// Package witness validates confirmation submissions and aggregates the
// accepted confirmations of a sighting: bearing-line triangulation,
// consensus scoring and the auto-escalation decision.
package witness

import (
	"fmt"
	"time"
)

// WindowClosedError rejects a confirmation submitted after the witness
// window expired.
type WindowClosedError struct {
	Window    time.Duration
	ClosedFor time.Duration
}

func (e *WindowClosedError) Error() string {
	return fmt.Sprintf("witness window closed %s ago (confirmations accepted for %s after a sighting)",
		e.ClosedFor.Round(time.Second), e.Window)
}

// OutOfRangeError rejects a confirmation from too far away. LimitKm is
// the effective bound: the configured maximum, or twice the reported
// visibility when weather enrichment provides one.
type OutOfRangeError struct {
	DistanceKm float64
	LimitKm    float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("witness is %.1f km from the sighting, beyond the %.0f km limit",
		e.DistanceKm, e.LimitKm)
}
