// Package push delivers sighting alerts to device push tokens. The
// Dispatcher interface hides the delivery backend; FCMDispatcher is the
// production implementation on Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
)

// ErrDispatchUnavailable is returned when push credentials are missing or
// invalid. Fatal for the current dispatch only; ingestion still succeeds.
var ErrDispatchUnavailable = errors.New("push dispatch unavailable: missing or invalid credentials")

// Notification is one fully-formed per-device message.
type Notification struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// SendResult is the per-token outcome of a dispatch.
type SendResult struct {
	Token string
	OK    bool

	// Unregistered marks tokens the backend no longer recognises; the
	// caller disables push for them.
	Unregistered bool
	Err          error
}

// Dispatcher delivers a batch of notifications. Delivery is best-effort:
// per-token failures land in the results, never in the returned error.
type Dispatcher interface {
	Send(ctx context.Context, notifications []Notification) ([]SendResult, error)
	Close() error
}
