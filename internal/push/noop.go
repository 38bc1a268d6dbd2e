package push

import "context"

// NoopDispatcher stands in when no push credentials are configured.
// Every send reports ErrDispatchUnavailable, which the fan-out engine
// treats as zero deliveries rather than a failure.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(ctx context.Context, notifications []Notification) ([]SendResult, error) {
	return nil, ErrDispatchUnavailable
}

func (NoopDispatcher) Close() error { return nil }
