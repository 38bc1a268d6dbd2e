package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// defaultBatchSize matches the FCM SendEach limit.
const defaultBatchSize = 500

// FCMDispatcher delivers through Firebase Cloud Messaging.
type FCMDispatcher struct {
	client    *messaging.Client
	batchSize int
}

// NewFCMDispatcher initialises the Firebase app from a service-account
// credentials file. Returns ErrDispatchUnavailable when the file path is
// empty; callers run without push in that case.
func NewFCMDispatcher(ctx context.Context, credentialsFile string, batchSize int) (*FCMDispatcher, error) {
	if credentialsFile == "" {
		return nil, ErrDispatchUnavailable
	}
	if batchSize <= 0 || batchSize > defaultBatchSize {
		batchSize = defaultBatchSize
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise messaging client: %w", err)
	}

	return &FCMDispatcher{client: client, batchSize: batchSize}, nil
}

// Send delivers the notifications in SendEach batches and reports the
// per-token outcome. Unregistered tokens are flagged so the caller can
// disable push for them.
func (d *FCMDispatcher) Send(ctx context.Context, notifications []Notification) ([]SendResult, error) {
	results := make([]SendResult, 0, len(notifications))

	for start := 0; start < len(notifications); start += d.batchSize {
		end := start + d.batchSize
		if end > len(notifications) {
			end = len(notifications)
		}
		batch := notifications[start:end]

		messages := make([]*messaging.Message, len(batch))
		for i, n := range batch {
			messages[i] = &messaging.Message{
				Token: n.Token,
				Notification: &messaging.Notification{
					Title: n.Title,
					Body:  n.Body,
				},
				Data: n.Data,
				Android: &messaging.AndroidConfig{
					Priority: "high",
				},
				APNS: &messaging.APNSConfig{
					Payload: &messaging.APNSPayload{
						Aps: &messaging.Aps{Sound: "default"},
					},
				},
			}
		}

		resp, err := d.client.SendEach(ctx, messages)
		if err != nil {
			// Whole-batch failure: report every token as failed and
			// keep going with the remaining batches.
			for _, n := range batch {
				results = append(results, SendResult{Token: n.Token, Err: err})
			}
			continue
		}

		for i, r := range resp.Responses {
			res := SendResult{Token: batch[i].Token, OK: r.Success}
			if r.Error != nil {
				res.Err = r.Error
				res.Unregistered = messaging.IsUnregistered(r.Error)
			}
			results = append(results, res)
		}
	}

	return results, nil
}

// Close is a no-op; the messaging client holds no persistent connection.
func (d *FCMDispatcher) Close() error {
	return nil
}
