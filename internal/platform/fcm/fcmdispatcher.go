package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

// MaxBatchSize is the delivery API's documented per-call token limit.
const MaxBatchSize = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch partitions tokens into contiguous batches of MaxBatchSize and sends
// each batch independently; a failed batch never aborts the remaining ones.
// Tokens the API reports as dead land in Report.InvalidTokens for the caller
// to deactivate. Transport failures from individual batches are joined into
// the returned error so the upstream transport redelivers the event.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg dispatch.Message) (dispatch.Report, error) {
	var report dispatch.Report
	if len(tokens) == 0 {
		return report, nil
	}

	var transportErrs []error
	for start := 0; start < len(tokens); start += MaxBatchSize {
		batch := tokens[start:min(start+MaxBatchSize, len(tokens))]
		report.Batches++

		br, err := d.client.SendEachForMulticast(ctx, buildMulticast(batch, msg))
		if err != nil {
			if messaging.IsInvalidArgument(err) {
				// Fatal validation error: the whole batch is garbage and
				// retrying cannot help. Count it as failed and move on.
				d.logger.Error("FCM rejected batch as InvalidArgument (dropping)",
					"batch", report.Batches, "err", err)
				report.FailureCount += len(batch)
				continue
			}
			transportErrs = append(transportErrs,
				fmt.Errorf("batch %d transport failed: %w", report.Batches, err))
			report.FailureCount += len(batch)
			continue
		}

		report.SuccessCount += br.SuccessCount
		report.FailureCount += br.FailureCount

		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			// Fatal per-token errors mean the token is no longer registered.
			// Everything else is transient and only counted.
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				report.InvalidTokens = append(report.InvalidTokens, batch[idx])
			}
		}
	}

	d.logger.Debug("Dispatch complete",
		"batches", report.Batches,
		"success", report.SuccessCount,
		"failure", report.FailureCount,
		"invalid", len(report.InvalidTokens))

	return report, errors.Join(transportErrs...)
}

// buildMulticast constructs the wire message for one batch. The notification
// block plus the high-priority Android/APNS settings ride along only for
// urgent events; data-only messages leave surfacing to the client geofilter.
func buildMulticast(batch []string, msg dispatch.Message) *messaging.MulticastMessage {
	m := &messaging.MulticastMessage{
		Tokens: batch,
		Data:   msg.Data,
	}
	if msg.Notify {
		badge := 1
		m.Notification = &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		}
		m.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:   "default",
				Sound:       "default",
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		}
		m.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
					Badge: &badge,
				},
			},
		}
	}
	return m
}
