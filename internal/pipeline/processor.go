package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-inspection-alerts/internal/ingest"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

// NewProcessor creates the pipeline stage that handles the fan-out for events
// arriving over the pull consumer. Registry and dispatcher are injected; the
// processor holds no state of its own, so the worker pool can run it
// concurrently.
func NewProcessor(
	dispatcher dispatch.Dispatcher,
	registry dispatch.DeviceRegistry,
	policy ingest.ContentPolicy,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[alert.NotificationEvent] {

	return func(ctx context.Context, original messagepipeline.Message, event *alert.NotificationEvent) error {
		procLogger := logger.With(
			"message_id", event.MessageID,
			"pubsub_msg_id", original.ID,
			"event_type", event.Type,
		)

		// Returning the error nacks the message: storage or delivery-API
		// outages get redelivered by the transport.
		if _, err := Deliver(ctx, event, registry, dispatcher, policy, procLogger); err != nil {
			procLogger.Error("Fan-out failed", "err", err)
			return err
		}
		return nil
	}
}
