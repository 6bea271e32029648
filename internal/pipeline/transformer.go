// Package pipeline contains the core message processing components for the
// service: the transformer that normalizes inbound payloads and the fan-out
// delivery logic.
package pipeline

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-inspection-alerts/internal/ingest"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

// EventTransformer is a dataflow Transformer that classifies a raw message
// payload into a structured alert.NotificationEvent.
//
// Pull-mode consumers hand us the payload already base64-decoded, so only the
// JSON and shape layers apply here; the push endpoint owns the envelope layer.
// Any classification failure is permanent (a poison message), so we return
// skip=true and let the StreamingService handle the Nack/DLQ logic.
func EventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*alert.NotificationEvent, bool, error) {
	event, err := ingest.Classify(msg.Payload)
	if err != nil {
		return nil, true, fmt.Errorf("failed to classify event from message %s: %w", msg.ID, err)
	}

	// The transport message ID doubles as the dedup handle downstream.
	if event.MessageID == "" {
		event.MessageID = msg.ID
	}
	return event, false, nil
}
