package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/internal/ingest"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

// DeliveryResult aggregates one fan-out attempt for observability. The
// HTTP-triggered variant echoes it in the response body.
type DeliveryResult struct {
	Mode        string `json:"mode"`
	Tokens      int    `json:"tokens"`
	Deactivated int    `json:"deactivated"`
	dispatch.Report
}

const (
	modeBroadcast = "broadcast"
	modeTargeted  = "targeted"
)

// Deliver runs the fan-out for one event: resolve recipients to tokens, build
// the wire message, dispatch in batches, and attribute permanent per-token
// failures back to the registry. A returned error is retryable; the upstream
// transport redelivers the whole event, which is safe because registry writes
// are idempotent and the client dedups on message ID.
func Deliver(
	ctx context.Context,
	event *alert.NotificationEvent,
	registry dispatch.DeviceRegistry,
	dispatcher dispatch.Dispatcher,
	policy ingest.ContentPolicy,
	logger *slog.Logger,
) (*DeliveryResult, error) {
	var (
		records []alert.DeviceRecord
		err     error
	)

	result := &DeliveryResult{Mode: modeTargeted}
	if event.Broadcast() {
		// Broadcast is a deliberate mode (city-wide advisories), logged
		// distinctly so it is never mistaken for a missing target list.
		result.Mode = modeBroadcast
		logger.Info("Broadcast fan-out: event targets every active device",
			"message_id", event.MessageID, "type", event.Type)
		records, err = registry.GetAllTokens(ctx)
	} else {
		records, err = registry.GetTokensForUsers(ctx, event.TargetUserIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("token resolution failed: %w", err)
	}

	// Dedup tokens so each one lands in exactly one batch, keeping the
	// record handy for failure attribution.
	tokens := make([]string, 0, len(records))
	byToken := make(map[string]alert.DeviceRecord, len(records))
	for _, rec := range records {
		if _, seen := byToken[rec.PushToken]; seen {
			continue
		}
		byToken[rec.PushToken] = rec
		tokens = append(tokens, rec.PushToken)
	}
	result.Tokens = len(tokens)

	if len(tokens) == 0 {
		logger.Info("No active devices resolved; dropping event.",
			"message_id", event.MessageID, "mode", result.Mode)
		return result, nil
	}

	msg := dispatch.Message{
		Title:  event.Title,
		Body:   event.Body,
		Data:   DataPayload(event),
		Notify: policy.ForceVisible(event.Title),
	}

	report, dispatchErr := dispatcher.Dispatch(ctx, tokens, msg)
	result.Report = report

	// Self-healing: permanently dead tokens are deactivated in the registry.
	for _, tok := range report.InvalidTokens {
		rec := byToken[tok]
		if err := registry.Deactivate(ctx, rec, "token_not_registered"); err != nil {
			logger.Warn("Failed to deactivate device", "device_id", rec.DeviceID, "err", err)
			continue
		}
		result.Deactivated++
	}

	if dispatchErr != nil {
		return result, fmt.Errorf("dispatch failed: %w", dispatchErr)
	}

	logger.Info("Fan-out complete",
		"message_id", event.MessageID,
		"mode", result.Mode,
		"batches", report.Batches,
		"success", report.SuccessCount,
		"failure", report.FailureCount,
		"deactivated", result.Deactivated)
	return result, nil
}

// DataPayload builds the application-data block of the wire message. Every
// value must be a string; the delivery API rejects anything else.
func DataPayload(event *alert.NotificationEvent) map[string]string {
	data := map[string]string{
		alert.KeyType:      event.Type,
		alert.KeyMessageID: event.MessageID,
		alert.KeyTitle:     event.Title,
		alert.KeyBody:      event.Body,
	}
	if event.Severity != "" {
		data[alert.KeySeverity] = event.Severity
	}
	if !event.Timestamp.IsZero() {
		data[alert.KeyTimestamp] = event.Timestamp.UTC().Format(time.RFC3339)
	}
	if loc := event.SubjectLocation; loc != nil {
		data[alert.KeySubjectLatitude] = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		data[alert.KeySubjectLongitude] = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}
	for k, v := range event.Extra {
		if _, reserved := data[k]; !reserved {
			data[k] = v
		}
	}
	return data
}
