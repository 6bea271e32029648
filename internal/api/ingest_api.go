package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-inspection-alerts/internal/ingest"
	"github.com/tinywideclouds/go-inspection-alerts/internal/pipeline"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

const maxEnvelopeBytes = 1 << 20

// IngestAPI handles the transport's push delivery of event envelopes.
// Status codes are the contract with the upstream transport: 2xx acks the
// event, 4xx marks it permanently malformed, 5xx requests redelivery.
type IngestAPI struct {
	Registry   dispatch.DeviceRegistry
	Dispatcher dispatch.Dispatcher
	Policy     ingest.ContentPolicy
	Logger     *slog.Logger
}

func NewIngestAPI(registry dispatch.DeviceRegistry, dispatcher dispatch.Dispatcher, policy ingest.ContentPolicy, logger *slog.Logger) *IngestAPI {
	return &IngestAPI{
		Registry:   registry,
		Dispatcher: dispatcher,
		Policy:     policy,
		Logger:     logger,
	}
}

// HandlePush decodes a push envelope, runs the fan-out, and echoes the
// delivery report for observability.
func (api *IngestAPI) HandlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := ingest.DecodeEnvelope(body)
	if err != nil {
		// Permanent input error: acknowledge with 4xx, log which layer broke.
		api.Logger.Warn("Dropping permanently malformed event",
			"reason", decodeFailureReason(err), "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	result, err := pipeline.Deliver(r.Context(), event, api.Registry, api.Dispatcher, api.Policy,
		api.Logger.With("message_id", event.MessageID))
	if err != nil {
		// Transient dependency failure: 5xx tells the transport to redeliver.
		api.Logger.Error("Fan-out failed; requesting redelivery",
			"message_id", event.MessageID, "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, "transient delivery failure")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func decodeFailureReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrNotBase64):
		return "not_base64"
	case errors.Is(err, ingest.ErrNotJSON):
		return "not_json"
	case errors.Is(err, ingest.ErrUnrecognizedShape):
		return "unrecognized_shape"
	default:
		return "unknown"
	}
}
