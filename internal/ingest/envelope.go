// Package ingest decodes inbound event envelopes into notification events and
// owns the content policy that decides between visible and data-only messages.
package ingest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

// Permanent input errors. A handler seeing one of these must acknowledge the
// event; redelivery can never succeed.
var (
	ErrNotJSON           = errors.New("payload is not valid JSON")
	ErrNotBase64         = errors.New("envelope data is not valid base64")
	ErrUnrecognizedShape = errors.New("payload matches no recognized event shape")
)

// PushEnvelope is the wire format of the upstream transport's push delivery:
// a wrapper whose data field carries a base64-encoded UTF-8 JSON payload.
type PushEnvelope struct {
	Message struct {
		Data        string    `json:"data"`
		MessageID   string    `json:"messageId"`
		PublishTime time.Time `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeEnvelope unwraps a push envelope and classifies its payload.
// Failures are reported with the sentinel that names the broken layer so the
// handler can log "not base64" / "not JSON" / "unrecognized shape" distinctly.
func DecodeEnvelope(body []byte) (*alert.NotificationEvent, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %s", ErrNotJSON, err)
	}
	if env.Message.Data == "" {
		return nil, fmt.Errorf("%w: envelope has no message data", ErrUnrecognizedShape)
	}

	payload, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotBase64, err)
	}

	event, err := Classify(payload)
	if err != nil {
		return nil, err
	}

	// The transport's message ID is the dedup handle for at-least-once
	// redelivery; prefer it over anything the payload carries.
	if env.Message.MessageID != "" {
		event.MessageID = env.Message.MessageID
	}
	if event.MessageID == "" {
		event.MessageID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = env.Message.PublishTime
	}
	return event, nil
}

// IsPermanent reports whether err is a permanent input error that must be
// acknowledged rather than retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotJSON) ||
		errors.Is(err, ErrNotBase64) ||
		errors.Is(err, ErrUnrecognizedShape)
}
