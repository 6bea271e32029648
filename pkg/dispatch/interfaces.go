package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

// Message is the outbound wire content for one dispatch attempt. Data values
// must all be strings; the delivery API rejects anything else. Notify controls
// whether the platform-visible notification block is attached (urgent events)
// or surfacing is left to the client-side geofilter (data-only events).
type Message struct {
	Title  string
	Body   string
	Data   map[string]string
	Notify bool
}

// Report aggregates the outcome of one dispatch attempt across all batches.
type Report struct {
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	Batches       int      `json:"batches"`
	InvalidTokens []string `json:"invalidTokens,omitempty"`
}

// Dispatcher defines the contract for a component that can send a message to a
// batch of platform-specific tokens. Implementations partition the token list
// to respect the delivery API's per-call limit. InvalidTokens in the returned
// Report identify tokens the API flagged as permanently dead; transient
// per-token failures are only counted. A non-nil error means at least one
// whole batch failed at the transport level and the event should be redelivered.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, msg Message) (Report, error)
}

// DeviceRegistry defines the contract for the persistent device store.
type DeviceRegistry interface {
	// Register upserts the record for (userID, pushToken). Repeated calls with
	// the same pair converge to one record with RegisteredAt unchanged.
	// A nil location keeps the previously stored one.
	Register(ctx context.Context, userID, pushToken string, location *alert.LatLng) (*alert.DeviceRecord, error)

	// GetTokensForUsers resolves the active devices owned by the given users.
	GetTokensForUsers(ctx context.Context, userIDs []string) ([]alert.DeviceRecord, error)

	// GetAllTokens returns every active device. Broadcast mode only.
	GetAllTokens(ctx context.Context) ([]alert.DeviceRecord, error)

	// Deactivate soft-deletes a device after a permanent delivery failure.
	Deactivate(ctx context.Context, rec alert.DeviceRecord, reason string) error
}
