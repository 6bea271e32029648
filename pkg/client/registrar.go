package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

const registrationTimeout = 10 * time.Second

// Registrar performs the client-side device registration call on app startup
// and token refresh. A failure here is non-fatal to the app: callers log it
// and move on, and the next token refresh retries opportunistically.
type Registrar struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRegistrar(baseURL string, logger *slog.Logger) *Registrar {
	return &Registrar{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: registrationTimeout},
		logger:     logger.With("component", "Registrar"),
	}
}

type registrationRequest struct {
	UserID    string   `json:"userId"`
	PushToken string   `json:"pushToken"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Register upserts this install's token with the server. The call is bounded
// by the client timeout; the server side is idempotent, so retrying on a
// later refresh is always safe.
func (r *Registrar) Register(ctx context.Context, userID, pushToken string, location *alert.LatLng) error {
	req := registrationRequest{
		UserID:    userID,
		PushToken: pushToken,
	}
	if location != nil {
		req.Latitude = &location.Latitude
		req.Longitude = &location.Longitude
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/v1/devices/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.logger.Debug("Registration call failed; will retry on next token refresh", "err", err)
		return fmt.Errorf("registration call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Debug("Registration rejected", "status", resp.StatusCode)
		return fmt.Errorf("registration returned status %d", resp.StatusCode)
	}
	return nil
}
