package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

type DeviceAPI struct {
	Registry dispatch.DeviceRegistry
	Logger   *slog.Logger
}

func NewDeviceAPI(registry dispatch.DeviceRegistry, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry: registry,
		Logger:   logger,
	}
}

type RegisterDeviceRequest struct {
	UserID    string   `json:"userId"`
	PushToken string   `json:"pushToken"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type RegisterDeviceResponse struct {
	DeviceID     string    `json:"deviceId"`
	UserID       string    `json:"userId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// RegisterDevice upserts a device record. The call is idempotent: the app
// fires it on every startup and token refresh.
func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.UserID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing userId")
		return
	}
	if req.PushToken == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing pushToken")
		return
	}

	var location *alert.LatLng
	if req.Latitude != nil && req.Longitude != nil {
		location = &alert.LatLng{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	rec, err := api.Registry.Register(r.Context(), req.UserID, req.PushToken, location)
	if err != nil {
		api.Logger.Error("failed to register device", "user_id", req.UserID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, RegisterDeviceResponse{
		DeviceID:     rec.DeviceID,
		UserID:       rec.UserID,
		RegisteredAt: rec.RegisteredAt,
	})
}

type deviceSummary struct {
	UserID     string   `json:"userId"`
	TokenCount int      `json:"tokenCount"`
	DeviceIDs  []string `json:"deviceIds"`
}

type listDevicesResponse struct {
	TotalUsers  int             `json:"totalUsers"`
	TotalTokens int             `json:"totalTokens"`
	Users       []deviceSummary `json:"users"`
}

// ListDevices is an operator endpoint: per-user token inventory across the
// whole registry.
func (api *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	records, err := api.Registry.GetAllTokens(r.Context())
	if err != nil {
		api.Logger.Error("failed to list devices", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	byUser := make(map[string]*deviceSummary)
	order := make([]string, 0)
	for _, rec := range records {
		sum, ok := byUser[rec.UserID]
		if !ok {
			sum = &deviceSummary{UserID: rec.UserID}
			byUser[rec.UserID] = sum
			order = append(order, rec.UserID)
		}
		sum.TokenCount++
		sum.DeviceIDs = append(sum.DeviceIDs, rec.DeviceID)
	}

	resp := listDevicesResponse{
		TotalUsers:  len(byUser),
		TotalTokens: len(records),
		Users:       make([]deviceSummary, 0, len(byUser)),
	}
	for _, uid := range order {
		resp.Users = append(resp.Users, *byUser[uid])
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
