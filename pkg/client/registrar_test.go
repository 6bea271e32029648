package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/client"
)

func TestRegistrar(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Posts Registration Payload", func(t *testing.T) {
		var got struct {
			UserID    string   `json:"userId"`
			PushToken string   `json:"pushToken"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/devices/register", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		registrar := client.NewRegistrar(server.URL, logger)
		loc := &alert.LatLng{Latitude: 25.0478, Longitude: 121.5319}

		err := registrar.Register(ctx, "u1", "tok-1", loc)

		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "tok-1", got.PushToken)
		require.NotNil(t, got.Latitude)
		assert.InDelta(t, 25.0478, *got.Latitude, 1e-9)
	})

	t.Run("Location Omitted When Unknown", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			assert.NotContains(t, raw, "latitude")
			assert.NotContains(t, raw, "longitude")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		registrar := client.NewRegistrar(server.URL, logger)

		assert.NoError(t, registrar.Register(ctx, "u1", "tok-1", nil))
	})

	t.Run("Server Rejection Surfaces As Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		registrar := client.NewRegistrar(server.URL, logger)

		err := registrar.Register(ctx, "u1", "tok-1", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("Unreachable Server Surfaces As Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // connection refused from here on

		registrar := client.NewRegistrar(server.URL, logger)

		err := registrar.Register(ctx, "u1", "tok-1", nil)
		assert.Error(t, err)
	})
}
