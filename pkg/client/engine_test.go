package client_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/client"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/geo"
)

// --- Fakes ---

type fakeNotifier struct {
	shown []shownAlert
	err   error
}

type shownAlert struct {
	id    uint32
	title string
	body  string
}

func (n *fakeNotifier) Show(_ context.Context, id uint32, title, body string) error {
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, shownAlert{id: id, title: title, body: body})
	return nil
}

type fixedLocation struct {
	loc alert.LatLng
	err error
}

func (f *fixedLocation) Current(_ context.Context) (alert.LatLng, error) {
	return f.loc, f.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// northOf displaces a coordinate due north so the great-circle distance is
// exactly km (a pure meridian arc).
func northOf(origin alert.LatLng, km float64) alert.LatLng {
	deltaLat := km / geo.EarthRadiusKm * 180 / math.Pi
	return alert.LatLng{Latitude: origin.Latitude + deltaLat, Longitude: origin.Longitude}
}

func inspectionPayload(messageID string, subject alert.LatLng) map[string]string {
	return map[string]string{
		alert.KeyType:             alert.EventTypeInspectionFailure,
		alert.KeyMessageID:        messageID,
		alert.KeyTitle:            "餐廳 '鼎好小吃' 稽查結果不合格",
		alert.KeyBody:             "餐廳 '鼎好小吃' 稽查結果：不合格",
		alert.KeySubjectLatitude:  strconv.FormatFloat(subject.Latitude, 'f', -1, 64),
		alert.KeySubjectLongitude: strconv.FormatFloat(subject.Longitude, 'f', -1, 64),
	}
}

var deviceAt = alert.LatLng{Latitude: 25.0478, Longitude: 121.5319}

// --- Tests ---

func TestHandle_GeofilterBoundary(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	testCases := []struct {
		distanceKm   float64
		wantSurfaced bool
	}{
		{distanceKm: 0, wantSurfaced: true},
		{distanceKm: 9.999, wantSurfaced: true},
		{distanceKm: 10.001, wantSurfaced: false},
		{distanceKm: 250, wantSurfaced: false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%.3fkm", tc.distanceKm), func(t *testing.T) {
			notifier := &fakeNotifier{}
			engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, logger)

			subject := northOf(deviceAt, tc.distanceKm)
			d := engine.Handle(ctx, client.StateForeground, inspectionPayload("m-"+t.Name(), subject))

			assert.Equal(t, tc.wantSurfaced, d.Surfaced)
			assert.InDelta(t, tc.distanceKm, d.DistanceKm, 1e-6)
			if tc.wantSurfaced {
				assert.Equal(t, client.ReasonSurfaced, d.Reason)
				require.Len(t, notifier.shown, 1)
				assert.Equal(t, d.NotificationID, notifier.shown[0].id)
			} else {
				assert.Equal(t, client.ReasonOutsideRadius, d.Reason)
				assert.Empty(t, notifier.shown)
			}
		})
	}
}

func TestHandle_RadiusIsInclusive(t *testing.T) {
	// A subject exactly on the radius must still surface. The radius is pinned
	// to the engine's own distance computation so the comparison is exact.
	subject := northOf(deviceAt, 10)
	cfg := client.DefaultConfig()
	cfg.RadiusKm = geo.DistanceKm(deviceAt, subject)

	notifier := &fakeNotifier{}
	engine := client.NewEngine(cfg, notifier, &fixedLocation{loc: deviceAt}, newTestLogger())

	d := engine.Handle(context.Background(), client.StateForeground, inspectionPayload("m-edge", subject))

	assert.True(t, d.Surfaced)
	assert.Equal(t, client.ReasonSurfaced, d.Reason)
}

func TestHandle_NoSubjectLocationIsLogOnly(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, newTestLogger())

	payload := map[string]string{
		alert.KeyType:      alert.EventTypeGeneric,
		alert.KeyMessageID: "m-1",
		alert.KeyTitle:     "advisory",
	}

	d := engine.Handle(context.Background(), client.StateBackground, payload)

	assert.False(t, d.Surfaced)
	assert.Equal(t, client.ReasonNoSubjectLocation, d.Reason)
	assert.Empty(t, notifier.shown)
}

func TestHandle_GenericCoordinateKeys(t *testing.T) {
	// Generic events may carry plain latitude/longitude instead of the
	// inspection-specific keys.
	notifier := &fakeNotifier{}
	engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, newTestLogger())

	subject := northOf(deviceAt, 2)
	payload := map[string]string{
		alert.KeyMessageID: "m-2",
		alert.KeyTitle:     "advisory",
		"latitude":         strconv.FormatFloat(subject.Latitude, 'f', -1, 64),
		"longitude":        strconv.FormatFloat(subject.Longitude, 'f', -1, 64),
	}

	d := engine.Handle(context.Background(), client.StateForeground, payload)

	assert.True(t, d.Surfaced)
	assert.InDelta(t, 2, d.DistanceKm, 1e-6)
}

func TestHandle_LocationFallback(t *testing.T) {
	logger := newTestLogger()
	cfg := client.DefaultConfig()

	t.Run("Provider Error Uses Fallback", func(t *testing.T) {
		notifier := &fakeNotifier{}
		provider := &fixedLocation{err: errors.New("gps denied")}
		engine := client.NewEngine(cfg, notifier, provider, logger)

		// Subject right at the fallback coordinate: must surface.
		d := engine.Handle(context.Background(), client.StateForeground,
			inspectionPayload("m-3", cfg.Fallback))

		assert.True(t, d.Surfaced)
		assert.True(t, d.UsedFallback)
		assert.InDelta(t, 0, d.DistanceKm, 1e-6)
	})

	t.Run("Nil Provider Uses Fallback", func(t *testing.T) {
		notifier := &fakeNotifier{}
		engine := client.NewEngine(cfg, notifier, nil, logger)

		d := engine.Handle(context.Background(), client.StateForeground,
			inspectionPayload("m-4", northOf(cfg.Fallback, 3)))

		assert.True(t, d.Surfaced)
		assert.True(t, d.UsedFallback)
	})

	t.Run("Far Subject Still Suppressed Under Fallback", func(t *testing.T) {
		notifier := &fakeNotifier{}
		engine := client.NewEngine(cfg, notifier, nil, logger)

		d := engine.Handle(context.Background(), client.StateForeground,
			inspectionPayload("m-5", northOf(cfg.Fallback, 50)))

		assert.False(t, d.Surfaced)
		assert.Equal(t, client.ReasonOutsideRadius, d.Reason)
	})
}

func TestHandle_Dedup(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, newTestLogger())
	payload := inspectionPayload("m-dup", deviceAt)

	first := engine.Handle(context.Background(), client.StateForeground, payload)
	second := engine.Handle(context.Background(), client.StateBackground, payload)

	assert.True(t, first.Surfaced)
	assert.False(t, second.Surfaced)
	assert.Equal(t, client.ReasonDuplicate, second.Reason)
	assert.Len(t, notifier.shown, 1, "redelivery must not show a second alert")
}

func TestHandle_SuppressedMessageIsNotRememberedAsSurfaced(t *testing.T) {
	// A message suppressed by the geofilter never entered the surfaced ledger,
	// so a later redelivery closer to the subject may still surface.
	notifier := &fakeNotifier{}
	provider := &fixedLocation{loc: northOf(deviceAt, 50)}
	engine := client.NewEngine(client.DefaultConfig(), notifier, provider, newTestLogger())
	payload := inspectionPayload("m-move", deviceAt)

	far := engine.Handle(context.Background(), client.StateForeground, payload)
	assert.Equal(t, client.ReasonOutsideRadius, far.Reason)

	provider.loc = deviceAt
	near := engine.Handle(context.Background(), client.StateForeground, payload)
	assert.True(t, near.Surfaced)
}

func TestHandle_NoTitleIsLogOnly(t *testing.T) {
	notifier := &fakeNotifier{}
	engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, newTestLogger())

	payload := inspectionPayload("m-6", deviceAt)
	delete(payload, alert.KeyTitle)

	d := engine.Handle(context.Background(), client.StateForeground, payload)

	assert.False(t, d.Surfaced)
	assert.Equal(t, client.ReasonNoTitle, d.Reason)
	assert.Empty(t, notifier.shown)
}

func TestHandle_NotifierFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("notification channel missing")}
	engine := client.NewEngine(client.DefaultConfig(), notifier, &fixedLocation{loc: deviceAt}, newTestLogger())

	d := engine.Handle(context.Background(), client.StateForeground, inspectionPayload("m-7", deviceAt))

	assert.False(t, d.Surfaced)
	assert.Equal(t, client.ReasonNotifierFailed, d.Reason)

	// The failure did not mark the message as surfaced: a retry can still show.
	notifier.err = nil
	retry := engine.Handle(context.Background(), client.StateForeground, inspectionPayload("m-7", deviceAt))
	assert.True(t, retry.Surfaced)
}

func TestNotificationID(t *testing.T) {
	t.Run("Stable For Same Message ID", func(t *testing.T) {
		p := map[string]string{alert.KeyMessageID: "m-1", alert.KeyTitle: "a"}
		q := map[string]string{alert.KeyMessageID: "m-1", alert.KeyTitle: "b"}
		assert.Equal(t, client.NotificationID(p), client.NotificationID(q))
	})

	t.Run("Distinct For Distinct Messages", func(t *testing.T) {
		p := map[string]string{alert.KeyMessageID: "m-1"}
		q := map[string]string{alert.KeyMessageID: "m-2"}
		assert.NotEqual(t, client.NotificationID(p), client.NotificationID(q))
	})

	t.Run("Falls Back To Timestamp Then Content", func(t *testing.T) {
		byTS := map[string]string{alert.KeyTimestamp: "2026-08-30T08:00:00Z", alert.KeyTitle: "x"}
		byContent := map[string]string{alert.KeyTitle: "x", alert.KeyBody: "y"}
		assert.NotZero(t, client.NotificationID(byTS))
		assert.NotZero(t, client.NotificationID(byContent))
		assert.NotEqual(t, client.NotificationID(byTS), client.NotificationID(byContent))
	})
}
