// Package client implements the on-device delivery decision engine: given an
// incoming message payload and the app's lifecycle state, it decides whether
// to surface a visible alert using a geofilter around the event's subject.
//
// The same decision pipeline runs in all three states; what differs is how the
// engine's dependencies are constructed (see RunIsolated for the terminated
// state).
package client

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/geo"
)

// AppState is the application lifecycle state at message arrival. Transitions
// are driven by the OS; the engine only reacts per-state.
type AppState int

const (
	StateForeground AppState = iota
	StateBackground
	StateTerminated
)

func (s AppState) String() string {
	switch s {
	case StateForeground:
		return "foreground"
	case StateBackground:
		return "background"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Notifier displays a local visible alert. Posting two alerts with the same
// ID must replace rather than duplicate, which is what the platform
// notification APIs do.
type Notifier interface {
	Show(ctx context.Context, id uint32, title, body string) error
}

// LocationProvider yields the device's current position.
type LocationProvider interface {
	Current(ctx context.Context) (alert.LatLng, error)
}

// Config carries the decision thresholds.
type Config struct {
	// RadiusKm is the geofilter threshold; d <= RadiusKm surfaces (inclusive).
	RadiusKm float64
	// Fallback is used when no location can be resolved, so the decision
	// function stays total.
	Fallback alert.LatLng
	// LocationTimeout bounds a single location acquisition.
	LocationTimeout time.Duration
	// CacheValidity is the freshness window for CachedLocationProvider.
	CacheValidity time.Duration
	// IsolatedBudget is the wall-clock budget of a terminated-state handler.
	IsolatedBudget time.Duration
	// DedupWindow is how long a message ID is remembered.
	DedupWindow time.Duration
}

// DefaultConfig returns the reference thresholds. The fallback coordinate is
// central Taipei, where the inspection data lives.
func DefaultConfig() Config {
	return Config{
		RadiusKm:        10,
		Fallback:        alert.LatLng{Latitude: 25.051898, Longitude: 121.5281835},
		LocationTimeout: 5 * time.Second,
		CacheValidity:   5 * time.Minute,
		IsolatedBudget:  25 * time.Second,
		DedupWindow:     time.Hour,
	}
}

// Decision reasons.
const (
	ReasonSurfaced            = "surfaced"
	ReasonNoSubjectLocation   = "no_subject_location"
	ReasonOutsideRadius       = "outside_radius"
	ReasonNoTitle             = "no_title"
	ReasonDuplicate           = "duplicate"
	ReasonNotifierFailed      = "notifier_failed"
	ReasonResourceUnavailable = "resource_unavailable"
)

// Decision is the outcome of one message. It is always produced; the engine
// never fails a message outright.
type Decision struct {
	State          AppState
	Surfaced       bool
	Reason         string
	DistanceKm     float64
	NotificationID uint32
	UsedFallback   bool
}

const maxSeenEntries = 256

// Engine runs the decision pipeline. Safe for concurrent use.
type Engine struct {
	cfg       Config
	notifier  Notifier
	locations LocationProvider
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

func NewEngine(cfg Config, notifier Notifier, locations LocationProvider, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		notifier:  notifier,
		locations: locations,
		logger:    logger.With("component", "DecisionEngine"),
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// Handle runs the common decision pipeline for one payload. It is total: every
// input reaches a Decision, and no failure propagates to the host process.
func (e *Engine) Handle(ctx context.Context, state AppState, payload map[string]string) Decision {
	log := e.logger.With("state", state.String(), "message_id", payload[alert.KeyMessageID])

	d := Decision{
		State:          state,
		NotificationID: NotificationID(payload),
	}

	title := payload[alert.KeyTitle]
	body := payload[alert.KeyBody]

	// At-least-once transport: a redelivered message must not surface twice.
	// Best effort only; there is no persistent ledger.
	if key := payload[alert.KeyMessageID]; key != "" && e.alreadySurfaced(key) {
		d.Reason = ReasonDuplicate
		log.Info("Duplicate delivery; suppressing visible alert")
		return d
	}

	subject, ok := subjectLocation(payload)
	if !ok {
		// The server sent no subject coordinates: geofencing was not
		// intended for this event. Log only.
		d.Reason = ReasonNoSubjectLocation
		log.Info("No subject location in payload; log-only")
		return d
	}

	here := e.currentLocation(ctx, &d, log)
	d.DistanceKm = geo.DistanceKm(here, subject)

	if d.DistanceKm > e.cfg.RadiusKm {
		d.Reason = ReasonOutsideRadius
		log.Info("Subject outside alert radius", "distance_km", d.DistanceKm)
		return d
	}
	if title == "" {
		d.Reason = ReasonNoTitle
		log.Info("Payload has no title; log-only", "distance_km", d.DistanceKm)
		return d
	}

	if err := e.notifier.Show(ctx, d.NotificationID, title, body); err != nil {
		d.Reason = ReasonNotifierFailed
		log.Warn("Failed to show notification", "err", err)
		return d
	}

	if key := payload[alert.KeyMessageID]; key != "" {
		e.markSurfaced(key)
	}
	d.Surfaced = true
	d.Reason = ReasonSurfaced
	log.Info("Surfaced visible alert", "distance_km", d.DistanceKm, "notification_id", d.NotificationID)
	return d
}

// currentLocation resolves the device position inside the configured timeout,
// falling back to the fixed reference coordinate on any failure.
func (e *Engine) currentLocation(ctx context.Context, d *Decision, log *slog.Logger) alert.LatLng {
	if e.locations == nil {
		d.UsedFallback = true
		return e.cfg.Fallback
	}

	locCtx := ctx
	if e.cfg.LocationTimeout > 0 {
		var cancel context.CancelFunc
		locCtx, cancel = context.WithTimeout(ctx, e.cfg.LocationTimeout)
		defer cancel()
	}

	here, err := e.locations.Current(locCtx)
	if err != nil {
		d.UsedFallback = true
		log.Debug("Location unavailable; using fallback coordinate", "err", err)
		return e.cfg.Fallback
	}
	return here
}

func (e *Engine) alreadySurfaced(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.seen[key]
	if !ok {
		return false
	}
	if e.now().Sub(at) > e.cfg.DedupWindow {
		delete(e.seen, key)
		return false
	}
	return true
}

func (e *Engine) markSurfaced(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if len(e.seen) >= maxSeenEntries {
		for k, at := range e.seen {
			if now.Sub(at) > e.cfg.DedupWindow {
				delete(e.seen, k)
			}
		}
		// Still full after pruning: drop the ledger rather than grow without
		// bound. Duplicates become possible again, which the contract allows.
		if len(e.seen) >= maxSeenEntries {
			e.seen = make(map[string]time.Time)
		}
	}
	e.seen[key] = now
}

// NotificationID derives a stable local notification ID from the payload so
// OS-level reposting of the same event collapses into one visible alert.
func NotificationID(payload map[string]string) uint32 {
	h := fnv.New32a()
	switch {
	case payload[alert.KeyMessageID] != "":
		_, _ = h.Write([]byte(payload[alert.KeyMessageID]))
	case payload[alert.KeyTimestamp] != "":
		_, _ = h.Write([]byte(payload[alert.KeyTimestamp]))
	default:
		_, _ = h.Write([]byte(payload[alert.KeyTitle]))
		_, _ = h.Write([]byte(payload[alert.KeyBody]))
	}
	return h.Sum32()
}

// subjectLocation extracts the event's subject coordinates. Inspection events
// carry restaurant_* keys; generic events may carry plain latitude/longitude.
func subjectLocation(payload map[string]string) (alert.LatLng, bool) {
	lat, latOK := parseCoord(payload, alert.KeySubjectLatitude, "latitude")
	lng, lngOK := parseCoord(payload, alert.KeySubjectLongitude, "longitude")
	if !latOK || !lngOK {
		return alert.LatLng{}, false
	}
	return alert.LatLng{Latitude: lat, Longitude: lng}, true
}

func parseCoord(payload map[string]string, keys ...string) (float64, bool) {
	for _, k := range keys {
		if raw, ok := payload[k]; ok && raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			return v, true
		}
	}
	return 0, false
}
