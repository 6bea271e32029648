// Package alert contains the public domain models for the inspection alert
// service: the notification event produced by ingestion and the device records
// held by the registry.
package alert

import "time"

// Event type tags. EventTypeInspectionFailure matches the `type` field the
// upstream sync service writes into its FCM data payload.
const (
	EventTypeInspectionFailure = "inspection_failure"
	EventTypeGeneric           = "generic"
)

// Data payload keys shared by the server-side message builder and the
// client-side decision engine. FCM requires every value to be a string.
const (
	KeyType             = "type"
	KeyMessageID        = "message_id"
	KeyTitle            = "title"
	KeyBody             = "body"
	KeySeverity         = "severity"
	KeyTimestamp        = "timestamp"
	KeySubjectLatitude  = "restaurant_latitude"
	KeySubjectLongitude = "restaurant_longitude"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `firestore:"latitude" json:"latitude"`
	Longitude float64 `firestore:"longitude" json:"longitude"`
}

// NotificationEvent is the normalized form of an inbound event envelope.
// It is immutable once parsed and scoped to a single dispatch attempt.
type NotificationEvent struct {
	Type            string
	Title           string
	Body            string
	TargetUserIDs   []string
	SubjectLocation *LatLng
	Severity        string
	Timestamp       time.Time
	MessageID       string
	Extra           map[string]string
}

// Broadcast reports whether the event targets every active device rather than
// an explicit recipient list.
func (e *NotificationEvent) Broadcast() bool {
	return len(e.TargetUserIDs) == 0
}

// DeviceRecord is the registry's view of one app install. The DeviceID is
// derived deterministically from the owning user and a stable prefix of the
// push token, which makes registration idempotent. Records are never hard
// deleted; delivery failures flip IsActive instead.
type DeviceRecord struct {
	DeviceID          string    `firestore:"deviceId" json:"deviceId"`
	UserID            string    `firestore:"userId" json:"userId"`
	PushToken         string    `firestore:"pushToken" json:"pushToken"`
	LastKnownLocation *LatLng   `firestore:"lastKnownLocation,omitempty" json:"lastKnownLocation,omitempty"`
	RegisteredAt      time.Time `firestore:"registeredAt" json:"registeredAt"`
	LastUpdated       time.Time `firestore:"lastUpdated" json:"lastUpdated"`
	IsActive          bool      `firestore:"isActive" json:"isActive"`
}
