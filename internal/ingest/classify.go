package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

// restaurantInfo is the nested establishment block of an inspection payload.
type restaurantInfo struct {
	Name      string   `json:"name"`
	RegNo     string   `json:"reg_no"`
	Address   string   `json:"address"`
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// rawPayload is a superset of both supported payload shapes. Which variant a
// payload is gets decided by classify, not by scattered field checks.
type rawPayload struct {
	// Shape 1: inspection failure published by the sync service.
	Type           string          `json:"type"`
	RestaurantInfo *restaurantInfo `json:"restaurant_info"`
	Severity       string          `json:"severity"`

	// Shape 2: generic notification.
	NotificationTitle string            `json:"notificationTitle"`
	NotificationBody  string            `json:"notificationBody"`
	TargetUserIDs     []string          `json:"targetUserIds"`
	Latitude          *float64          `json:"latitude"`
	Longitude         *float64          `json:"longitude"`
	Data              map[string]string `json:"data"`

	// Common.
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

type payloadShape int

const (
	shapeUnknown payloadShape = iota
	shapeInspectionFailure
	shapeGeneric
)

// classify picks the variant. Inspection payloads are recognized by the type
// tag or the nested restaurant_info object; generic ones by the notification
// title field. There is no version field on the wire.
func classify(raw *rawPayload) payloadShape {
	if raw.Type == alert.EventTypeInspectionFailure || raw.RestaurantInfo != nil {
		return shapeInspectionFailure
	}
	if raw.NotificationTitle != "" {
		return shapeGeneric
	}
	return shapeUnknown
}

// Classify parses a decoded payload into a NotificationEvent, or reports a
// permanent error when the bytes are not JSON or match neither shape.
func Classify(payload []byte) (*alert.NotificationEvent, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotJSON, err)
	}

	switch classify(&raw) {
	case shapeInspectionFailure:
		return inspectionEvent(&raw)
	case shapeGeneric:
		return genericEvent(&raw)
	default:
		return nil, ErrUnrecognizedShape
	}
}

func inspectionEvent(raw *rawPayload) (*alert.NotificationEvent, error) {
	info := raw.RestaurantInfo
	if info == nil || info.Name == "" {
		return nil, fmt.Errorf("%w: inspection payload without restaurant_info", ErrUnrecognizedShape)
	}

	event := &alert.NotificationEvent{
		Type:      alert.EventTypeInspectionFailure,
		Title:     fmt.Sprintf("餐廳 '%s' 稽查結果不合格", info.Name),
		Body:      fmt.Sprintf("餐廳 '%s' 稽查結果：%s", info.Name, info.Status),
		Severity:  raw.Severity,
		MessageID: raw.MessageID,
		Timestamp: parseTimestamp(raw.Timestamp),
		Extra: map[string]string{
			"restaurant_name":   info.Name,
			"restaurant_reg_no": info.RegNo,
			"restaurant_status": info.Status,
			"targetUrl":         fmt.Sprintf("/restaurant/%s", info.RegNo),
		},
	}
	if info.Latitude != nil && info.Longitude != nil {
		event.SubjectLocation = &alert.LatLng{Latitude: *info.Latitude, Longitude: *info.Longitude}
	}
	return event, nil
}

func genericEvent(raw *rawPayload) (*alert.NotificationEvent, error) {
	event := &alert.NotificationEvent{
		Type:          alert.EventTypeGeneric,
		Title:         raw.NotificationTitle,
		Body:          raw.NotificationBody,
		TargetUserIDs: raw.TargetUserIDs,
		Severity:      raw.Severity,
		MessageID:     raw.MessageID,
		Timestamp:     parseTimestamp(raw.Timestamp),
		Extra:         raw.Data,
	}
	if raw.Latitude != nil && raw.Longitude != nil {
		event.SubjectLocation = &alert.LatLng{Latitude: *raw.Latitude, Longitude: *raw.Longitude}
	}
	return event, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
