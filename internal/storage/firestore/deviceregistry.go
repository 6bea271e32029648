// Package firestore implements the device registry on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

const (
	devicesCollection = "devices"
	usersCollection   = "users"

	// Firestore caps "in" queries, so user lookups are chunked.
	userQueryChunkSize = 10

	// Page size for the broadcast full scan.
	scanPageSize = 300

	// Stable token prefix folded into the device identity. Long enough to
	// distinguish installs, short enough to survive token payload churn.
	tokenPrefixLen = 16
)

// Registry stores DeviceRecords under devices/{deviceId} and maintains a
// denormalized users/{userId} index carrying the user's device IDs. The index
// is a rebuildable view, not a source of truth.
type Registry struct {
	client *firestore.Client
}

func NewRegistry(client *firestore.Client) *Registry {
	return &Registry{client: client}
}

// userIndexDoc is the denormalized userId -> deviceIds view.
type userIndexDoc struct {
	UserID    string   `firestore:"userId"`
	DeviceIDs []string `firestore:"deviceIds"`
}

// DeviceID derives the registry key from the owning user and a stable prefix
// of the push token. Hashing keeps doc IDs uniform and avoids hot-spotting on
// sequential user IDs.
func DeviceID(userID, pushToken string) string {
	prefix := pushToken
	if len(prefix) > tokenPrefixLen {
		prefix = prefix[:tokenPrefixLen]
	}
	sum := sha256.Sum256([]byte(userID + ":" + prefix))
	return hex.EncodeToString(sum[:])
}

// Register upserts the record for (userID, pushToken). A new device gets
// RegisteredAt set once; a re-registration refreshes the token, location and
// LastUpdated while preserving RegisteredAt and reviving IsActive. The user
// index entry is upserted alongside.
func (r *Registry) Register(ctx context.Context, userID, pushToken string, location *alert.LatLng) (*alert.DeviceRecord, error) {
	now := time.Now().UTC()
	deviceID := DeviceID(userID, pushToken)
	docRef := r.client.Collection(devicesCollection).Doc(deviceID)

	record := alert.DeviceRecord{
		DeviceID:          deviceID,
		UserID:            userID,
		PushToken:         pushToken,
		LastKnownLocation: location,
		RegisteredAt:      now,
		LastUpdated:       now,
		IsActive:          true,
	}

	snap, err := docRef.Get(ctx)
	switch {
	case err != nil && status.Code(err) == codes.NotFound:
		// First registration for this (user, token prefix).
	case err != nil:
		return nil, fmt.Errorf("registry read failed: %w", err)
	default:
		var existing alert.DeviceRecord
		if err := snap.DataTo(&existing); err == nil {
			record.RegisteredAt = existing.RegisteredAt
			if location == nil {
				record.LastKnownLocation = existing.LastKnownLocation
			}
		}
	}

	if _, err := docRef.Set(ctx, record); err != nil {
		return nil, fmt.Errorf("registry write failed: %w", err)
	}

	// UserIndex upsert. Eventually consistent with the device record and
	// rebuildable from the devices collection alone.
	userRef := r.client.Collection(usersCollection).Doc(userID)
	_, err = userRef.Set(ctx, map[string]interface{}{
		"userId":    userID,
		"deviceIds": firestore.ArrayUnion(deviceID),
	}, firestore.MergeAll)
	if err != nil {
		return nil, fmt.Errorf("user index write failed: %w", err)
	}

	return &record, nil
}

// GetTokensForUsers resolves active devices via the user index, chunking the
// underlying "in" queries to the storage limit and merging all chunk results.
func (r *Registry) GetTokensForUsers(ctx context.Context, userIDs []string) ([]alert.DeviceRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var deviceRefs []*firestore.DocumentRef
	for start := 0; start < len(userIDs); start += userQueryChunkSize {
		chunk := userIDs[start:min(start+userQueryChunkSize, len(userIDs))]

		refs := make([]*firestore.DocumentRef, 0, len(chunk))
		for _, uid := range chunk {
			refs = append(refs, r.client.Collection(usersCollection).Doc(uid))
		}

		iter := r.client.Collection(usersCollection).
			Where(firestore.DocumentID, "in", refs).
			Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("user index query failed: %w", err)
			}
			var idx userIndexDoc
			if err := doc.DataTo(&idx); err != nil {
				continue
			}
			for _, id := range idx.DeviceIDs {
				deviceRefs = append(deviceRefs, r.client.Collection(devicesCollection).Doc(id))
			}
		}
		iter.Stop()
	}

	if len(deviceRefs) == 0 {
		return nil, nil
	}

	snaps, err := r.client.GetAll(ctx, deviceRefs)
	if err != nil {
		return nil, fmt.Errorf("device fetch failed: %w", err)
	}

	records := make([]alert.DeviceRecord, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var rec alert.DeviceRecord
		if err := snap.DataTo(&rec); err != nil {
			// Corrupt rows are skipped rather than failing the dispatch.
			continue
		}
		if rec.IsActive {
			records = append(records, rec)
		}
	}
	return records, nil
}

// GetAllTokens scans every active device. The scan is paginated to bound
// memory per query; used only in broadcast mode.
func (r *Registry) GetAllTokens(ctx context.Context) ([]alert.DeviceRecord, error) {
	base := r.client.Collection(devicesCollection).
		Where("isActive", "==", true).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(scanPageSize)

	var records []alert.DeviceRecord
	var lastID string
	for {
		q := base
		if lastID != "" {
			q = base.StartAfter(lastID)
		}

		page := 0
		iter := q.Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("device scan failed: %w", err)
			}
			page++
			lastID = doc.Ref.ID
			var rec alert.DeviceRecord
			if err := doc.DataTo(&rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		iter.Stop()

		if page < scanPageSize {
			return records, nil
		}
	}
}

// Deactivate soft-deletes a device after the delivery API reported its token
// as permanently invalid. The record stays behind for audit history.
func (r *Registry) Deactivate(ctx context.Context, rec alert.DeviceRecord, reason string) error {
	_, err := r.client.Collection(devicesCollection).Doc(rec.DeviceID).Update(ctx, []firestore.Update{
		{Path: "isActive", Value: false},
		{Path: "deactivatedReason", Value: reason},
		{Path: "lastUpdated", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("deactivate %s failed: %w", rec.DeviceID, err)
	}
	return nil
}
