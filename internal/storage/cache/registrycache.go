// Package cache adds a Redis read-aside layer over the device registry.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedRegistry is a Decorator that adds read-aside caching of per-user
// device lookups to any DeviceRegistry. Broadcast scans are deliberately not
// cached; they already page through storage and are rare.
type CachedRegistry struct {
	real  dispatch.DeviceRegistry
	cache CacheClient
	ttl   time.Duration
}

// NewCachedRegistry creates the decorator.
func NewCachedRegistry(real dispatch.DeviceRegistry, cache CacheClient, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		real:  real,
		cache: cache,
		ttl:   ttl,
	}
}

// --- READ PATH (read-aside, per user) ---

func (c *CachedRegistry) GetTokensForUsers(ctx context.Context, userIDs []string) ([]alert.DeviceRecord, error) {
	var records []alert.DeviceRecord
	var misses []string

	for _, uid := range userIDs {
		var cached []alert.DeviceRecord
		if err := c.cache.Get(ctx, c.cacheKey(uid), &cached); err == nil {
			records = append(records, cached...)
			continue
		}
		misses = append(misses, uid)
	}

	if len(misses) == 0 {
		return records, nil
	}

	fresh, err := c.real.GetTokensForUsers(ctx, misses)
	if err != nil {
		return nil, err
	}

	// Populate per-user entries, empty slices included so absent users don't
	// hammer storage on every event. Cache writes are fire and forget: if
	// Redis is down we just keep serving from the source of truth.
	byUser := make(map[string][]alert.DeviceRecord, len(misses))
	for _, uid := range misses {
		byUser[uid] = []alert.DeviceRecord{}
	}
	for _, rec := range fresh {
		byUser[rec.UserID] = append(byUser[rec.UserID], rec)
	}
	for uid, recs := range byUser {
		_ = c.cache.Set(ctx, c.cacheKey(uid), recs, c.ttl)
	}

	return append(records, fresh...), nil
}

func (c *CachedRegistry) GetAllTokens(ctx context.Context) ([]alert.DeviceRecord, error) {
	return c.real.GetAllTokens(ctx)
}

// --- WRITE PATHS (invalidate-on-write) ---

func (c *CachedRegistry) Register(ctx context.Context, userID, pushToken string, location *alert.LatLng) (*alert.DeviceRecord, error) {
	rec, err := c.real.Register(ctx, userID, pushToken, location)
	if err != nil {
		return nil, err
	}
	return rec, c.invalidate(ctx, userID)
}

// Deactivate must clear the owner's cache entry even though the DB write
// already succeeded: a dead token kept in cache would be re-dispatched until
// the TTL expires.
func (c *CachedRegistry) Deactivate(ctx context.Context, rec alert.DeviceRecord, reason string) error {
	if err := c.real.Deactivate(ctx, rec, reason); err != nil {
		return err
	}
	return c.invalidate(ctx, rec.UserID)
}

// --- Helpers ---

func (c *CachedRegistry) invalidate(ctx context.Context, userID string) error {
	return c.cache.Del(ctx, c.cacheKey(userID))
}

func (c *CachedRegistry) cacheKey(userID string) string {
	return fmt.Sprintf("alerts:devices:%s", userID)
}
