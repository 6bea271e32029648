package client

import (
	"context"
	"sync"
	"time"

	"github.com/tinywideclouds/go-inspection-alerts/pkg/alert"
)

// CachedLocationProvider decorates a LocationProvider with a short validity
// window, so the foreground/background paths can reuse the last fix instead
// of waking the GPS for every message.
type CachedLocationProvider struct {
	inner LocationProvider
	ttl   time.Duration

	mu   sync.Mutex
	last alert.LatLng
	at   time.Time

	now func() time.Time
}

func NewCachedLocationProvider(inner LocationProvider, ttl time.Duration) *CachedLocationProvider {
	return &CachedLocationProvider{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Current returns the cached fix while it is fresh, otherwise asks the
// wrapped provider and caches the result. Errors pass through; the engine's
// fallback coordinate handles them.
func (p *CachedLocationProvider) Current(ctx context.Context) (alert.LatLng, error) {
	p.mu.Lock()
	if !p.at.IsZero() && p.now().Sub(p.at) < p.ttl {
		loc := p.last
		p.mu.Unlock()
		return loc, nil
	}
	p.mu.Unlock()

	loc, err := p.inner.Current(ctx)
	if err != nil {
		return alert.LatLng{}, err
	}

	p.mu.Lock()
	p.last = loc
	p.at = p.now()
	p.mu.Unlock()
	return loc, nil
}
