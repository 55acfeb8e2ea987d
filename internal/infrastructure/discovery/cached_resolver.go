package discovery

import (
	"context"
	"fmt"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/cache"
)

// CachedResolver wraps a SessionResolver with caching. Viewer counts are
// deliberately not cached: polls must observe the freshest value.
type CachedResolver struct {
	base  ports.SessionResolver
	cache *cache.CacheWithFallback
	ttl   time.Duration
}

// NewCachedResolver creates a caching wrapper around base.
func NewCachedResolver(base ports.SessionResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		base:  base,
		cache: cache.NewCacheWithFallback(ttl),
		ttl:   ttl,
	}
}

// Resolve returns cached connection material or fetches it through the base
// resolver. Errors are never cached.
func (r *CachedResolver) Resolve(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	cacheKey := fmt.Sprintf("session:%s:info", id)

	value, err := r.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return r.base.Resolve(ctx, id)
	}, r.ttl)

	if err != nil {
		return nil, err
	}

	return value.(*domain.SessionInfo), nil
}

// Invalidate drops the cached material for one session. Called before a
// manual retry so the next Resolve observes current endpoints.
func (r *CachedResolver) Invalidate(id domain.SessionID) {
	r.cache.Invalidate(fmt.Sprintf("session:%s", id))
}

// Stop stops the cache cleanup.
func (r *CachedResolver) Stop() {
	r.cache.Stop()
}
