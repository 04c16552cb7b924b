// Package identity resolves provider-side user references to internal
// account ids. Resolution happens on the hot ingest path, before a raw
// event is accepted, so a bounded in-memory cache sits in front of the
// persistent connection store.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/vitals/pkg/metrics"
)

// Lookup is the persistent side of resolution. Implementations return
// ErrUnknownUser when no connection row exists for the pair.
type Lookup interface {
	LookupConnection(ctx context.Context, provider, providerUserID string) (string, error)
}

// Resolver answers which internal user owns a provider-side identity.
type Resolver interface {
	// Resolve returns the internal user id for a (provider, provider user)
	// pair. ErrUnknownUser means the pair is simply not linked; any other
	// error means the answer is unknown and the caller must not treat the
	// event as terminally failed.
	Resolve(ctx context.Context, provider, providerUserID string) (string, error)

	// Invalidate drops a cached mapping, forcing the next Resolve to hit
	// the store. Used when a connection is created or re-pointed.
	Invalidate(provider, providerUserID string)

	CacheSize() int64
}

// resolver implements Resolver with a bounded positive cache. Negative
// results are never cached: an account may be linked moments after a
// delivery and the very next one must resolve.
type resolver struct {
	lookup    Lookup
	cache     *boundedCache
	cacheSize int
}

// NewResolver creates a store-backed resolver with configuration options.
func NewResolver(lookup Lookup, opts ...Option) Resolver {
	r := &resolver{
		lookup:    lookup,
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = newBoundedCache(r.cacheSize)
	return r
}

func (r *resolver) Resolve(ctx context.Context, provider, providerUserID string) (string, error) {
	key := cacheKey(provider, providerUserID)
	if userID, ok := r.cache.get(key); ok {
		metrics.RecordIdentityLookup("cache_hit")
		return userID, nil
	}

	userID, err := r.lookup.LookupConnection(ctx, provider, providerUserID)
	switch {
	case err == nil:
		r.cache.put(key, userID)
		metrics.RecordIdentityLookup("store_hit")
		metrics.UpdateIdentityCacheSize(int(r.cache.len()))
		return userID, nil
	case errors.Is(err, ErrUnknownUser):
		metrics.RecordIdentityLookup("unknown")
		return "", err
	default:
		metrics.RecordIdentityLookup("error")
		return "", fmt.Errorf("identity lookup for %s: %w", provider, err)
	}
}

func (r *resolver) Invalidate(provider, providerUserID string) {
	r.cache.remove(cacheKey(provider, providerUserID))
	metrics.UpdateIdentityCacheSize(int(r.cache.len()))
}

func (r *resolver) CacheSize() int64 {
	return r.cache.len()
}

// cacheKey joins the pair into one map key. Provider names never contain
// the separator.
func cacheKey(provider, providerUserID string) string {
	return provider + "/" + providerUserID
}
