package identity

// Option applies a configuration option to the resolver.
type Option func(*resolver)

// defaultCacheSize bounds the positive cache when no option overrides it.
const defaultCacheSize = 10000

// WithCacheSize sets the maximum number of cached mappings.
// If size > 0: bounded mode with LIFO eviction.
// If size <= 0: unbounded mode (no eviction, no size limit).
func WithCacheSize(size int) Option {
	return func(r *resolver) {
		r.cacheSize = size
	}
}
