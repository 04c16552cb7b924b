package repository

// Option applies a configuration option to the DBStore.
type Option func(*DBStore)

// WithMaxWriteAttempts sets how many times a conflicting write is retried
// before the store gives up with ErrWriteContention.
func WithMaxWriteAttempts(n int) Option {
	return func(s *DBStore) {
		if n > 0 {
			s.maxWriteAttempts = n
		}
	}
}
