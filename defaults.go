package burrow

import "time"

// DefaultOptions returns the recommended set of options for production use:
// a bounded cache with the stock TTL and a periodic expired-entry sweep.
func DefaultOptions() []Option {
	return []Option{
		WithCacheSize(100),
		WithDefaultTTL(5 * time.Minute),
		WithCleanupInterval(time.Minute),
	}
}
