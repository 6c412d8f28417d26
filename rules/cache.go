package rules

import "time"

// RulesCache holds the last decoded rule collection so reads can skip the medium.
// Implementations hand out deep copies; callers never see cached state.
type RulesCache interface {
	// Get retrieves the cached collection, returns nil on miss or expiry
	Get() []*Rule

	// Set stores a copy of the collection
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a medium read on next load
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL bounds how long a snapshot is trusted.
	// Zero means no expiry: the snapshot lives until the next save or Invalidate.
	// Use a TTL when other processes write the same slot.
	TTL time.Duration
}

// DefaultCacheConfig returns the single-writer default
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
