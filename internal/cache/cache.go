package cache

import (
	"context"

	"github.com/brandrank/quantum-intel/internal/api"
)

// ResultCache stores composite analysis results keyed by subject ID with a
// fixed TTL. Entries are immutable once constructed, so concurrent overwrites
// are safe; last writer wins.
type ResultCache interface {
	// Get returns the cached result for a subject, or (nil, false) on a miss
	// or expired entry.
	Get(ctx context.Context, subjectID string) (*api.CompositeResult, bool)

	// Set stores a result under the cache's TTL.
	Set(ctx context.Context, subjectID string, result *api.CompositeResult) error

	// Stats reports hit/miss counts for health reporting.
	Stats() Stats

	// Close releases cache resources.
	Close() error
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Disabled is a no-op cache used when caching is turned off.
type Disabled struct{}

func (Disabled) Get(ctx context.Context, subjectID string) (*api.CompositeResult, bool) {
	return nil, false
}

func (Disabled) Set(ctx context.Context, subjectID string, result *api.CompositeResult) error {
	return nil
}

func (Disabled) Stats() Stats { return Stats{} }

func (Disabled) Close() error { return nil }
