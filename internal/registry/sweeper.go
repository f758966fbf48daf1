package registry

import (
	"context"
	"time"
)

// Sweeper periodically marks runs with missed heartbeats as stale.
type Sweeper struct {
	registry   *Registry
	staleAfter time.Duration
	interval   time.Duration
	onStale    func(runIDs []string)
}

// NewSweeper builds a sweeper. onStale may be nil; when set it is invoked
// outside any registry lock with the ids marked on each pass.
func NewSweeper(reg *Registry, staleAfter, interval time.Duration, onStale func([]string)) *Sweeper {
	return &Sweeper{
		registry:   reg,
		staleAfter: staleAfter,
		interval:   interval,
		onStale:    onStale,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs a single pass.
func (s *Sweeper) Sweep() {
	cutoff := s.registry.now().UTC().Add(-s.staleAfter)
	marked := s.registry.MarkStaleBefore(cutoff)
	if len(marked) > 0 && s.onStale != nil {
		s.onStale(marked)
	}
}
