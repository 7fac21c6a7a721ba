package core

import (
	"context"
	"time"
)

// Scheduler drives periodic refresh cycles.
type Scheduler struct {
	core     *Core
	interval time.Duration
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(core *Core, interval time.Duration) *Scheduler {
	return &Scheduler{core: core, interval: interval}
}

// Run fires an immediate cycle and then one per interval until ctx is
// cancelled. Cycles never overlap: a tick arriving while a cycle runs
// joins it via the in-progress suppression in TriggerRefresh, and the
// wait below keeps ticks from queueing behind a slow cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.wait(ctx, s.core.TriggerRefresh(ctx, "startup")); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h := s.core.TriggerRefresh(ctx, "schedule")
			if err := s.wait(ctx, h); err != nil {
				return err
			}
		}
	}
}

// wait blocks until the cycle finishes. Cycle errors are already logged
// by Core and do not stop the schedule; only ctx cancellation does.
func (s *Scheduler) wait(ctx context.Context, h *RefreshHandle) error {
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
