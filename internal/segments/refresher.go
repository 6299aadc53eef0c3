// internal/segments/refresher.go
package segments

import (
	"context"
	"log/slog"
	"time"

	"github.com/practicehq/engage/internal/clock"
)

// Refresher re-materializes due dynamic segments on a fixed sweep cadence.
// Each sweep lists refreshable segments across tenants and refreshes the
// ones whose interval has elapsed; one failing segment never blocks the
// rest of the sweep.
type Refresher struct {
	evaluator *Evaluator
	store     Store
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
}

// NewRefresher creates a segment refresher sweeping at the given interval.
func NewRefresher(evaluator *Evaluator, store Store, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		evaluator: evaluator,
		store:     store,
		clock:     clk,
		interval:  interval,
		logger:    logger.With("component", "segment-refresher"),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep refreshes every due dynamic segment once.
func (r *Refresher) Sweep(ctx context.Context) {
	refreshable, err := r.store.Refreshable(ctx)
	if err != nil {
		r.logger.Error("listing refreshable segments failed", "error", err)
		return
	}

	now := r.clock.Now()
	for _, segment := range refreshable {
		if !segment.Due(now) {
			continue
		}
		if err := r.evaluator.Refresh(ctx, segment); err != nil {
			r.logger.Error("segment refresh failed",
				"tenant_id", segment.TenantID, "segment_id", segment.ID, "error", err)
			continue
		}
		r.logger.Info("segment refreshed",
			"tenant_id", segment.TenantID, "segment_id", segment.ID, "members", segment.CachedCount)
	}
}
