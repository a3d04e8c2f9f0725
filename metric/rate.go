package metric

import (
	"context"
	"sync/atomic"
	"time"
)

// RateTracker maintains the posts-per-second gauge: the hot path calls Mark
// (a single atomic add) and a one-second ticker publishes and resets the
// window count.
type RateTracker struct {
	metrics *Metrics
	window  atomic.Int64
}

// NewRateTracker creates a tracker publishing to the given metrics.
func NewRateTracker(metrics *Metrics) *RateTracker {
	return &RateTracker{metrics: metrics}
}

// Mark records one processed post. Safe for concurrent use; no-op on nil.
func (t *RateTracker) Mark() {
	if t == nil {
		return
	}
	t.window.Add(1)
}

// Run publishes the per-second rate until ctx is cancelled.
func (t *RateTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.metrics.SetPostsPerSecond(float64(t.window.Swap(0)))
		}
	}
}
