package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Purger enforces the retention window by periodically removing posts older
// than it. Language gauges catch up on the next reconciliation pass.
type Purger struct {
	posts     storage.PostRepository
	retention time.Duration
	interval  time.Duration
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewPurger creates a purger. A zero retention disables purging entirely;
// callers should not start Run in that case.
func NewPurger(
	posts storage.PostRepository,
	retention, interval time.Duration,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*Purger, error) {
	if posts == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Purger", "NewPurger", "validate post repository")
	}
	if retention < 0 || interval <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Purger", "NewPurger", "validate intervals")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Purger{
		posts:     posts,
		retention: retention,
		interval:  interval,
		metrics:   metrics,
		logger:    logger.With("component", "purger"),
	}, nil
}

// Run purges once at startup, then on every tick until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) error {
	if p.retention == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	p.Purge(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Purge(ctx)
		}
	}
}

// Purge removes posts older than the retention window. Failures are logged
// and retried on the next tick.
func (p *Purger) Purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)

	removed, err := p.posts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.metrics.RecordError(errors.Classify(err).String())
		p.logger.Warn("retention purge failed", "cutoff", cutoff, "error", err)
		return
	}
	if removed > 0 {
		p.logger.Info("purged expired posts", "removed", removed, "cutoff", cutoff)
	}
}
