package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/aggregate"
	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Reconciler periodically replaces the live counters with authoritative store
// counts, bounding the drift that clamped decrements and dropped events
// accumulate between runs.
type Reconciler struct {
	store    storage.Store
	agg      *aggregate.Aggregator
	interval time.Duration
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// NewReconciler creates a reconciler. Interval must be positive.
func NewReconciler(
	store storage.Store,
	agg *aggregate.Aggregator,
	interval time.Duration,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*Reconciler, error) {
	if store == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Reconciler", "NewReconciler", "validate store")
	}
	if agg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Reconciler", "NewReconciler", "validate aggregator")
	}
	if interval <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Reconciler", "NewReconciler", "validate interval")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		store:    store,
		agg:      agg,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With("component", "reconciler"),
	}, nil
}

// Run reconciles once at startup, then on every tick until ctx is cancelled.
// The startup pass seeds the gauges from the store so a restart does not
// export zeros until the first interval elapses.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile performs one full replacement of the live counters. Failures are
// logged and left for the next run; the counters keep their current values.
func (r *Reconciler) Reconcile(ctx context.Context) {
	languages, err := r.store.LanguageCounts(ctx)
	if err != nil {
		r.metrics.RecordError(errors.Classify(err).String())
		r.logger.Warn("language reconciliation failed", "error", err)
	} else {
		r.agg.ReplaceLanguages(languages)
	}

	emojis, err := r.store.EmojiCounts(ctx)
	if err != nil {
		r.metrics.RecordError(errors.Classify(err).String())
		r.logger.Warn("emoji reconciliation failed", "error", err)
		return
	}
	byLanguage, err := r.store.EmojiCountsByLanguage(ctx)
	if err != nil {
		r.metrics.RecordError(errors.Classify(err).String())
		r.logger.Warn("per-language emoji reconciliation failed", "error", err)
		return
	}
	r.agg.ReplaceEmojis(emojis, byLanguage)

	r.logger.Debug("counters reconciled",
		"languages", len(languages), "emojis", len(emojis))
}
