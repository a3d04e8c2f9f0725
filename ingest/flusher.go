package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Flusher persists the watermark on a fixed interval so a restart replays at
// most one interval's worth of events. Flush failures are logged and retried
// on the next tick; the watermark itself never regresses.
type Flusher struct {
	cursors   storage.CursorStore
	watermark *Watermark
	interval  time.Duration
	metrics   *metric.Metrics
	logger    *slog.Logger

	lastFlushed int64
}

// NewFlusher creates a flusher. Interval must be positive.
func NewFlusher(
	cursors storage.CursorStore,
	watermark *Watermark,
	interval time.Duration,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*Flusher, error) {
	if cursors == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Flusher", "NewFlusher", "validate cursor store")
	}
	if watermark == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Flusher", "NewFlusher", "validate watermark")
	}
	if interval <= 0 {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Flusher", "NewFlusher", "validate interval")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Flusher{
		cursors:   cursors,
		watermark: watermark,
		interval:  interval,
		metrics:   metrics,
		logger:    logger.With("component", "flusher"),
	}, nil
}

// Run flushes on every tick until ctx is cancelled, then makes one final
// best-effort flush so a clean shutdown loses nothing.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.finalFlush()
			return ctx.Err()
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush persists the current watermark if it has moved since the last
// successful flush. A zero watermark is never persisted: it would turn a
// live-tail start into a bogus resume point.
func (f *Flusher) Flush(ctx context.Context) {
	cursor := f.watermark.Load()
	if cursor == 0 || cursor == f.lastFlushed {
		return
	}

	if err := f.cursors.SetLastCursor(ctx, cursor); err != nil {
		f.metrics.RecordError(errors.Classify(err).String())
		f.logger.Warn("cursor flush failed", "cursor", cursor, "error", err)
		return
	}

	f.lastFlushed = cursor
	f.logger.Debug("cursor flushed", "cursor", cursor)
}

// finalFlush runs outside the cancelled context with a short deadline.
func (f *Flusher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.Flush(ctx)
}
