package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/aggregate"
	"github.com/aliceisjustplaying/languagestats-bsky/emoji"
	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/firehose"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Pipeline applies one decoded commit at a time: persist, update the live
// aggregates, then advance the watermark. It is the firehose.Handler for the
// stream client, so commits arrive strictly in per-connection order.
type Pipeline struct {
	store     storage.Store
	agg       *aggregate.Aggregator
	watermark *Watermark
	metrics   *metric.Metrics
	rate      *metric.RateTracker
	logger    *slog.Logger
}

// Interface compliance check
var _ firehose.Handler = (*Pipeline)(nil)

// NewPipeline wires the commit pipeline. Metrics and rate may be nil.
func NewPipeline(
	store storage.Store,
	agg *aggregate.Aggregator,
	watermark *Watermark,
	metrics *metric.Metrics,
	rate *metric.RateTracker,
	logger *slog.Logger,
) (*Pipeline, error) {
	if store == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "validate store")
	}
	if agg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "validate aggregator")
	}
	if watermark == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "validate watermark")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		store:     store,
		agg:       agg,
		watermark: watermark,
		metrics:   metrics,
		rate:      rate,
		logger:    logger.With("component", "ingest"),
	}, nil
}

// HandleCommit applies one commit. The watermark advances only after the
// commit's side effects have been applied; a storage failure returns the
// error without moving it, so the cursor is replayed on the next flush cycle
// and idempotent writes absorb the duplicate.
func (p *Pipeline) HandleCommit(ctx context.Context, rec *firehose.CommitRecord) error {
	switch rec.Operation {
	case firehose.OpCreate, firehose.OpUpdate:
		if err := p.applyUpsert(ctx, rec); err != nil {
			return err
		}
	case firehose.OpDelete:
		if err := p.applyDelete(ctx, rec); err != nil {
			return err
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "Pipeline", "HandleCommit", "dispatch operation")
	}

	p.metrics.SetWatermark(p.watermark.Advance(rec.Cursor))
	return nil
}

func (p *Pipeline) applyUpsert(ctx context.Context, rec *firehose.CommitRecord) error {
	err := p.store.Upsert(ctx, storage.Post{
		ID:         rec.PostID,
		DID:        rec.DID,
		RKey:       rec.RKey,
		Collection: rec.Collection,
		CreatedAt:  rec.CreatedAt,
		Cursor:     rec.Cursor,
		Languages:  rec.Languages,
		Text:       rec.Text,
	})
	if err != nil {
		return errors.WrapTransient(err, "Pipeline", "applyUpsert", "persist post")
	}

	p.agg.Increment(rec.Languages)
	p.metrics.RecordPost()
	p.rate.Mark()

	p.recordEmojis(ctx, rec)
	return nil
}

// recordEmojis extracts emoji from the post text and records each occurrence
// against the post's primary language. Persistence failures here are logged
// and absorbed: emoji counts are statistics, not the source of truth, and the
// backfill can rebuild them from stored text.
func (p *Pipeline) recordEmojis(ctx context.Context, rec *firehose.CommitRecord) {
	emojis := emoji.Extract(rec.Text)
	if len(emojis) == 0 {
		return
	}

	language := firehose.UnknownLanguage
	if len(rec.Languages) > 0 {
		language = rec.Languages[0]
	}
	day := rec.CreatedAt.UTC().Truncate(24 * time.Hour)

	for _, e := range emojis {
		p.agg.RecordEmoji(e, language)
		if err := p.store.IncrementEmoji(ctx, e, language, day); err != nil {
			p.trackError(err)
			p.logger.Warn("emoji count persist failed",
				"post_id", rec.PostID, "emoji", e, "error", err)
		}
	}
}

func (p *Pipeline) applyDelete(ctx context.Context, rec *firehose.CommitRecord) error {
	languages, err := p.store.SoftDelete(ctx, rec.PostID, rec.Cursor)
	if err != nil {
		if errors.IsNotFound(err) {
			// A delete can arrive for a post created before our retention
			// window or before this deployment started. Nothing to undo.
			p.logger.Debug("delete for unknown post", "post_id", rec.PostID)
			return nil
		}
		return errors.WrapTransient(err, "Pipeline", "applyDelete", "soft-delete post")
	}

	p.agg.Decrement(languages)
	return nil
}

// trackError counts an error under its classification.
func (p *Pipeline) trackError(err error) {
	p.metrics.RecordError(errors.Classify(err).String())
}
