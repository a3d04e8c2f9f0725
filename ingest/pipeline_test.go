package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliceisjustplaying/languagestats-bsky/aggregate"
	"github.com/aliceisjustplaying/languagestats-bsky/firehose"
	"github.com/aliceisjustplaying/languagestats-bsky/storage/memory"
)

func newTestPipeline(t *testing.T) (*Pipeline, *memory.Store, *aggregate.Aggregator, *Watermark) {
	t.Helper()

	store := memory.New()
	agg := aggregate.New(nil, nil)
	watermark := NewWatermark(0)

	pipeline, err := NewPipeline(store, agg, watermark, nil, nil, nil)
	require.NoError(t, err)

	return pipeline, store, agg, watermark
}

func commitRecord(op firehose.Operation, cursor int64) *firehose.CommitRecord {
	return &firehose.CommitRecord{
		PostID:     "did:plc:abc:r1",
		DID:        "did:plc:abc",
		RKey:       "r1",
		Collection: "app.bsky.feed.post",
		Operation:  op,
		CreatedAt:  time.Now().UTC(),
		Languages:  []string{"en"},
		Text:       "hello 😀",
		Cursor:     cursor,
	}
}

func TestHandleCommitCreate(t *testing.T) {
	pipeline, store, agg, watermark := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, pipeline.HandleCommit(ctx, commitRecord(firehose.OpCreate, 100)))

	// Post persisted, language counted, emoji recorded, watermark advanced.
	post, ok := store.Post("did:plc:abc:r1")
	require.True(t, ok)
	assert.Equal(t, []string{"en"}, post.Languages)
	assert.Equal(t, "hello 😀", post.Text)

	assert.Equal(t, int64(1), agg.Languages()["en"])
	assert.Equal(t, int64(1), agg.Emojis()["😀"])
	assert.Equal(t, int64(1), agg.EmojisByLanguage()["en"]["😀"])

	emojis, err := store.EmojiCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), emojis["😀"])

	assert.Equal(t, int64(100), watermark.Load())
}

func TestHandleCommitReplay(t *testing.T) {
	pipeline, store, _, watermark := newTestPipeline(t)
	ctx := context.Background()

	rec := commitRecord(firehose.OpCreate, 100)
	require.NoError(t, pipeline.HandleCommit(ctx, rec))
	require.NoError(t, pipeline.HandleCommit(ctx, rec))

	// The stored row is idempotent; live counters drift on replay and are
	// squared up by reconciliation.
	assert.Equal(t, 1, store.PostCount())
	assert.Equal(t, int64(100), watermark.Load())
}

func TestHandleCommitDelete(t *testing.T) {
	pipeline, store, agg, watermark := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, pipeline.HandleCommit(ctx, commitRecord(firehose.OpCreate, 100)))
	require.NoError(t, pipeline.HandleCommit(ctx, commitRecord(firehose.OpDelete, 150)))

	assert.Zero(t, agg.Languages()["en"])
	assert.Equal(t, int64(150), watermark.Load())

	counts, err := store.LanguageCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHandleCommitDeleteUnknownPost(t *testing.T) {
	pipeline, _, agg, watermark := newTestPipeline(t)

	// A delete for a post we never saw is not an error and still advances
	// the watermark: the event was fully handled.
	require.NoError(t, pipeline.HandleCommit(context.Background(), commitRecord(firehose.OpDelete, 200)))

	assert.Zero(t, agg.Languages()["en"])
	assert.Equal(t, int64(200), watermark.Load())
}

func TestHandleCommitUpdateLatestWins(t *testing.T) {
	pipeline, store, _, watermark := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, pipeline.HandleCommit(ctx, commitRecord(firehose.OpCreate, 100)))

	update := commitRecord(firehose.OpUpdate, 150)
	update.Languages = []string{"ja"}
	update.Text = "こんにちは"
	require.NoError(t, pipeline.HandleCommit(ctx, update))

	post, ok := store.Post("did:plc:abc:r1")
	require.True(t, ok)
	assert.Equal(t, []string{"ja"}, post.Languages)

	// A stale replay of the original create does not clobber the update.
	require.NoError(t, pipeline.HandleCommit(ctx, commitRecord(firehose.OpCreate, 100)))
	post, _ = store.Post("did:plc:abc:r1")
	assert.Equal(t, []string{"ja"}, post.Languages)

	assert.Equal(t, int64(150), watermark.Load())
}

func TestHandleCommitEmojiLanguageAttribution(t *testing.T) {
	pipeline, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	rec := commitRecord(firehose.OpCreate, 100)
	rec.Languages = []string{"pt", "en"}
	rec.Text = "🎉🎉"
	require.NoError(t, pipeline.HandleCommit(ctx, rec))

	// Emoji usage is attributed to the primary (first) language.
	byLang, err := store.EmojiCountsByLanguage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byLang["pt"]["🎉"])
	assert.Empty(t, byLang["en"])
}
