package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliceisjustplaying/languagestats-bsky/aggregate"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
	"github.com/aliceisjustplaying/languagestats-bsky/storage/memory"
)

func TestReconcileReplacesDriftedCounters(t *testing.T) {
	store := memory.New()
	agg := aggregate.New(nil, nil)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, storage.Post{
		ID: "p1", DID: "d", RKey: "r1", CreatedAt: time.Now(), Cursor: 1,
		Languages: []string{"en"},
	}))
	require.NoError(t, store.Upsert(ctx, storage.Post{
		ID: "p2", DID: "d", RKey: "r2", CreatedAt: time.Now(), Cursor: 2,
		Languages: []string{"en", "pt"},
	}))
	require.NoError(t, store.IncrementEmoji(ctx, "😀", "en", time.Now()))

	// Simulate drift: the live counters disagree with the store.
	agg.Increment([]string{"en", "en", "en", "en", "de"})

	reconciler, err := NewReconciler(store, agg, time.Minute, nil, nil)
	require.NoError(t, err)
	reconciler.Reconcile(ctx)

	counts := agg.Languages()
	assert.Equal(t, int64(2), counts["en"])
	assert.Equal(t, int64(1), counts["pt"])
	_, ok := counts["de"]
	assert.False(t, ok, "drifted label must disappear after reconciliation")

	assert.Equal(t, int64(1), agg.Emojis()["😀"])
	assert.Equal(t, int64(1), agg.EmojisByLanguage()["en"]["😀"])
}
