package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliceisjustplaying/languagestats-bsky/storage/memory"
)

func TestFlushPersistsWatermark(t *testing.T) {
	store := memory.New()
	watermark := NewWatermark(0)

	flusher, err := NewFlusher(store, watermark, time.Second, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()

	// Zero watermark is never written.
	flusher.Flush(ctx)
	cursor, err := store.GetLastCursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	watermark.Advance(12345)
	flusher.Flush(ctx)

	cursor, err = store.GetLastCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cursor)
}

func TestFlushSkipsUnchanged(t *testing.T) {
	store := memory.New()
	watermark := NewWatermark(0)

	flusher, err := NewFlusher(store, watermark, time.Second, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	watermark.Advance(100)
	flusher.Flush(ctx)

	// Move the stored value out from under the flusher; an unchanged
	// watermark must not rewrite it.
	require.NoError(t, store.SetLastCursor(ctx, 999))
	flusher.Flush(ctx)

	cursor, err := store.GetLastCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(999), cursor)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	store := memory.New()
	watermark := NewWatermark(0)

	flusher, err := NewFlusher(store, watermark, time.Hour, nil, nil)
	require.NoError(t, err)

	watermark.Advance(777)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = flusher.Run(ctx)

	// The final flush ran even though no tick ever fired.
	cursor, err := store.GetLastCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(777), cursor)
}

func TestNewFlusherValidation(t *testing.T) {
	watermark := NewWatermark(0)

	_, err := NewFlusher(nil, watermark, time.Second, nil, nil)
	assert.Error(t, err)

	_, err = NewFlusher(memory.New(), nil, time.Second, nil, nil)
	assert.Error(t, err)

	_, err = NewFlusher(memory.New(), watermark, 0, nil, nil)
	assert.Error(t, err)
}
