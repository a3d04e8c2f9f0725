// Package ingest wires the decoded stream into persistence and the live
// aggregates: the commit pipeline, the resume watermark and its flusher, the
// counter reconciler, and the retention purger.
package ingest

import "sync/atomic"

// Watermark is the highest cursor whose side effects have been attempted. It
// only moves forward; replayed or reordered cursors never lower it.
type Watermark struct {
	value atomic.Int64
}

// NewWatermark creates a watermark seeded at cursor, typically the persisted
// resume point.
func NewWatermark(cursor int64) *Watermark {
	w := &Watermark{}
	w.value.Store(cursor)
	return w
}

// Advance raises the watermark to cursor if it is higher, and returns the
// resulting value.
func (w *Watermark) Advance(cursor int64) int64 {
	for {
		current := w.value.Load()
		if cursor <= current {
			return current
		}
		if w.value.CompareAndSwap(current, cursor) {
			return cursor
		}
	}
}

// Load returns the current watermark.
func (w *Watermark) Load() int64 {
	return w.value.Load()
}
