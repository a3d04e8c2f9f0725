// Package storage defines the persistence interfaces consumed by the
// ingestion core and the record types that cross them. Implementations live
// in the postgres and memory subpackages.
package storage

import (
	"context"
	"time"
)

// Post is the durable representation of one firehose post.
type Post struct {
	// ID is "<did>:<rkey>", the idempotency key for upserts.
	ID         string
	DID        string
	RKey       string
	Collection string
	CreatedAt  time.Time

	// Cursor is the stream position of the write; later cursors win when the
	// same post is written twice.
	Cursor int64

	// Languages are the normalized language codes associated with the post.
	Languages []string

	// Text is the raw post body, kept so emoji statistics can be rebuilt
	// offline.
	Text string

	Deleted bool
}

// PostRepository persists posts and their language associations.
type PostRepository interface {
	// Upsert inserts or replaces a post by ID. Calling it twice with the same
	// data is equivalent to calling it once; language associations are never
	// duplicated. A write carrying an older cursor than the stored row is a
	// no-op (latest wins).
	Upsert(ctx context.Context, post Post) error

	// SoftDelete marks a post deleted and returns the language codes that
	// were associated with it, so in-memory counters can be decremented
	// accurately. A missing post returns errors.ErrNotFound; deletes may race
	// ahead of not-yet-applied creates and that is not a failure.
	SoftDelete(ctx context.Context, postID string, cursor int64) ([]string, error)

	// DeleteOlderThan removes posts created before cutoff and returns the
	// number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// LanguageCounts returns authoritative per-language counts over
	// non-deleted posts.
	LanguageCounts(ctx context.Context) (map[string]int64, error)
}

// CursorStore persists the single monotonic resume point.
type CursorStore interface {
	// GetLastCursor returns the persisted cursor, or 0 when none has been
	// stored yet (live-tail start).
	GetLastCursor(ctx context.Context) (int64, error)

	// SetLastCursor persists the cursor, overwriting any previous value.
	SetLastCursor(ctx context.Context, cursor int64) error
}

// EmojiStore records emoji usage and serves the authoritative counts used by
// reconciliation.
type EmojiStore interface {
	// IncrementEmoji records one use of emoji in language on the given day.
	// Aggregate, per-language, and daily counts all advance by one.
	IncrementEmoji(ctx context.Context, emoji, language string, day time.Time) error

	// EmojiCounts returns authoritative global per-emoji totals.
	EmojiCounts(ctx context.Context) (map[string]int64, error)

	// EmojiCountsByLanguage returns authoritative per-(language, emoji) totals.
	EmojiCountsByLanguage(ctx context.Context) (map[string]map[string]int64, error)
}

// Store is the full persistence surface consumed by the ingester.
type Store interface {
	PostRepository
	CursorStore
	EmojiStore

	Close() error
}
