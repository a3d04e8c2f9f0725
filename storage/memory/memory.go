// Package memory provides an in-memory storage.Store used by unit tests and
// local development. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Compile-time interface compliance check
var _ storage.Store = (*Store)(nil)

// Store keeps all state in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	posts       map[string]storage.Post
	emoji       map[string]int64
	emojiByLang map[string]map[string]int64
	cursor      int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		posts:       make(map[string]storage.Post),
		emoji:       make(map[string]int64),
		emojiByLang: make(map[string]map[string]int64),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Upsert inserts or replaces a post by ID, latest cursor wins.
func (s *Store) Upsert(_ context.Context, post storage.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.posts[post.ID]; ok && existing.Cursor > post.Cursor {
		return nil // stale replay
	}
	post.Deleted = false
	s.posts[post.ID] = post
	return nil
}

// SoftDelete marks a post deleted and returns its languages.
func (s *Store) SoftDelete(_ context.Context, postID string, cursor int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "Store", "SoftDelete", "lookup post")
	}

	post.Deleted = true
	if cursor > post.Cursor {
		post.Cursor = cursor
	}
	s.posts[postID] = post

	return append([]string(nil), post.Languages...), nil
}

// DeleteOlderThan removes posts created before cutoff.
func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, post := range s.posts {
		if post.CreatedAt.Before(cutoff) {
			delete(s.posts, id)
			removed++
		}
	}
	return removed, nil
}

// LanguageCounts returns per-language counts over non-deleted posts.
func (s *Store) LanguageCounts(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, post := range s.posts {
		if post.Deleted {
			continue
		}
		for _, language := range post.Languages {
			counts[language]++
		}
	}
	return counts, nil
}

// GetLastCursor returns the stored cursor, or 0 when none was set.
func (s *Store) GetLastCursor(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

// SetLastCursor stores the cursor.
func (s *Store) SetLastCursor(_ context.Context, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

// IncrementEmoji advances the aggregate and per-language counts. Daily
// counts are not tracked in memory.
func (s *Store) IncrementEmoji(_ context.Context, emoji, language string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emoji[emoji]++
	if s.emojiByLang[language] == nil {
		s.emojiByLang[language] = make(map[string]int64)
	}
	s.emojiByLang[language][emoji]++
	return nil
}

// EmojiCounts returns a copy of the global per-emoji totals.
func (s *Store) EmojiCounts(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64, len(s.emoji))
	for emoji, count := range s.emoji {
		counts[emoji] = count
	}
	return counts, nil
}

// EmojiCountsByLanguage returns a copy of the per-(language, emoji) totals.
func (s *Store) EmojiCountsByLanguage(_ context.Context) (map[string]map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]map[string]int64, len(s.emojiByLang))
	for language, byEmoji := range s.emojiByLang {
		inner := make(map[string]int64, len(byEmoji))
		for emoji, count := range byEmoji {
			inner[emoji] = count
		}
		counts[language] = inner
	}
	return counts, nil
}

// PostCount returns the number of stored posts (deleted included). Test helper.
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// Post returns a stored post by ID. Test helper.
func (s *Store) Post(postID string) (storage.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	return post, ok
}
