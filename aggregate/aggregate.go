// Package aggregate maintains the in-process language and emoji counters that
// back the exported gauges. Counters move with the stream and drift is
// corrected by periodic reconciliation against the store.
package aggregate

import (
	"log/slog"
	"sync"

	"github.com/aliceisjustplaying/languagestats-bsky/metric"
)

// Aggregator holds live per-language post counts and per-emoji usage counts.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	languages   map[string]int64
	emoji       map[string]int64
	emojiByLang map[string]map[string]int64

	metrics *metric.Metrics
	logger  *slog.Logger
}

// New creates an empty aggregator. Metrics may be nil.
func New(metrics *metric.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		languages:   make(map[string]int64),
		emoji:       make(map[string]int64),
		emojiByLang: make(map[string]map[string]int64),
		metrics:     metrics,
		logger:      logger.With("component", "aggregate"),
	}
}

// Increment advances the count for each given language by one.
func (a *Aggregator) Increment(languages []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, language := range languages {
		a.languages[language]++
		a.metrics.SetLanguageCount(language, a.languages[language])
	}
}

// Decrement lowers the count for each given language by one, clamping at
// zero. A clamped decrement means the counter had drifted; it is logged and
// left for reconciliation to settle.
func (a *Aggregator) Decrement(languages []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, language := range languages {
		if a.languages[language] <= 0 {
			a.logger.Warn("language counter already at zero, skipping decrement",
				"language", language)
			a.languages[language] = 0
			continue
		}
		a.languages[language]--
		a.metrics.SetLanguageCount(language, a.languages[language])
	}
}

// RecordEmoji advances the global and per-language usage counts for one emoji.
func (a *Aggregator) RecordEmoji(emoji, language string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.emoji[emoji]++
	a.metrics.SetEmojiCount(emoji, a.emoji[emoji])

	if a.emojiByLang[language] == nil {
		a.emojiByLang[language] = make(map[string]int64)
	}
	a.emojiByLang[language][emoji]++
}

// ReplaceLanguages overwrites the live language counts with authoritative
// store counts, resetting the gauges so stale labels disappear.
func (a *Aggregator) ReplaceLanguages(counts map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.languages = make(map[string]int64, len(counts))
	a.metrics.ResetLanguageCounts()
	for language, count := range counts {
		a.languages[language] = count
		a.metrics.SetLanguageCount(language, count)
	}
}

// ReplaceEmojis overwrites the live emoji counts with authoritative store
// counts.
func (a *Aggregator) ReplaceEmojis(counts map[string]int64, byLanguage map[string]map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.emoji = make(map[string]int64, len(counts))
	a.metrics.ResetEmojiCounts()
	for emoji, count := range counts {
		a.emoji[emoji] = count
		a.metrics.SetEmojiCount(emoji, count)
	}

	a.emojiByLang = make(map[string]map[string]int64, len(byLanguage))
	for language, inner := range byLanguage {
		copied := make(map[string]int64, len(inner))
		for emoji, count := range inner {
			copied[emoji] = count
		}
		a.emojiByLang[language] = copied
	}
}

// Languages returns a snapshot of the live per-language counts.
func (a *Aggregator) Languages() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[string]int64, len(a.languages))
	for language, count := range a.languages {
		snapshot[language] = count
	}
	return snapshot
}

// Emojis returns a snapshot of the live global per-emoji counts.
func (a *Aggregator) Emojis() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[string]int64, len(a.emoji))
	for emoji, count := range a.emoji {
		snapshot[emoji] = count
	}
	return snapshot
}

// EmojisByLanguage returns a snapshot of the live per-(language, emoji)
// counts.
func (a *Aggregator) EmojisByLanguage() map[string]map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make(map[string]map[string]int64, len(a.emojiByLang))
	for language, inner := range a.emojiByLang {
		copied := make(map[string]int64, len(inner))
		for emoji, count := range inner {
			copied[emoji] = count
		}
		snapshot[language] = copied
	}
	return snapshot
}
