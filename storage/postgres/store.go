// Package postgres implements storage.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// Compile-time interface compliance check
var _ storage.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of storage.Store.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against the given connection string and
// verifies it with a ping.
func New(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "New", "open database connection")
	}

	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(30 * time.Second)

	if err := db.Ping(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "New", "ping database")
	}

	return &Store{db: db}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the tables and indexes if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		did TEXT NOT NULL,
		rkey TEXT NOT NULL,
		collection TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		cursor BIGINT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);

	CREATE TABLE IF NOT EXISTS post_languages (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		language TEXT NOT NULL,
		PRIMARY KEY (post_id, language)
	);

	CREATE INDEX IF NOT EXISTS idx_post_languages_language ON post_languages(language);

	CREATE TABLE IF NOT EXISTS emojis (
		emoji TEXT PRIMARY KEY,
		count BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS emojis_per_language (
		language TEXT NOT NULL,
		emoji TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (language, emoji)
	);

	CREATE TABLE IF NOT EXISTS emojis_daily (
		day DATE NOT NULL,
		emoji TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (day, emoji)
	);

	CREATE TABLE IF NOT EXISTS emojis_per_language_daily (
		day DATE NOT NULL,
		language TEXT NOT NULL,
		emoji TEXT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (day, language, emoji)
	);

	CREATE TABLE IF NOT EXISTS stream_cursor (
		id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		last_cursor BIGINT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.WrapFatal(err, "Store", "InitSchema", "create tables")
	}
	return nil
}

// Upsert inserts or replaces a post and its language associations in one
// transaction. Rows carrying a newer cursor are never overwritten by an
// older replay.
func (s *Store) Upsert(ctx context.Context, post storage.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "Store", "Upsert", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var written string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (id, did, rkey, collection, created_at, cursor, text, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			did = EXCLUDED.did,
			rkey = EXCLUDED.rkey,
			collection = EXCLUDED.collection,
			created_at = EXCLUDED.created_at,
			cursor = EXCLUDED.cursor,
			text = EXCLUDED.text,
			is_deleted = FALSE
		WHERE posts.cursor <= EXCLUDED.cursor
		RETURNING id`,
		post.ID, post.DID, post.RKey, post.Collection, post.CreatedAt, post.Cursor, post.Text).Scan(&written)
	if err == sql.ErrNoRows {
		// Stale replay: the stored row carries a newer cursor, so its
		// language associations stay untouched too.
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Store", "Upsert", "upsert post row")
	}

	// Replacing the association set keeps updates idempotent without
	// duplicating rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM post_languages WHERE post_id = $1`, post.ID); err != nil {
		return errors.WrapTransient(err, "Store", "Upsert", "clear language rows")
	}
	for _, language := range post.Languages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_languages (post_id, language)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			post.ID, language); err != nil {
			return errors.WrapTransient(err, "Store", "Upsert", "insert language row")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "Store", "Upsert", "commit transaction")
	}
	return nil
}

// SoftDelete marks a post deleted and returns its associated languages.
func (s *Store) SoftDelete(ctx context.Context, postID string, cursor int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE posts
		SET is_deleted = TRUE, cursor = GREATEST(cursor, $1)
		WHERE id = $2`,
		cursor, postID)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "mark post deleted")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "count affected rows")
	}
	if affected == 0 {
		return nil, errors.Wrap(errors.ErrNotFound, "Store", "SoftDelete", "lookup post")
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT language FROM post_languages WHERE post_id = $1`, postID)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "query language rows")
	}
	defer rows.Close()

	var languages []string
	for rows.Next() {
		var language string
		if err := rows.Scan(&language); err != nil {
			return nil, errors.WrapTransient(err, "Store", "SoftDelete", "scan language row")
		}
		languages = append(languages, language)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "iterate language rows")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "SoftDelete", "commit transaction")
	}
	return languages, nil
}

// DeleteOlderThan removes posts created before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM posts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "DeleteOlderThan", "delete old posts")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "DeleteOlderThan", "count affected rows")
	}
	return affected, nil
}

// LanguageCounts returns per-language counts over non-deleted posts.
func (s *Store) LanguageCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pl.language, COUNT(*)
		FROM post_languages pl
		JOIN posts p ON p.id = pl.post_id
		WHERE p.is_deleted = FALSE
		GROUP BY pl.language`)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "LanguageCounts", "query language counts")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var language string
		var count int64
		if err := rows.Scan(&language, &count); err != nil {
			return nil, errors.WrapTransient(err, "Store", "LanguageCounts", "scan count row")
		}
		counts[language] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "LanguageCounts", "iterate count rows")
	}
	return counts, nil
}

// GetLastCursor returns the persisted resume cursor, or 0 when none exists.
func (s *Store) GetLastCursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_cursor FROM stream_cursor WHERE id = 1`).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "GetLastCursor", "query cursor")
	}
	return cursor, nil
}

// SetLastCursor persists the resume cursor.
func (s *Store) SetLastCursor(ctx context.Context, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_cursor (id, last_cursor, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_cursor = EXCLUDED.last_cursor,
			updated_at = EXCLUDED.updated_at`,
		cursor)
	if err != nil {
		return errors.WrapTransient(err, "Store", "SetLastCursor", "upsert cursor")
	}
	return nil
}

// IncrementEmoji advances the aggregate, per-language, and daily counts for
// one emoji use in one transaction.
func (s *Store) IncrementEmoji(ctx context.Context, emoji, language string, day time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "Store", "IncrementEmoji", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	date := day.UTC().Format("2006-01-02")

	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO emojis (emoji, count) VALUES ($1, 1)
		  ON CONFLICT (emoji) DO UPDATE SET count = emojis.count + 1`,
			[]any{emoji}},
		{`INSERT INTO emojis_per_language (language, emoji, count) VALUES ($1, $2, 1)
		  ON CONFLICT (language, emoji) DO UPDATE SET count = emojis_per_language.count + 1`,
			[]any{language, emoji}},
		{`INSERT INTO emojis_daily (day, emoji, count) VALUES ($1, $2, 1)
		  ON CONFLICT (day, emoji) DO UPDATE SET count = emojis_daily.count + 1`,
			[]any{date, emoji}},
		{`INSERT INTO emojis_per_language_daily (day, language, emoji, count) VALUES ($1, $2, $3, 1)
		  ON CONFLICT (day, language, emoji) DO UPDATE SET count = emojis_per_language_daily.count + 1`,
			[]any{date, language, emoji}},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return errors.WrapTransient(err, "Store", "IncrementEmoji", "advance emoji count")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "Store", "IncrementEmoji", "commit transaction")
	}
	return nil
}

// EmojiCounts returns global per-emoji totals.
func (s *Store) EmojiCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT emoji, count FROM emojis`)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "EmojiCounts", "query emoji counts")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var emoji string
		var count int64
		if err := rows.Scan(&emoji, &count); err != nil {
			return nil, errors.WrapTransient(err, "Store", "EmojiCounts", "scan count row")
		}
		counts[emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "EmojiCounts", "iterate count rows")
	}
	return counts, nil
}

// EmojiCountsByLanguage returns per-(language, emoji) totals.
func (s *Store) EmojiCountsByLanguage(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT language, emoji, count FROM emojis_per_language`)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "EmojiCountsByLanguage", "query counts")
	}
	defer rows.Close()

	counts := make(map[string]map[string]int64)
	for rows.Next() {
		var language, emoji string
		var count int64
		if err := rows.Scan(&language, &emoji, &count); err != nil {
			return nil, errors.WrapTransient(err, "Store", "EmojiCountsByLanguage", "scan count row")
		}
		if counts[language] == nil {
			counts[language] = make(map[string]int64)
		}
		counts[language][emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "EmojiCountsByLanguage", "iterate count rows")
	}
	return counts, nil
}
