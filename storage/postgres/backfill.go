package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
)

// ForEachActivePost streams non-deleted posts with their language
// associations to fn, in creation order. Used by the offline emoji backfill.
func (s *Store) ForEachActivePost(ctx context.Context, fn func(post storage.Post) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.did, p.rkey, p.collection, p.created_at, p.cursor, p.text,
		       COALESCE(array_agg(pl.language) FILTER (WHERE pl.language IS NOT NULL), '{}')
		FROM posts p
		LEFT JOIN post_languages pl ON pl.post_id = p.id
		WHERE p.is_deleted = FALSE
		GROUP BY p.id
		ORDER BY p.created_at`)
	if err != nil {
		return errors.WrapTransient(err, "Store", "ForEachActivePost", "query posts")
	}
	defer rows.Close()

	for rows.Next() {
		var post storage.Post
		var languages pq.StringArray
		if err := rows.Scan(&post.ID, &post.DID, &post.RKey, &post.Collection,
			&post.CreatedAt, &post.Cursor, &post.Text, &languages); err != nil {
			return errors.WrapTransient(err, "Store", "ForEachActivePost", "scan post row")
		}
		post.Languages = languages

		if err := fn(post); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.WrapTransient(err, "Store", "ForEachActivePost", "iterate post rows")
	}
	return nil
}

// ResetEmojiCounts truncates all emoji count tables so the backfill can
// rebuild them from stored posts.
func (s *Store) ResetEmojiCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`TRUNCATE emojis, emojis_per_language, emojis_daily, emojis_per_language_daily`)
	if err != nil {
		return errors.WrapTransient(err, "Store", "ResetEmojiCounts", "truncate emoji tables")
	}
	return nil
}
