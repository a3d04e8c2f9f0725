// Command backfill rebuilds the emoji usage tables from the stored post
// bodies. It truncates all emoji counts and replays every non-deleted post
// through the extractor, so it must not run concurrently with the ingester.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aliceisjustplaying/languagestats-bsky/config"
	"github.com/aliceisjustplaying/languagestats-bsky/emoji"
	"github.com/aliceisjustplaying/languagestats-bsky/firehose"
	"github.com/aliceisjustplaying/languagestats-bsky/storage"
	"github.com/aliceisjustplaying/languagestats-bsky/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	dryRun := flag.Bool("dry-run", false, "count emoji without touching the database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if !*dryRun {
		if err := store.ResetEmojiCounts(ctx); err != nil {
			return err
		}
		logger.Info("emoji tables reset")
	}

	start := time.Now()
	var posts, occurrences int64

	err = store.ForEachActivePost(ctx, func(post storage.Post) error {
		posts++
		emojis := emoji.Extract(post.Text)
		if len(emojis) == 0 {
			return nil
		}

		language := firehose.UnknownLanguage
		if len(post.Languages) > 0 {
			language = post.Languages[0]
		}
		day := post.CreatedAt.UTC().Truncate(24 * time.Hour)

		for _, e := range emojis {
			occurrences++
			if *dryRun {
				continue
			}
			if err := store.IncrementEmoji(ctx, e, language, day); err != nil {
				return err
			}
		}

		if posts%10000 == 0 {
			logger.Info("backfill progress", "posts", posts, "emoji", occurrences)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("backfill complete",
		"posts", posts,
		"emoji", occurrences,
		"dry_run", *dryRun,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
