// Command langstats ingests the Bluesky Jetstream firehose and maintains
// per-language post counts and emoji usage statistics in PostgreSQL, exposing
// them as Prometheus gauges.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aliceisjustplaying/languagestats-bsky/aggregate"
	"github.com/aliceisjustplaying/languagestats-bsky/config"
	"github.com/aliceisjustplaying/languagestats-bsky/firehose"
	"github.com/aliceisjustplaying/languagestats-bsky/ingest"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
	"github.com/aliceisjustplaying/languagestats-bsky/storage/postgres"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "langstats: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	firehoseURL := flag.String("firehose-url", "", "override the firehose subscription URL")
	databaseURL := flag.String("database-url", "", "override the PostgreSQL connection string")
	metricsPort := flag.Int("port", 0, "override the metrics listen port")
	logLevel := flag.String("log-level", "", "override the log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags win over file and environment.
	if *firehoseURL != "" {
		cfg.FirehoseURL = *firehoseURL
	}
	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting langstats",
		"firehose_url", cfg.FirehoseURL,
		"collections", strings.Join(cfg.WantedCollections, ","),
		"metrics_port", cfg.MetricsPort,
		"purge_days", cfg.PurgeDays)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	// Resume from the persisted cursor; zero means live-tail from now.
	resumeCursor, err := store.GetLastCursor(ctx)
	if err != nil {
		return err
	}
	watermark := ingest.NewWatermark(resumeCursor)
	logger.Info("resume point loaded", "cursor", resumeCursor)

	metrics := metric.NewMetrics()
	metrics.SetWatermark(resumeCursor)
	rateTracker := metric.NewRateTracker(metrics)
	agg := aggregate.New(metrics, logger)

	pipeline, err := ingest.NewPipeline(store, agg, watermark, metrics, rateTracker, logger)
	if err != nil {
		return err
	}

	client, err := firehose.NewClient(firehose.Config{
		URL:         cfg.FirehoseURL,
		Collections: cfg.WantedCollections,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
	}, pipeline, watermark, metrics, logger)
	if err != nil {
		return err
	}

	flusher, err := ingest.NewFlusher(store, watermark, cfg.CursorFlushInterval, metrics, logger)
	if err != nil {
		return err
	}
	reconciler, err := ingest.NewReconciler(store, agg, cfg.ReconcileInterval, metrics, logger)
	if err != nil {
		return err
	}
	purger, err := ingest.NewPurger(store, cfg.Retention(), cfg.PurgeInterval, metrics, logger)
	if err != nil {
		return err
	}

	metricsServer := metric.NewServer(cfg.MetricsPort, metrics)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return flusher.Run(groupCtx) })
	group.Go(func() error { return reconciler.Run(groupCtx) })
	group.Go(func() error { return purger.Run(groupCtx) })
	group.Go(func() error { return rateTracker.Run(groupCtx) })
	group.Go(func() error {
		// Stop the server when the group winds down.
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsServer.Stop(shutdownCtx)
	})
	group.Go(metricsServer.Start)

	if err := client.Start(ctx); err != nil {
		stop()
		_ = group.Wait()
		return err
	}
	logger.Info("metrics server listening", "address", metricsServer.Address())

	// groupCtx also cancels if any background task fails hard (e.g. the
	// metrics port is taken), not just on a signal.
	<-groupCtx.Done()
	logger.Info("shutting down")

	if err := client.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("stream client did not stop cleanly", "error", err)
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("background task exited with error", "error", err)
	}

	logger.Info("shutdown complete", "final_cursor", watermark.Load())
	return nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
