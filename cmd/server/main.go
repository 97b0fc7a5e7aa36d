package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/app"
	"github.com/blackmichael/bluesky-listfeed/internal/auth"
	"github.com/blackmichael/bluesky-listfeed/internal/config"
	"github.com/blackmichael/bluesky-listfeed/internal/firehose"
	"github.com/blackmichael/bluesky-listfeed/internal/httpserver"
	"github.com/bluesky-social/indigo/atproto/identity"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("opened database", "path", cfg.DatabasePath)

	var verifier auth.Verifier = auth.NewServiceAuthVerifier(cfg.ServiceDID(), identity.DefaultDirectory())
	if cfg.Debug {
		logger.Warn("debug mode: accepting dev tokens and serving /test-feed-handler/")
		verifier = auth.NewDevVerifier(verifier)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subscriber := firehose.NewSubscriber(firehose.Config{
		URL:           cfg.FirehoseURL,
		BatchSize:     cfg.CursorBatchSize,
		BatchInterval: cfg.CursorBatchInterval,
		DrainTimeout:  cfg.DrainTimeout,
	}, a.Feed, logger)
	server := httpserver.NewServer(cfg, a.Feed, verifier, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("firehose subscriber: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Feed.StartReaper(ctx, cfg.RecordTTL, cfg.ReaperHysteresis)
		return nil
	})

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("server started",
		"port", cfg.Port,
		"hostname", cfg.Hostname,
		"service_did", cfg.ServiceDID(),
		"feed", cfg.FeedURI(),
		"embedding_provider", cfg.EmbeddingProvider,
	)

	return g.Wait()
}
