package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/fire-dispatch-etl/internal/adapter/bluesky"
	"github.com/couchcryptid/fire-dispatch-etl/internal/adapter/feed"
	httpadapter "github.com/couchcryptid/fire-dispatch-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/fire-dispatch-etl/internal/adapter/kafka"
	"github.com/couchcryptid/fire-dispatch-etl/internal/adapter/ledger"
	"github.com/couchcryptid/fire-dispatch-etl/internal/config"
	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
	"github.com/couchcryptid/fire-dispatch-etl/internal/observability"
	"github.com/couchcryptid/fire-dispatch-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	fetcher := feed.NewClient(cfg.FeedURL, cfg.FeedTimeout, logger)

	var poster pipeline.StatusPoster
	if cfg.BlueskyHandle != "" && cfg.BlueskyAppPassword != "" {
		poster = bluesky.NewClient(cfg.BlueskyHost, cfg.BlueskyHandle, cfg.BlueskyAppPassword, cfg.FeedTimeout, clock, logger, metrics)
	} else {
		// Only reachable in dry run; config requires credentials otherwise.
		logger.Info("no bluesky account configured, every cycle treats the account as empty")
		poster = anonymousPoster{}
	}

	// Optional components stay nil interfaces when disabled.
	var loader pipeline.IncidentLoader
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, clock, logger)
		loader = writer
		logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	var posted pipeline.PostedLedger
	var store *ledger.Store
	if cfg.LedgerPath != "" {
		store, err = ledger.Open(cfg.LedgerPath)
		if err != nil {
			logger.Error("failed to open ledger", "path", cfg.LedgerPath, "error", err)
			os.Exit(1)
		}
		posted = store
		logger.Info("posted ledger enabled", "path", cfg.LedgerPath)
	}

	p := pipeline.New(fetcher, poster, loader, posted, pipeline.Options{
		DryRun:           cfg.DryRun,
		PostInterval:     cfg.PostInterval,
		MaxPostsPerCycle: cfg.MaxPostsPerCycle,
		Hashtag:          cfg.StatusHashtag,
	}, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduler.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := p.Schedule(ctx, cfg.PollSchedule); err != nil {
			logger.Error("scheduler error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("ledger close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// anonymousPoster stands in for an account when running dry without
// credentials.
type anonymousPoster struct{}

func (anonymousPoster) LastStatus(context.Context) (string, error) {
	return "", domain.ErrNoPriorStatus
}

func (anonymousPoster) PostStatus(context.Context, string) error {
	return errors.New("no bluesky account configured")
}
