package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/video-platform/internal/app"
	"github.com/romariotrain/video-platform/internal/config"
	"github.com/romariotrain/video-platform/internal/media/kafka"
	"github.com/romariotrain/video-platform/internal/media/outbox"
	"github.com/romariotrain/video-platform/internal/metrics"
	pg "github.com/romariotrain/video-platform/internal/storage/postgres"
)

const (
	purgeEvery       = time.Hour
	keepPublishedFor = 7 * 24 * time.Hour
)

func main() {
	os.Exit(app.Run("publish", run))
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is empty")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is empty")
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	if err := pg.Migrate(ctx, db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	repo := pg.NewOutboxRepo(db)

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn().Err(err).Msg("close producer")
		}
	}()

	if err := producer.HealthCheck(ctx); err != nil {
		// Брокер может подняться позже, publisher будет ретраить.
		logger.Warn().Err(err).Msg("kafka is not reachable yet")
	}
	if n, err := repo.CountPending(ctx); err == nil {
		logger.Info().Int("pending", n).Msg("outbox backlog")
	}

	publisher, err := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     repo,
		Producer:  producer,
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
		Metrics:   metrics.New(nil),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Start(gctx) })
	g.Go(func() error { return purgeLoop(gctx, repo, logger) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func purgeLoop(ctx context.Context, repo *pg.OutboxRepo, logger zerolog.Logger) error {
	ticker := time.NewTicker(purgeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := repo.PurgeProcessed(ctx, time.Now().Add(-keepPublishedFor))
			if err != nil {
				logger.Error().Err(err).Msg("outbox purge failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Msg("outbox purged")
			}
		}
	}
}
