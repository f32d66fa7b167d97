package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/video-platform/internal/config"
	"github.com/romariotrain/video-platform/internal/media/cdn"
	"github.com/romariotrain/video-platform/internal/media/events"
	httpapi "github.com/romariotrain/video-platform/internal/media/httpapi"
	"github.com/romariotrain/video-platform/internal/media/pipeline"
	"github.com/romariotrain/video-platform/internal/media/repository"
	"github.com/romariotrain/video-platform/internal/media/service"
	"github.com/romariotrain/video-platform/internal/media/upload"
	"github.com/romariotrain/video-platform/internal/metrics"
	"github.com/romariotrain/video-platform/internal/storage/blob"
	pg "github.com/romariotrain/video-platform/internal/storage/postgres"
)

type stores struct {
	videos    repository.VideoRepository
	jobs      repository.JobRepository
	analytics repository.AnalyticsRepository
	closer    io.Closer
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.closer != nil {
		defer st.closer.Close()
	}

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	chunks, err := upload.NewAssembler(cfg.ChunkDir, blobs, m, logger)
	if err != nil {
		return fmt.Errorf("chunk assembler: %w", err)
	}

	broadcaster := events.NewBroadcaster(cfg.EventBuffer, m, logger)

	sim := pipeline.NewSimulator(blobs, nil)
	steps := pipeline.ScaleSteps(pipeline.DefaultSteps(pipeline.Backends{
		Metadata:    sim,
		Sensitivity: sim,
		Transcoder:  sim,
	}), cfg.Pipeline.StepScale)

	processor, err := pipeline.NewProcessor(st.videos, st.jobs, broadcaster, pipeline.Config{
		Steps:         steps,
		ProgressTicks: cfg.Pipeline.ProgressTicks,
		StepTimeout:   cfg.Pipeline.StepTimeout,
		Cooldown:      cfg.Pipeline.Cooldown,
		Dedup:         pipeline.DedupPolicy(cfg.Pipeline.Dedup),
	}, m, logger)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	cache := cdn.New(cdn.Config{
		Capacity:     cfg.CDN.Capacity,
		MediaTTL:     cfg.CDN.MediaTTL,
		ThumbnailTTL: cfg.CDN.ThumbnailTTL,
		Metrics:      m,
	})

	svc, err := service.New(service.Deps{
		Videos:    st.videos,
		Jobs:      st.jobs,
		Analytics: st.analytics,
		Blobs:     blobs,
		Chunks:    chunks,
		Pipeline:  processor,
		Cache:     cache,
		Metrics:   m,
		Logger:    logger,
	}, service.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		ViewPolicy:     service.ViewPolicy(cfg.ViewPolicy),
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	if _, err := svc.ResumePending(ctx); err != nil {
		return fmt.Errorf("resume pending: %w", err)
	}

	h := httpapi.New(svc, broadcaster, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, m.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return processor.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStores picks postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL is empty, records are kept in memory")
		mem := repository.NewMemoryRepository()
		return stores{videos: mem, jobs: mem.Jobs(), analytics: mem.Analytics()}, nil
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, fmt.Errorf("db connect: %w", err)
	}
	if err := pg.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, fmt.Errorf("db migrate: %w", err)
	}

	return stores{
		videos:    pg.NewVideoRepo(db, pg.NewOutboxRepo(db)),
		jobs:      pg.NewJobRepo(db),
		analytics: pg.NewAnalyticsRepo(db),
		closer:    db,
	}, nil
}

func openBlobStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (blob.Store, error) {
	switch cfg.Storage.Driver {
	case "minio":
		s, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Storage.MinioEndpoint,
			AccessKey: cfg.Storage.MinioAccessKey,
			SecretKey: cfg.Storage.MinioSecretKey,
			Bucket:    cfg.Storage.MinioBucket,
			UseSSL:    cfg.Storage.MinioUseSSL,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := blob.NewLocalStore(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		return s, nil
	}
}
