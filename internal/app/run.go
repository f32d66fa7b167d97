package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/video-platform/internal/config"
)

// Runner is a service body. It must return once ctx is cancelled.
type Runner func(ctx context.Context, cfg config.Config, logger zerolog.Logger) error

const shutdownGrace = 15 * time.Second

// Run loads configuration, builds the root logger and executes run until it
// returns or a signal arrives. The result is the process exit code.
func Run(serviceName string, run Runner) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: config: %v\n", serviceName, err)
		return 2
	}

	logger, err := NewLogger(os.Stderr, serviceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		return 2
	}
	logger.Info().Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, logger) }()

	select {
	case err := <-errCh:
		return exitCode(logger, err)
	case <-ctx.Done():
	}

	// Даём сервису закрыть коннекты и дописать состояние.
	logger.Info().Dur("grace", shutdownGrace).Msg("shutting down")
	select {
	case err := <-errCh:
		return exitCode(logger, err)
	case <-time.After(shutdownGrace):
		logger.Error().Msg("shutdown grace period exceeded")
		return 1
	}
}

func exitCode(logger zerolog.Logger, err error) int {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("failed")
		return 1
	}
	logger.Info().Msg("stopped")
	return 0
}

// NewLogger returns a logger tagged with the service name. format "console"
// gives human-readable output, anything else JSON lines.
func NewLogger(w io.Writer, serviceName, level, format string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}

	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger(), nil
}
