package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/backend"
	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/events"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/redact"
	"github.com/fyrsmithlabs/reviewd/internal/review"
	"github.com/fyrsmithlabs/reviewd/internal/session"
	"github.com/fyrsmithlabs/reviewd/internal/telemetry"
)

// app holds the wired process dependencies shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	pool      *session.Pool
	publisher *events.Publisher
	scrubber  *redact.Scrubber
	runner    *review.Runner
}

// newApp loads configuration and builds the full dependency graph:
// telemetry, logger, session pool, backend clients, event publisher,
// scrubber, and the review runner. logToStderr keeps stdout free for
// commands that use it as a protocol or report channel.
func newApp(ctx context.Context, logToStderr bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	logger, err := buildLogger(cfg, tel, logToStderr)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	pool, err := session.NewPool(&cfg.Sessions, logger, tel.Meter("reviewd/session"))
	if err != nil {
		return nil, fmt.Errorf("initialize session pool: %w", err)
	}

	completer, err := backend.NewAnthropicCompleter(&cfg.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize backend: %w", err)
	}

	scrubber, err := redact.NewScrubber(&cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("initialize scrubber: %w", err)
	}

	publisher, err := events.NewPublisher(&cfg.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize event publisher: %w", err)
	}

	opts := []review.Option{review.WithLogger(logger)}
	if cfg.Facility.BaseURL != "" {
		facility, err := backend.NewHTTPFacility(&cfg.Facility, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize facility: %w", err)
		}
		opts = append(opts, review.WithFacility(facility))
	}
	if publisher != nil {
		opts = append(opts, review.WithObserver(publisher))
	}

	runner, err := review.NewRunner(&cfg.Review, completer, pool, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize runner: %w", err)
	}

	logger.Info(ctx, "reviewd initialized",
		zap.String("model", cfg.Backend.Model),
		zap.Bool("facility", cfg.Facility.BaseURL != ""),
		zap.Bool("events", publisher != nil),
		zap.Bool("redaction", cfg.Redaction.Enabled),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		pool:      pool,
		publisher: publisher,
		scrubber:  scrubber,
		runner:    runner,
	}, nil
}

func buildLogger(cfg *config.Config, tel *telemetry.Telemetry, logToStderr bool) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.Stderr = logToStderr
	logCfg.Output.OTEL = cfg.Telemetry.Enabled
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

// Close releases resources in reverse construction order. Shutdown
// errors are logged, not returned; the process is exiting regardless.
func (a *app) Close(ctx context.Context) {
	if err := a.runner.Close(); err != nil {
		a.logger.Warn(ctx, "runner close", zap.Error(err))
	}
	a.publisher.Close()
	if err := a.pool.Close(); err != nil {
		a.logger.Warn(ctx, "session pool close", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
