// Package main provides the entry point for the recontact service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthmetrix/recontact-service/internal/config"
	"github.com/healthmetrix/recontact-service/internal/database"
	"github.com/healthmetrix/recontact-service/internal/eventbus"
	"github.com/healthmetrix/recontact-service/internal/jira"
	"github.com/healthmetrix/recontact-service/internal/message"
	"github.com/healthmetrix/recontact-service/internal/observability"
	"github.com/healthmetrix/recontact-service/internal/reporting"
	"github.com/healthmetrix/recontact-service/internal/repository"
	"github.com/healthmetrix/recontact-service/internal/request"
	httpserver "github.com/healthmetrix/recontact-service/internal/server/http"
)

const metricsNamespace = "recontact"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("recontact-service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(metricsNamespace)
	}

	stores := repository.NewStores(db)
	transactor := repository.NewPgTransactor(db)

	jiraClient, err := newJiraClient(cfg.Jira, metrics, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(eventbus.Config{
		Workers:   cfg.Events.Workers,
		QueueSize: cfg.Events.QueueSize,
	}, metrics, logger)

	processor := reporting.NewProcessor(stores.Requests, stores.Messages, jiraClient,
		reporting.ProcessorConfig{UpdateReportImmediately: cfg.Jira.UpdateReportImmediately}, logger)
	processor.Subscribe(bus)

	kafkaCfg := eventbus.KafkaConfig{
		Brokers:           cfg.Kafka.Brokers,
		Topic:             cfg.Kafka.Topic,
		TicketEventsTopic: cfg.Kafka.TicketEventsTopic,
		GroupID:           cfg.Kafka.GroupID,
		BatchSize:         cfg.Kafka.BatchSize,
		BatchTimeout:      cfg.Kafka.BatchTimeout,
	}

	var kafkaPublisher *eventbus.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = eventbus.NewKafkaPublisher(kafkaCfg, logger)
		bus.SubscribeAll(kafkaPublisher.Handle)
	}

	var listener *eventbus.Listener
	if cfg.Kafka.TicketEventsTopic != "" {
		listener = eventbus.NewListener(kafkaCfg, bus, logger)
	}

	if err := bus.Start(); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}

	sweeper, err := reporting.NewSweeper(stores.Messages, processor, reporting.SweeperConfig{
		Interval: cfg.Jira.ReportSyncRate,
		Cron:     cfg.Jira.ReportSyncCron,
	}, metrics, logger)
	if err != nil {
		return fmt.Errorf("create report sweeper: %w", err)
	}

	messages := message.NewService(transactor, stores.Messages, metrics, logger)
	requests := request.NewService(transactor, stores.Requests, stores.Messages, jiraClient, metrics, logger)

	httpSrv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DebugEndpoints:  cfg.Server.DebugEndpoints,
	}, messages, requests, bus, db, logger)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Background loops stop on their own context so that the HTTP server
	// is drained before the sweeper and the bus.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	sweeperDone := make(chan struct{})
	g.Go(func() error {
		defer close(sweeperDone)
		return sweeper.Run(loopCtx)
	})

	if listener != nil {
		g.Go(func() error {
			if err := listener.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ticket event listener error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down recontact-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}

		stopLoops()
		<-sweeperDone

		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("ticket event listener close error")
			}
		}
		if err := bus.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("event bus shutdown error")
		}
		if kafkaPublisher != nil {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Error().Err(err).Msg("kafka publisher close error")
			}
		}
		return nil
	})

	readyLog := logger.Info().Str("http_address", cfg.Server.HTTPAddress())
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("recontact-service is ready")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("recontact-service shutdown complete")
	return nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func newJiraClient(cfg config.JiraConfig, metrics *observability.Metrics, logger zerolog.Logger) (jira.Client, error) {
	if !cfg.Enabled {
		logger.Warn().Msg("jira disabled, using mock client")
		return jira.NewMockClient(metrics, logger), nil
	}

	key, err := cfg.CohortKey()
	if err != nil {
		return nil, err
	}

	client, err := jira.New(jira.Config{
		BaseURL:              cfg.BaseURL,
		Username:             cfg.Username,
		Password:             cfg.Password,
		ReportFieldName:      cfg.ReportFieldName,
		CohortInfoFieldName:  cfg.CohortInfoFieldName,
		InvalidStatusName:    cfg.InvalidStatusName,
		PlaintextJSONAllowed: cfg.PlaintextJSONAllowed,
		CohortKey:            key,
		Timeout:              cfg.Timeout,
		RateLimit:            cfg.RateLimit,
		MaxRetries:           cfg.MaxRetries,
	}, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	return client, nil
}
