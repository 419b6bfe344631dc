// Package main provides the SKUFlow ingest worker daemon.
//
// The daemon claims pending upload jobs from PostgreSQL and streams each
// source file through the ingest pipeline: parse, batch, upsert, publish
// progress, and fire terminal webhooks.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skuflow-io/skuflow/internal/config"
	"github.com/skuflow-io/skuflow/internal/ingest"
	"github.com/skuflow-io/skuflow/internal/mapping"
	"github.com/skuflow-io/skuflow/internal/progress"
	"github.com/skuflow-io/skuflow/internal/source"
	"github.com/skuflow-io/skuflow/internal/storage"
	"github.com/skuflow-io/skuflow/internal/webhook"
	"github.com/skuflow-io/skuflow/internal/worker"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "skuflow"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting SKUFlow ingest worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	productStore, err := storage.NewProductStore(dbConn)
	if err != nil {
		logger.Error("Failed to create product store", slog.String("error", err.Error()))
		exit(dbConn)
	}

	jobStore, err := storage.NewJobStore(dbConn)
	if err != nil {
		logger.Error("Failed to create job store", slog.String("error", err.Error()))
		exit(dbConn)
	}

	webhookStore, err := storage.NewWebhookStore(dbConn)
	if err != nil {
		logger.Error("Failed to create webhook store", slog.String("error", err.Error()))
		exit(dbConn)
	}

	// Object storage is optional; without it only file:// sources work.
	var objectOpener source.Opener

	if s3Config := source.LoadS3Config(); s3Config.Enabled() {
		s3Opener, err := source.NewS3Opener(s3Config)
		if err != nil {
			logger.Error("Failed to create object storage opener", slog.String("error", err.Error()))
			exit(dbConn)
		}

		objectOpener = s3Opener

		logger.Info("Object storage configured", slog.String("endpoint", s3Config.EndpointURL))
	} else {
		logger.Warn("Object storage not configured, only local file sources are available")
	}

	opener := source.NewResolver(objectOpener)

	mappingConfig, err := mapping.LoadConfig(mapping.ConfigPath())
	if err != nil {
		logger.Warn("Failed to load column mapping config, using built-in aliases",
			slog.String("error", err.Error()),
		)
	}

	parser := ingest.NewParser(mapping.NewResolver(mappingConfig))

	kafkaConfig := progress.LoadKafkaConfig()
	publisher := progress.NewKafkaPublisher(kafkaConfig, logger)

	defer func() {
		_ = publisher.Close()
	}()

	logger.Info("Progress publisher configured", slog.Any("brokers", kafkaConfig.Brokers))

	dispatcher := webhook.NewDispatcher(webhookStore, webhook.LoadConfig(), logger)

	coordinator := ingest.NewCoordinator(
		opener,
		parser,
		productStore,
		jobStore,
		publisher,
		dispatcher,
		logger,
	)

	pool := worker.NewPool(jobStore, coordinator, worker.LoadConfig(), logger)

	if err := pool.Run(ctx); err != nil {
		logger.Error("Worker pool failed", slog.String("error", err.Error()))
		exit(dbConn)
	}

	// In-flight terminal webhooks outlive job contexts; drain them before exit.
	coordinator.Wait()

	logger.Info("SKUFlow ingest worker stopped")
}

// exit closes the database connection before a fatal exit, since deferred
// cleanup does not run through os.Exit.
func exit(dbConn *storage.Connection) {
	_ = dbConn.Close()
	os.Exit(1)
}
