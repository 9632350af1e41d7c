// Command indexworker consumes staged-document events, indexes the files
// into the shared corpus, and announces completions and cache invalidations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/buscadoc/buscadoc/pkg/config"
	"github.com/buscadoc/buscadoc/pkg/kafka"
	"github.com/buscadoc/buscadoc/pkg/logger"
	"github.com/buscadoc/buscadoc/pkg/metrics"
	pkgpostgres "github.com/buscadoc/buscadoc/pkg/postgres"
	"github.com/buscadoc/buscadoc/pkg/resilience"

	"github.com/buscadoc/buscadoc/internal/indexer"
	"github.com/buscadoc/buscadoc/internal/indexer/consumer"
	pgstorage "github.com/buscadoc/buscadoc/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("index worker exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("indexworker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var pgClient *pkgpostgres.Client
	err = resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		var connErr error
		pgClient, connErr = pkgpostgres.New(cfg.Postgres)
		return connErr
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgClient.Close()

	store := pgstorage.New(pgClient)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	completions := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completions.Close()
	invalidations := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidations.Close()

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			if stopMetrics != nil {
				_ = stopMetrics(context.Background())
			}
		}()
	}

	ix := indexer.New(store, cfg.Indexer.SnippetLength)
	c := consumer.New(ix, completions, invalidations, m)

	staged := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentStaged, c.Handle)
	log.Info("index worker started", "topic", cfg.Kafka.Topics.DocumentStaged)
	err = staged.Start(ctx)
	log.Info("index worker stopped")
	return err
}
