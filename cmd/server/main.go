// Command server runs the search API: query execution over the inverted
// index, document uploads staged for the index worker, and the query cache
// with its Kafka-driven invalidation.
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

	"golang.org/x/sync/errgroup"

	"github.com/buscadoc/buscadoc/pkg/config"
	"github.com/buscadoc/buscadoc/pkg/health"
	"github.com/buscadoc/buscadoc/pkg/kafka"
	"github.com/buscadoc/buscadoc/pkg/logger"
	"github.com/buscadoc/buscadoc/pkg/metrics"
	"github.com/buscadoc/buscadoc/pkg/middleware"
	pkgpostgres "github.com/buscadoc/buscadoc/pkg/postgres"
	pkgredis "github.com/buscadoc/buscadoc/pkg/redis"
	"github.com/buscadoc/buscadoc/pkg/resilience"

	"github.com/buscadoc/buscadoc/internal/events"
	"github.com/buscadoc/buscadoc/internal/searcher/cache"
	"github.com/buscadoc/buscadoc/internal/searcher/executor"
	"github.com/buscadoc/buscadoc/internal/searcher/handler"
	pgstorage "github.com/buscadoc/buscadoc/internal/storage/postgres"
	"github.com/buscadoc/buscadoc/internal/upload"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("server")

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

	// The cache is optional: without Redis every query computes directly.
	var redisClient *pkgredis.Client
	if redisClient, err = pkgredis.NewClient(cfg.Redis); err != nil {
		log.Warn("redis unavailable, running without query cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	stagedProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentStaged)
	defer stagedProducer.Close()

	ex := executor.New(store, cfg.Search.MaxResults)
	qc := cache.New(redisClient, cfg.Redis.CacheTTL, m)
	uploadService, err := upload.NewService(cfg.Indexer, stagedProducer, m)
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "cache disabled"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	handler.New(ex, qc, m, cfg.Search).Register(mux)
	upload.NewHandler(uploadService, cfg.Indexer.MaxFileSize).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.RequestID(
		middleware.Metrics(m)(
			middleware.Timeout(cfg.Server.WriteTimeout)(mux),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Drop cached results whenever the worker reports a corpus change.
		invalidations := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, func(ctx context.Context, _ []byte, value []byte) error {
			event, err := kafka.DecodeJSON[events.CacheInvalidate](value)
			if err != nil {
				log.Error("dropping undecodable invalidation event", "error", err)
				return nil
			}
			if _, err := qc.Invalidate(ctx); err != nil {
				log.Error("cache invalidation failed", "filename", event.Filename, "error", err)
			}
			return nil
		})
		return invalidations.Start(gctx)
	})
	g.Go(func() error {
		updateCorpusGauge(gctx, store, m)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if stopMetrics != nil {
			_ = stopMetrics(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// updateCorpusGauge refreshes the corpus size metric until ctx is cancelled.
func updateCorpusGauge(ctx context.Context, store *pgstorage.Store, m *metrics.Metrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		if n, err := store.DocumentCount(ctx); err == nil {
			m.CorpusDocuments.Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
