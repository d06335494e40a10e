// Package main is the entry point for the ledgerflow workflow engine
// server. It wires all dependencies together and starts the HTTP
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/odonata-labs/ledgerflow/internal/config"
	"github.com/odonata-labs/ledgerflow/internal/definition"
	"github.com/odonata-labs/ledgerflow/internal/engine"
	"github.com/odonata-labs/ledgerflow/internal/graph"
	"github.com/odonata-labs/ledgerflow/internal/observability"
	"github.com/odonata-labs/ledgerflow/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "ledgerflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics := observability.InitMetrics(registry)

	// Stores for workflow definitions and activity ledgers.
	defStore, actStore, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	graphs := graph.NewService(defStore, logger, metrics)

	// Seed workflow definitions from YAML before warming the registry,
	// so seeded active workflows compile along with everything else.
	if len(cfg.Definitions.Directories) > 0 {
		seeds, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
		if err != nil {
			logger.Error("seed loading failed", zap.Error(err))
			return 1
		}
		seeder := definition.NewSeeder(graphs, logger, metrics)
		if err := seeder.Apply(ctx, seeds); err != nil {
			logger.Error("seed apply failed", zap.Error(err))
			return 1
		}
	}

	if err := graphs.WarmRegistry(ctx); err != nil {
		logger.Error("graph registry warm-up failed", zap.Error(err))
		return 1
	}
	logger.Info("graph registry warmed", zap.Int("active_workflows", graphs.Registry().Len()))

	idemStore, idemCloser := buildIdempotencyStore(cfg.Engine.Idempotency, logger)

	eng := engine.New(actStore, graphs, logger, metrics, engine.Options{
		EnforceMandatoryEvents: cfg.Engine.EnforceMandatoryEvents,
		Idempotency:            idemStore,
		IdempotencyTTL:         cfg.Engine.Idempotency.DefaultTTL,
		LockWaitTimeout:        cfg.Engine.LockWaitTimeout,
	})

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	ready := observability.ReadinessChecks{}
	if hc, ok := defStore.(observability.HealthChecker); ok {
		ready.DefinitionStore = hc
	}
	if hc, ok := actStore.(observability.HealthChecker); ok {
		ready.ActivityStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		ready.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:          cfg,
		Logger:          logger,
		Metrics:         metrics,
		MetricsRegistry: registry,
		Graphs:          graphs,
		Engine:          eng,
		Authenticate:    transport.JWTAuthenticator(cfg.Identity, jwks),
		Ready:           ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores creates the definition and activity stores from the
// shared store configuration. Both drivers share the same backing
// database so activity creation can seed the ledger atomically.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (graph.DefinitionStore, engine.ActivityStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return graph.NewMemoryDefinitionStore(), engine.NewMemoryActivityStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return graph.NewPgDefinitionStore(pool), engine.NewPgActivityStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the fire deduplication store. Returns a
// nil store when idempotency is disabled; the engine then treats every
// fire as new.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (engine.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return engine.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return engine.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return engine.NewMemoryIdempotencyStore(), nil
	}
}
