// Package main is the entry point for the CarePulse rule engine server.
// It wires all dependencies together and starts the HTTP server.
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

	"github.com/carepulse/carepulse/internal/config"
	"github.com/carepulse/carepulse/internal/dedup"
	"github.com/carepulse/carepulse/internal/definition"
	"github.com/carepulse/carepulse/internal/engine"
	"github.com/carepulse/carepulse/internal/handlers"
	"github.com/carepulse/carepulse/internal/observability"
	"github.com/carepulse/carepulse/internal/service"
	"github.com/carepulse/carepulse/internal/store"
	"github.com/carepulse/carepulse/internal/transport"
	"github.com/carepulse/carepulse/model"
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
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "carepulse-engine", version)
	if err != nil {
		logger.Fatal("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load rule definitions, validate, build registry.
	loader := definition.NewLoader()
	rules, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Fatal("rule loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	findings := validator.Validate(rules)
	for _, f := range findings {
		if f.Severity == definition.SeverityWarning {
			logger.Warn("rule validation warning", zap.String("warning", f.Error()))
		} else {
			logger.Error("rule validation error", zap.String("error", f.Error()))
		}
	}
	if definition.HasErrors(findings) {
		logger.Fatal("rule validation failed", zap.Int("findings", len(findings)))
		return 1
	}

	registry := definition.NewRegistry(rules)
	metrics.SetRulesLoaded(float64(registry.Count()))

	// Step 5: Initialize execution store.
	execStore, execStoreCloser, err := buildExecutionStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("execution store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize dedup store (optional).
	dedupStore, dedupCloser, err := buildDedupStore(cfg.Dedup, logger)
	if err != nil {
		logger.Fatal("dedup store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Register action handlers.
	backend := handlers.NewBackendClient(cfg.Backend, logger, metrics)

	actionRegistry := engine.NewHandlerRegistry()
	actionRegistry.Register(model.ActionNotify, handlers.NewNotifyHandler(logger, metrics))
	actionRegistry.Register(model.ActionEscalate, handlers.NewEscalateHandler(logger, metrics))
	actionRegistry.Register(model.ActionCreateTask, handlers.NewCreateTaskHandler(backend))
	actionRegistry.Register(model.ActionUpdateRecord, handlers.NewUpdateRecordHandler(backend))
	actionRegistry.Register(model.ActionWebhook, handlers.NewWebhookHandler(cfg.Webhook, logger, metrics))
	actionRegistry.Register(model.ActionAudit, handlers.NewAuditHandler(execStore))

	// Step 8: Build the engine and execution service.
	eng := engine.NewEngine(actionRegistry,
		engine.WithLogger(logger),
		engine.WithObserver(service.NewMetricsObserver(metrics)),
		engine.WithMaxExecutionTime(cfg.Engine.MaxExecutionTime),
		engine.WithMaxActionDelay(cfg.Engine.MaxActionDelay),
	)

	svcOpts := []service.ServiceOption{
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	}
	if dedupStore != nil {
		svcOpts = append(svcOpts, service.WithDedup(dedupStore, cfg.Dedup.DefaultTTL))
	}
	svc := service.NewExecutionService(registry, eng, execStore, svcOpts...)

	// Step 9: Build HTTP router.
	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.Enabled {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	}

	readiness := observability.ReadinessChecks{
		RulesLoaded: func() bool { return registry.Count() > 0 },
	}
	if hc, ok := execStore.(observability.HealthChecker); ok {
		readiness.ExecutionStore = hc
	}
	if hc, ok := dedupStore.(observability.HealthChecker); ok {
		readiness.DedupStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Service:      svc,
		Logger:       logger,
		Authenticate: authenticate,
		Metrics:      metrics,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		reloader := service.NewReloader(registry, cfg.Definitions.Directories, cfg.Definitions.ReloadInterval, logger, metrics)
		go reloader.Run(bgCtx)
	}

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("rules", registry.Count()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
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

	// Stop background tasks.
	bgCancel()

	// Close stores.
	if execStoreCloser != nil {
		execStoreCloser()
	}
	if dedupCloser != nil {
		dedupCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildExecutionStore creates the execution record store based on config.
func buildExecutionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.ExecutionStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory execution store")
		return store.NewMemoryExecutionStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("execution store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("execution store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("execution store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("execution store: ping: %w", err)
		}

		return store.NewPgExecutionStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported execution store driver: %q", cfg.Driver)
	}
}

// buildDedupStore creates the event deduplication store based on config.
// Returns nil store and closer if deduplication is disabled.
func buildDedupStore(cfg config.DedupConfig, logger *zap.Logger) (dedup.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory dedup store")
		return dedup.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("dedup store: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.DB,
		})
		return dedup.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dedup store driver: %q", cfg.Driver)
	}
}
