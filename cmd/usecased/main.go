// Package main is the entry point for the use-case server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/usecase/internal/capability"
	"github.com/pitabwire/usecase/internal/config"
	"github.com/pitabwire/usecase/internal/container"
	"github.com/pitabwire/usecase/internal/observability"
	"github.com/pitabwire/usecase/internal/schema"
	"github.com/pitabwire/usecase/internal/transport"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/internal/users"
	"github.com/pitabwire/usecase/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// Container identities owned by the server.
const (
	depStore    = "storage.store"
	depPostgres = "storage.postgres"
	depRedis    = "storage.redis"
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, observability.ServiceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(promReg)

	// Step 4: Build the dependency container.
	c := container.New()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			logger.Error("closing dependencies failed", zap.Error(err))
		}
	}()

	if err := registerStorage(ctx, c, cfg.Storage, logger); err != nil {
		logger.Error("storage initialization failed", zap.Error(err))
		return 1
	}
	store, err := container.Get[users.Store](c, depStore)
	if err != nil {
		logger.Error("storage initialization failed", zap.Error(err))
		return 1
	}

	catalog, err := loadSchemas(cfg.Schemas)
	if err != nil {
		logger.Error("schema loading failed", zap.Error(err))
		return 1
	}
	if err := c.Set(users.DepSchemas, catalog); err != nil {
		logger.Error("container setup failed", zap.Error(err))
		return 1
	}

	// Step 5: Build the use-case registry.
	registry := usecase.NewRegistry()
	if err := users.Register(registry, c, users.WithInvitationTTL(cfg.Invocation.InvitationTTL)); err != nil {
		logger.Error("use case registration failed", zap.Error(err))
		return 1
	}
	metrics.SetUseCasesRegistered(len(registry.Names()))

	// Step 6: Initialize capability resolver.
	policy, err := buildPolicy(cfg.Capability)
	if err != nil {
		logger.Error("capability policy initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(policy, cfg.Capability.Cache.TTL).WithMetrics(metrics)

	// Step 7: Build the invoker.
	invoker := usecase.NewInvoker(
		usecase.WithLogger(logger),
		usecase.WithTracer(observability.Tracer()),
		usecase.WithObserver(metrics),
		usecase.WithValidationPolicy(cfg.Invocation.Policy()),
		usecase.WithAvailabilityMode(cfg.Invocation.Mode()),
		usecase.WithTransactor(transactorFor(store)),
	)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		UseCasesLoaded: func() bool { return len(registry.Names()) > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readinessChecks.Store = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Registry:           registry,
		Invoker:            invoker,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, cfg.Identity.Secret()),
		CapabilityResolver: capResolver,
		Metrics:            metrics,
		Gatherer:           promReg,
		Readiness:          readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Capability.ReloadInterval > 0 {
		go runPolicyReloader(bgCtx, policy, capResolver, cfg.Capability.ReloadInterval, logger)
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage", cfg.Storage.Driver),
		zap.Strings("usecases", registry.Names()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// registerStorage registers the configured store and the repository
// identities the use cases resolve. Connections are opened lazily and
// released by the container.
func registerStorage(ctx context.Context, c *container.Container, cfg config.StorageConfig, logger *zap.Logger) error {
	switch cfg.Driver {
	case config.DriverPostgres:
		dsn := cfg.Postgres.DSN()
		if dsn == "" {
			return fmt.Errorf("storage: %s environment variable not set", cfg.Postgres.DSNEnv)
		}
		if err := c.Register(depPostgres, func(model.Container) (any, error) {
			return users.OpenPostgres(ctx, dsn, users.PoolConfig{
				MaxConns:        cfg.Postgres.MaxConns,
				MinConns:        cfg.Postgres.MinConns,
				MaxConnLifetime: cfg.Postgres.ConnMaxLifetime,
			})
		}); err != nil {
			return err
		}
		if err := c.Register(depStore, func(r model.Container) (any, error) {
			pool, err := container.Get[*pgxpool.Pool](r, depPostgres)
			if err != nil {
				return nil, err
			}
			store := users.NewPgStore(pool)
			if cfg.Postgres.Migrate {
				if err := store.Migrate(ctx); err != nil {
					return nil, err
				}
			}
			logger.Info("using postgres store")
			return store, nil
		}); err != nil {
			return err
		}

	case config.DriverRedis:
		if err := c.Register(depRedis, func(model.Container) (any, error) {
			client := redis.NewClient(&redis.Options{
				Addr: cfg.Redis.Address(),
				DB:   cfg.Redis.DB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("storage: pinging redis: %w", err)
			}
			return client, nil
		}); err != nil {
			return err
		}
		if err := c.Register(depStore, func(r model.Container) (any, error) {
			client, err := container.Get[*redis.Client](r, depRedis)
			if err != nil {
				return nil, err
			}
			logger.Info("using redis store", zap.String("addr", cfg.Redis.Address()))
			return users.NewRedisStore(client, cfg.Redis.Prefix).WithRetention(cfg.Redis.Retention), nil
		}); err != nil {
			return err
		}

	default:
		logger.Info("using in-memory store")
		if err := c.Set(depStore, users.NewMemoryStore()); err != nil {
			return err
		}
	}

	alias := func(r model.Container) (any, error) { return r.Resolve(depStore) }
	if err := c.Register(users.DepUserRepo, alias); err != nil {
		return err
	}
	return c.Register(users.DepInvitationRepo, alias)
}

// transactorFor returns the store's own transactions when it has them and
// an in-process lock otherwise.
func transactorFor(store users.Store) usecase.Transactor {
	if t, ok := store.(usecase.Transactor); ok {
		return t
	}
	return usecase.NewMutexTransactor()
}

// loadSchemas returns the configured schema document, or the built-in one.
func loadSchemas(cfg config.SchemasConfig) (*schema.Catalog, error) {
	if cfg.File != "" {
		return schema.LoadFile(cfg.File)
	}
	return users.LoadSchemas()
}

// buildPolicy loads the static policy file. Without a file no capability
// is granted.
func buildPolicy(cfg config.CapabilityConfig) (*capability.StaticPolicy, error) {
	if cfg.StaticPolicyFile == "" {
		return capability.ParseStaticPolicy(nil)
	}
	return capability.NewStaticPolicy(cfg.StaticPolicyFile)
}

// runPolicyReloader periodically reloads the policy file and drops cached
// capability sets.
func runPolicyReloader(ctx context.Context, policy *capability.StaticPolicy, resolver *capability.Resolver, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := policy.Sync(); err != nil {
				logger.Error("capability policy reload failed", zap.Error(err))
				continue
			}
			resolver.Purge()
		}
	}
}
