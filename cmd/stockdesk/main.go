package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockdesk/internal/app"
	"github.com/odyssey-erp/stockdesk/internal/auth"
	"github.com/odyssey-erp/stockdesk/internal/clientstore"
	"github.com/odyssey-erp/stockdesk/internal/observability"
	"github.com/odyssey-erp/stockdesk/internal/platform/cache"
	"github.com/odyssey-erp/stockdesk/internal/platform/db"
	"github.com/odyssey-erp/stockdesk/internal/rbac"
	"github.com/odyssey-erp/stockdesk/internal/session"
	"github.com/odyssey-erp/stockdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backend := newClientBackend(cfg, redisClient, logger)
	clients := clientstore.NewManager(backend, cfg.ClientCookie, cfg.ClientTTL, cfg.IsProduction(), clientstore.WithLogger(logger))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	repo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(repo, logger)
	sessions := session.New(logger)
	rbacMiddleware := rbac.Middleware{
		Checker:   rbac.NewChecker(repo, logger, rbac.WithResolver(resolver), rbac.WithRecorder(metrics)),
		Sessions:  sessions,
		Logger:    logger,
		EntryPath: cfg.EntryPath,
		Contact:   cfg.AccessContact,
	}
	var invalidator rbac.Invalidator = jobClient
	if cfg.ClientStore == app.ClientStoreMemory {
		invalidator = jobs.NewInvalidateRoleCacheJob(backend, logger, metrics.Jobs())
	}
	rbacService := rbac.NewService(repo, invalidator, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Clients:        clients,
		AuthHandler:    auth.NewHandler(logger, auth.NewService(sessions, resolver, logger)),
		RBACHandler:    rbac.NewHandler(logger, rbacService, resolver, rbacMiddleware),
		RBACMiddleware: rbacMiddleware,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("client_store", cfg.ClientStore))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// newClientBackend selects the client storage backend.
func newClientBackend(cfg *app.Config, redisClient *redis.Client, logger *slog.Logger) clientstore.Backend {
	if cfg.ClientStore == app.ClientStoreMemory {
		logger.Warn("client storage kept in process memory")
		return clientstore.NewMemoryBackend(cfg.ClientTTL, cfg.ClientValueLimit)
	}
	return clientstore.NewRedisBackend(redisClient, cfg.ClientTTL, cfg.ClientValueLimit)
}
