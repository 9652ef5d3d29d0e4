package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-config/meridian/internal/app"
	"github.com/meridian-config/meridian/internal/authz"
	"github.com/meridian-config/meridian/internal/namespace"
	"github.com/meridian-config/meridian/internal/observability"
	"github.com/meridian-config/meridian/internal/permission"
	"github.com/meridian-config/meridian/internal/platform/cache"
	"github.com/meridian-config/meridian/internal/platform/db"
	"github.com/meridian-config/meridian/internal/platform/lock"
	"github.com/meridian-config/meridian/internal/provision"
	"github.com/meridian-config/meridian/internal/registry"
	"github.com/meridian-config/meridian/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	locker := lock.NewLocker(redisClient, cfg.ProvisionLockTTL, 100*time.Millisecond)
	users := shared.ContextUserHolder{}

	authzRepo := authz.NewRepository(dbpool)
	authzService := authz.NewService(authzRepo, cfg, logger)

	appRepo := registry.NewPGRepository(dbpool)

	provisionService := provision.NewService(authzService, cfg, locker, logger, metrics)

	namespaceRepo := namespace.NewRepository(dbpool)
	namespaceService := namespace.NewService(namespaceRepo, appRepo, provisionService, authzService, users, logger)

	validator := permission.NewValidator(users, authzService, cfg, namespaceService, logger, metrics)

	if err := provisionService.InitCreateAppRole(ctx); err != nil {
		logger.Error("init create application role", slog.Any("error", err))
		os.Exit(1)
	}

	authzHandler := authz.NewHandler(logger, authzService, validator)
	namespaceHandler := namespace.NewHandler(logger, namespaceService, validator)
	provisionHandler := provision.NewHandler(logger, provisionService, appRepo)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthzHandler:     authzHandler,
		NamespaceHandler: namespaceHandler,
		ProvisionHandler: provisionHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
