package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/condo-access/internal/api/http"
	"github.com/spec-kit/condo-access/internal/api/http/handlers"
	"github.com/spec-kit/condo-access/internal/auth"
	"github.com/spec-kit/condo-access/internal/config"
	"github.com/spec-kit/condo-access/internal/events"
	"github.com/spec-kit/condo-access/internal/observability"
	"github.com/spec-kit/condo-access/internal/persistence"
	"github.com/spec-kit/condo-access/internal/repository"
	"github.com/spec-kit/condo-access/internal/service"
	"github.com/spec-kit/condo-access/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redis *persistence.Redis
	if cfg.AccessToken.Store == config.StoreRedis {
		redis, err = persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redis.Close()
	}

	store := newTokenStore(cfg, pg, redis)
	var grants repository.GrantRepository = repository.NewMemoryGrantRepository()
	if pg.Enabled() {
		grants = repository.NewGrantRepository(pg.PoolHandle())
	}
	if cfg.App.SeedDemoData {
		if err := service.SeedDemoGrants(ctx, grants, logger); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger).RegisterHandlers()

	issuer := service.NewTokenIssuer(service.TokenIssuerDependencies{
		Store:      store,
		Grants:     grants,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		DefaultTTL: cfg.AccessToken.DefaultTTL(),
	})
	validator := service.NewTokenValidator(service.TokenValidatorDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	risk := service.NewAccessRiskService(cfg.Assistant, logger)

	sweeper := worker.NewExpirySweeper(worker.ExpirySweeperDependencies{
		Grants:   grants,
		Metrics:  metrics,
		Logger:   logger,
		Interval: cfg.Sweeper.Interval(),
	})
	if cfg.Sweeper.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			logger.Fatal("failed to start expiry sweeper", zap.Error(err))
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	app := httptransport.NewApp(cfg.App.Name,
		httptransport.MiddlewareConfig{Logger: logger, Timeout: cfg.App.RequestTimeout()},
		httptransport.RouteConfig{
			Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, cfg.AccessToken.Store, pg, redis),
			AccessTokens:   handlers.NewAccessTokensHandler(issuer, validator, risk),
			AuthMiddleware: auth.NewAuthMiddleware(tokens),
			Metrics:        metrics,

			ValidateRatePerSecond: cfg.AccessToken.ValidateRatePerSecond,
		})

	go func() {
		logger.Info("http server starting",
			zap.String("addr", cfg.App.Addr()),
			zap.String("token_store", cfg.AccessToken.Store))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	sweeper.Stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func newTokenStore(cfg *config.Config, pg *persistence.Postgres, redis *persistence.Redis) repository.TokenStore {
	switch cfg.AccessToken.Store {
	case config.StorePostgres:
		return repository.NewPostgresTokenStore(pg.PoolHandle())
	case config.StoreRedis:
		return repository.NewRedisTokenStore(redis.Client, redis.Prefix)
	default:
		return repository.NewMemoryTokenStore()
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
