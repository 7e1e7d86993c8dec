package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/delivery-auth/internal/api/http"
	"github.com/spec-kit/delivery-auth/internal/api/http/handlers"
	"github.com/spec-kit/delivery-auth/internal/auth"
	"github.com/spec-kit/delivery-auth/internal/config"
	"github.com/spec-kit/delivery-auth/internal/events"
	"github.com/spec-kit/delivery-auth/internal/observability"
	"github.com/spec-kit/delivery-auth/internal/persistence"
	"github.com/spec-kit/delivery-auth/internal/repository"
	"github.com/spec-kit/delivery-auth/internal/service"
	"github.com/spec-kit/delivery-auth/internal/worker"
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

	keys, err := auth.NewSigningKeys(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret)
	if err != nil {
		logger.Fatal("invalid signing keys", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics("delivery_auth")

	userRepo := repository.NewUserRepository(pg.PoolHandle())
	sessionRepo := repository.NewSessionRepository(redis.Client, cfg.Redis.OpTimeout())
	revocationRepo := repository.NewRevocationRepository(redis.Client, cfg.Redis.OpTimeout())

	tokens := auth.NewTokenCodec(keys,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithClockSkew(cfg.Auth.ClockSkew()))

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(logger, cfg.Auth.NoticeChannel)
	notificationWorker := worker.NewNotificationWorker(notifications, logger, 0)
	notificationWorker.Subscribe(dispatcher)
	notificationWorker.Start(ctx)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:       userRepo,
		SessionRepo:    sessionRepo,
		RevocationRepo: revocationRepo,
		Tokens:         tokens,
		Dispatcher:     dispatcher,
		Logger:         logger,
		Recorder:       metrics,
	})

	gateOpts := []auth.GateOption{auth.WithGateLogger(logger), auth.WithOutcomeRecorder(metrics)}
	if cfg.Auth.SessionKeepAlive {
		gateOpts = append(gateOpts, auth.WithKeepAlive(sessionRepo, cfg.Auth.RefreshTTL()))
	}
	gate := auth.NewGate(tokens, revocationRepo, gateOpts...)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger, metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:    handlers.NewAuthHandler(authService, cfg.Auth),
		Gate:    gate,
		Limiter: httptransport.NewRateLimiter(cfg.RateLimit, logger),
		Metrics: metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
	notificationWorker.Stop()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
