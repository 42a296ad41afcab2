package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/delivery-tracker/internal/backend"
	"github.com/kursadbilgin/delivery-tracker/internal/config"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/duplicate"
	"github.com/kursadbilgin/delivery-tracker/internal/handler"
	"github.com/kursadbilgin/delivery-tracker/internal/infra/postgresql"
	"github.com/kursadbilgin/delivery-tracker/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/delivery-tracker/internal/infra/redis"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/provider"
	"github.com/kursadbilgin/delivery-tracker/internal/queue"
	"github.com/kursadbilgin/delivery-tracker/internal/repository"
	"github.com/kursadbilgin/delivery-tracker/internal/schedule"
	"github.com/kursadbilgin/delivery-tracker/internal/service"
	"github.com/kursadbilgin/delivery-tracker/internal/transport"
	"github.com/kursadbilgin/delivery-tracker/internal/workspace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("delivery-tracker stopped with error", zap.Error(err))
	}
	logger.Info("delivery-tracker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	limiter.SetKindLimit(domain.KindSMS.String(), cfg.SMSRateLimitPerSec)

	broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()
	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)

	webhook, err := provider.NewWebhookSiteProvider(cfg.WebhookSiteURL)
	if err != nil {
		return fmt.Errorf("webhook provider initialization failed: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:  cfg.BackendBaseURL,
		Username: cfg.BackendUsername,
		Timeout:  cfg.BackendTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("backend client initialization failed: %w", err)
	}

	sideEffectRepo := repository.NewGormSideEffectRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	sideEffects, err := service.NewSideEffectService(sideEffectRepo, attemptRepo, publisher, logger)
	if err != nil {
		return err
	}

	lifecycle, err := service.NewLifecycleService(
		client,
		schedule.NewBoundaryResolver(client, cfg.BoundaryLookupConcurrency, logger),
		schedule.NewCalculator(nil),
		duplicate.NewDetector(client, nil),
		sideEffects,
		cfg.BackendUsername,
		logger,
	)
	if err != nil {
		return err
	}
	lifecycle.SetMetrics(metrics)

	worker, err := service.NewDispatchWorker(sideEffectRepo, attemptRepo, consumer, webhook, limiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(sideEffectRepo, publisher, 0, 0, logger)
	if err != nil {
		return err
	}
	retryScanner.SetMetrics(metrics)

	registry := workspace.NewRegistry(client, cfg.PageSize, logger)
	janitor := service.NewWorkspaceJanitor(registry, janitorInterval, cfg.WorkspaceIdleTimeout, logger)
	janitor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterWorkspaceRoutes(app, registry, lifecycle, logger); err != nil {
		return err
	}
	if err := handler.RegisterDeliveryRoutes(app, lifecycle); err != nil {
		return err
	}
	if err := handler.RegisterSideEffectRoutes(app, sideEffects); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return retryScanner.Start(groupCtx) })
	g.Go(func() error { return janitor.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("delivery-tracker api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
