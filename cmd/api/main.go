package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/maintenance-service/internal/api/http"
	"github.com/spec-kit/maintenance-service/internal/api/http/handlers"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/realtime"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/service"
	"github.com/spec-kit/maintenance-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
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

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var (
		ticketRepo  repository.TicketRepository
		messageRepo repository.TicketMessageRepository
	)
	if pg.Enabled() {
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
		messageRepo = repository.NewTicketMessageRepository(pg.PoolHandle())
	} else {
		ticketRepo = repository.NewMemoryTicketRepository(time.Now)
		messageRepo = repository.NewMemoryTicketMessageRepository(time.Now)
	}

	publisher, redis := newPublisher(ctx, cfg, logger)
	defer redis.Close()
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close publisher", zap.Error(err))
		}
	}()

	dispatcher := events.NewInMemoryDispatcher(logger)
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, logger)
	guard := service.NewAuthorizationGuard()

	lifecycleService := service.NewLifecycleService(service.LifecycleDependencies{
		TicketRepo:      ticketRepo,
		Guard:           guard,
		Dispatcher:      dispatcher,
		Logger:          logger,
		ConflictRetries: cfg.Lifecycle.ConflictRetries,
	})
	queryService := service.NewQueryService(service.QueryDependencies{
		TicketRepo:      ticketRepo,
		Guard:           guard,
		Logger:          logger,
		DefaultPageSize: cfg.Lifecycle.DefaultPageSize,
		MaxPageSize:     cfg.Lifecycle.MaxPageSize,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		Guard:       guard,
		Hub:         hub,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	notificationService := service.NewNotificationService(dispatcher, publisher, logger, cfg.Notification)
	worker.StartNotificationWorker(dispatcher, notificationService, hub)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTLMinutes)
	metrics := observability.NewMetrics()

	app := httptransport.NewServer(cfg.App, logger, metrics, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Tickets:        handlers.NewTicketsHandler(lifecycleService, queryService),
		Messages:       handlers.NewMessagesHandler(chatService, logger, cfg.Realtime.PingInterval),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()
	logger.Info("server started",
		zap.String("addr", cfg.App.Addr()),
		zap.String("notify_backend", cfg.Notification.Backend),
		zap.Bool("postgres", pg.Enabled()),
	)

	waitForShutdown(logger)
	if err := app.Shutdown(); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

// newPublisher picks the outbound event transport. The Redis handle is only
// non-nil for the stream backend so readiness checks skip it otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, *persistence.Redis) {
	switch cfg.Notification.Backend {
	case config.NotifyBackendRedis:
		redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		return events.NewRedisStreamPublisher(redis.Client, cfg.Notification.RedisStream, cfg.Notification.RedisStreamMax), redis
	case config.NotifyBackendAMQP:
		publisher, err := events.NewAMQPPublisher(cfg.Notification.AMQPURL, cfg.Notification.AMQPQueue, logger)
		if err != nil {
			logger.Fatal("failed to connect amqp", zap.Error(err))
		}
		return publisher, nil
	default:
		return events.NewLogPublisher(logger), nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
