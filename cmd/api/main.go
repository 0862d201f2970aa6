package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/handler"
	"github.com/courierhq/courier/internal/infra/postgresql"
	"github.com/courierhq/courier/internal/infra/postgresql/migrations"
	infraredis "github.com/courierhq/courier/internal/infra/redis"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/repository"
	"github.com/courierhq/courier/internal/service"
	"github.com/courierhq/courier/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "courier-api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("courier api exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topology, err := config.LoadTopology(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("failed to load provider topology: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	messageRepo := repository.NewGormMessageRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	batchRepo := repository.NewGormBatchRepo(db)

	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger.Named("consumer"))

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	factory := provider.NewFactory(rdb)
	messagingChains, err := buildMessagingChains(ctx, factory, topology, logger)
	if err != nil {
		return err
	}
	taskChain, err := buildTaskChain(ctx, factory, topology.Queue)
	if err != nil {
		return err
	}
	storageChain, err := buildStorageChain(ctx, factory, topology.Storage)
	if err != nil {
		return err
	}

	executor, err := dispatch.NewExecutor(provider.IsTransient)
	if err != nil {
		return fmt.Errorf("dispatch executor initialization failed: %w", err)
	}
	dispatcher, err := dispatch.NewDispatcher(executor, logger.Named("dispatch"))
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}

	policy := dispatch.Policy{
		MaxAttempts:   cfg.DispatchMaxAttempts,
		InitialDelay:  cfg.DispatchInitialDelay(),
		MaxDelay:      cfg.DispatchMaxDelay(),
		BackoffFactor: cfg.DispatchBackoffFactor,
	}

	deliveryService, err := service.NewDeliveryService(dispatcher, messagingChains, policy, cfg.DispatchTimeout(), logger.Named("delivery"))
	if err != nil {
		return fmt.Errorf("delivery service initialization failed: %w", err)
	}
	deliveryService.SetMetrics(metrics)

	messagingService, err := service.NewMessagingService(messageRepo, batchRepo, publisher, logger.Named("messaging"))
	if err != nil {
		return fmt.Errorf("messaging service initialization failed: %w", err)
	}

	workerService, err := service.NewWorkerService(
		messageRepo,
		attemptRepo,
		consumer,
		deliveryService,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger.Named("worker"),
	)
	if err != nil {
		return fmt.Errorf("worker service initialization failed: %w", err)
	}
	workerService.SetMetrics(metrics)

	scanner, err := service.NewRedeliveryScanner(messageRepo, publisher, 0, 0, logger.Named("redelivery"))
	if err != nil {
		return fmt.Errorf("redelivery scanner initialization failed: %w", err)
	}

	var taskService *service.TaskService
	if len(taskChain) > 0 {
		taskService, err = service.NewTaskService(dispatcher, taskChain, policy, cfg.DispatchTimeout(), logger.Named("tasks"))
		if err != nil {
			return fmt.Errorf("task service initialization failed: %w", err)
		}
		taskService.SetMetrics(metrics)
	}

	var storageService *service.StorageService
	if len(storageChain) > 0 {
		storageService, err = service.NewStorageService(dispatcher, storageChain, policy, cfg.DispatchTimeout(), logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("storage service initialization failed: %w", err)
		}
		storageService.SetMetrics(metrics)
	}

	app := fiber.New(fiber.Config{
		AppName:      "courier",
		ErrorHandler: transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterProviderHealthRoutes(app, handler.CollectProviderProbes(messagingChains, taskChain, storageChain))
	if err := handler.RegisterMessageRoutes(app, messagingService, attemptRepo); err != nil {
		return fmt.Errorf("failed to register message routes: %w", err)
	}

	var taskPort handler.TaskEnqueuer
	if taskService != nil {
		taskPort = taskService
	}
	var storagePort handler.ObjectUploader
	if storageService != nil {
		storagePort = storageService
	}
	handler.RegisterDispatchRoutes(app, taskPort, storagePort)

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("courier api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down http server")
		return app.Shutdown()
	})

	g.Go(func() error {
		return workerService.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})

	if err := g.Wait(); err != nil && groupCtx.Err() == nil {
		return err
	}

	logger.Info("courier api stopped")
	return nil
}

func buildMessagingChains(
	ctx context.Context,
	factory *provider.Factory,
	topology *config.Topology,
	logger *zap.Logger,
) (map[domain.Channel][]provider.MessageProvider, error) {
	chains := make(map[domain.Channel][]provider.MessageProvider, len(topology.Messaging))

	for channelName, set := range topology.Messaging {
		channel, err := domain.ParseChannelFromString(channelName)
		if err != nil {
			return nil, fmt.Errorf("topology messaging key %q: %w", channelName, err)
		}

		ordered := set.Ordered()
		chain := make([]provider.MessageProvider, 0, len(ordered))
		for _, settings := range ordered {
			p, err := factory.NewMessageProvider(ctx, settings)
			if err != nil {
				return nil, fmt.Errorf("channel %s provider %q: %w", channel, settings.Name, err)
			}
			chain = append(chain, p)
		}

		names := make([]string, 0, len(chain))
		for _, p := range chain {
			names = append(names, p.Name())
		}
		logger.Info("messaging chain configured",
			zap.String("channel", channel.String()),
			zap.String("providers", strings.Join(names, " -> ")),
		)

		chains[channel] = chain
	}

	return chains, nil
}

func buildTaskChain(ctx context.Context, factory *provider.Factory, set *config.ProviderSet) ([]provider.TaskProvider, error) {
	if set == nil {
		return nil, nil
	}

	ordered := set.Ordered()
	chain := make([]provider.TaskProvider, 0, len(ordered))
	for _, settings := range ordered {
		p, err := factory.NewTaskProvider(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("task provider %q: %w", settings.Name, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

func buildStorageChain(ctx context.Context, factory *provider.Factory, set *config.ProviderSet) ([]provider.StorageProvider, error) {
	if set == nil {
		return nil, nil
	}

	ordered := set.Ordered()
	chain := make([]provider.StorageProvider, 0, len(ordered))
	for _, settings := range ordered {
		p, err := factory.NewStorageProvider(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("storage provider %q: %w", settings.Name, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
