package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/field-ticket-service/internal/api/http"
	"github.com/spec-kit/field-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/field-ticket-service/internal/auth"
	"github.com/spec-kit/field-ticket-service/internal/clients"
	"github.com/spec-kit/field-ticket-service/internal/config"
	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/events"
	"github.com/spec-kit/field-ticket-service/internal/observability"
	"github.com/spec-kit/field-ticket-service/internal/persistence"
	"github.com/spec-kit/field-ticket-service/internal/repository"
	"github.com/spec-kit/field-ticket-service/internal/service"
	"github.com/spec-kit/field-ticket-service/internal/statemachine"
	"github.com/spec-kit/field-ticket-service/internal/worker"
)

const observerRetries = 2

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	employeeRepo := repository.NewEmployeeRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	historyRepo := repository.NewStateHistoryRepository(pool)
	machineRepo := repository.NewStateMachineRepository(pool)

	var shared statemachine.SharedCache
	var locker service.Locker
	if redis.Enabled() {
		shared = statemachine.NewRedisCache(redis.Client, cfg.Workflow.SharedCacheTTL())
		locker = redis
	}
	machines := statemachine.NewRegistry(machineRepo, shared, statemachine.Options{
		TTL:        cfg.Workflow.CacheTTL(),
		MaxEntries: cfg.Workflow.CacheMaxEntries,
	}, logger, metrics)

	var documents service.DocumentFetcher
	if cfg.Integrations.ODSEndpoint != "" {
		client, err := clients.NewDocumentClient(cfg.Integrations.ODSEndpoint, cfg.Integrations.ClientTimeout())
		if err != nil {
			logger.Fatal("failed to build document client", zap.Error(err))
		}
		documents = client
	} else {
		logger.Warn("ODS_ENDPOINT not provided; reschedule transitions will be rejected")
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	recorder := service.NewHistoryService(service.HistoryDependencies{
		Repo:       historyRepo,
		Documents:  documents,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})

	workflow := service.NewTicketWorkflow(service.WorkflowDependencies{
		Tickets:   ticketRepo,
		Employees: employeeRepo,
		Contacts:  contactRepo,
		History:   historyRepo,
		Machines:  machines,
		Recorder:  recorder,
		Policy:    service.NewAssignmentPolicy(cfg.Workflow.HomeProvider),
		Guard:     service.NewTechnicianGuard(ticketRepo, domain.StateInService),
		Logger:    logger,
		Metrics:   metrics,
	})

	var notificationPool *worker.NotificationPool
	if cfg.Integrations.ObserverEndpoint != "" {
		observer, err := clients.NewObserverClient(cfg.Integrations.ObserverEndpoint, cfg.Integrations.ClientTimeout(), observerRetries)
		if err != nil {
			logger.Fatal("failed to build observer client", zap.Error(err))
		}
		notificationPool = worker.NewNotificationPool(cfg.Integrations.ObserverWorkers, cfg.Integrations.ObserverQueueSize, cfg.Integrations.ClientTimeout(), logger)
		notifications := service.NewNotificationService(dispatcher, observer, notificationPool, logger, metrics)
		worker.StartNotificationWorker(ctx, notifications, notificationPool)
	} else {
		logger.Info("OBSERVER_ENDPOINT not provided; state change notifications disabled")
	}

	reconciler := service.NewReconcileService(ticketRepo, locker, cfg.Reconcile.BatchSize, logger, metrics)
	go worker.RunReconcileWorker(ctx, reconciler, cfg.Reconcile.Interval(), logger)

	authMiddleware := auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, 60), employeeRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(workflow),
		StateMachines:  handlers.NewStateMachineHandler(machines),
		Metrics:        httptransport.NewMetricsHandler(registry),
		AuthMiddleware: authMiddleware,
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
	cancel()
	if notificationPool != nil {
		notificationPool.Stop()
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
