package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	integrationapp "github.com/wmsync/backend/internal/application/integration"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/auth"
	"github.com/wmsync/backend/internal/infrastructure/cache"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"github.com/wmsync/backend/internal/infrastructure/event"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/migration"
	"github.com/wmsync/backend/internal/infrastructure/persistence"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"github.com/wmsync/backend/internal/infrastructure/wms"
	"github.com/wmsync/backend/internal/interfaces/http/handler"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
	"github.com/wmsync/backend/internal/interfaces/http/router"
	"github.com/wmsync/backend/migrations"
	"go.uber.org/zap"
)

func serve(parent context.Context, opts *serveOptions) error {
	loader := newLoader(opts.configDir)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02 15:04:05",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting wmsync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("config_file", loader.ConfigFileUsed()),
	)

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	meter := tel.Meter(telemetry.MeterName)
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	// Database
	gormLogger := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithSQL(cfg.Telemetry.DBLogFullSQL),
	)
	db, err := persistence.Open(ctx, &cfg.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Database close failed", zap.Error(err))
		}
	}()
	if err := telemetry.InstrumentDB(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBName:          cfg.Database.DBName,
	}, log); err != nil {
		return fmt.Errorf("failed to instrument database: %w", err)
	}
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.DBName))

	if opts.migrate {
		if err := migrateUp(db, log); err != nil {
			return err
		}
	}

	checkpoints := persistence.NewGormCheckpointRepository(db.DB, persistence.CheckpointStoreConfig{
		LeaseTTL:       cfg.Sync.RunLeaseTTL,
		ErrorThreshold: cfg.Sync.ErrorThreshold,
	})
	connections := persistence.NewGormConnectionRepository(db.DB)
	orders := persistence.NewGormOrderRepository(db.DB)
	failures := persistence.NewGormRecordFailureRepository(db.DB)

	// Providers and status canonicalization
	registry, err := wms.NewRegistryFromConfig(cfg.Providers, nil, log)
	if err != nil {
		return fmt.Errorf("failed to configure providers: %w", err)
	}
	canonicalizer, err := wms.BuildCanonicalizer(registry.StatusTables(), cfg.StatusMapping)
	if err != nil {
		return fmt.Errorf("invalid status mapping: %w", err)
	}
	statuses := integrationapp.NewCanonicalizerHolder(canonicalizer)
	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Error("Config reload failed, keeping current status mapping", zap.Error(err))
			return
		}
		c, err := wms.BuildCanonicalizer(registry.StatusTables(), next.StatusMapping)
		if err != nil {
			log.Error("Reloaded status mapping is invalid, keeping current", zap.Error(err))
			return
		}
		statuses.Swap(c)
		log.Info("Status mapping reloaded")
	})

	reconciler := integrationapp.NewEntityReconciler(integrationapp.EntityReconcilerConfig{
		Orders:    orders,
		Products:  persistence.NewGormProductRepository(db.DB),
		Inventory: persistence.NewGormInventoryRepository(db.DB),
		Shipments: persistence.NewGormShipmentRepository(db.DB),
		Failures:  failures,
		Statuses:  statuses,
		Logger:    log,
		Metrics:   syncMetrics,
	})

	// Event bus carries deferred webhook work and run notifications
	bus := event.NewAsyncEventBus(event.AsyncBusConfig{
		Workers:        cfg.Webhook.AsyncWorkers,
		QueueSize:      cfg.Webhook.AsyncQueueSize,
		HandlerTimeout: cfg.Sync.JobTimeout,
	}, log)
	bus.Subscribe(runEventLogger(log))

	idempotency, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cfg.Webhook.IdempotencyBackend,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create idempotency store: %w", err)
	}
	defer func() {
		if err := idempotency.Close(); err != nil {
			log.Warn("Idempotency store close failed", zap.Error(err))
		}
	}()

	webhooks, err := integrationapp.NewWebhookIngestService(integrationapp.WebhookIngestServiceConfig{
		Sources:         registry,
		Connections:     connections,
		Reconciler:      reconciler,
		Idempotency:     idempotency,
		Publisher:       bus,
		Metrics:         syncMetrics,
		Logger:          log,
		ReconcileBudget: cfg.Webhook.ReconcileBudget,
		IdempotencyTTL:  cfg.Webhook.IdempotencyTTL,
	})
	if err != nil {
		return err
	}
	bus.Subscribe(webhooks)

	// Sync runs
	providerRouter := wms.NewProviderRouter(registry, connections)
	orchestrator, err := scheduler.NewOrchestrator(scheduler.OrchestratorConfigFrom(cfg.Sync),
		checkpoints, providerRouter, reconciler, log,
		scheduler.WithEventPublisher(bus),
		scheduler.WithMetrics(syncMetrics),
	)
	if err != nil {
		return fmt.Errorf("invalid orchestrator config: %w", err)
	}
	sched, err := scheduler.New(scheduler.ConfigFrom(cfg.Sync), orchestrator, log)
	if err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}
	trigger, err := scheduler.NewIntervalTrigger(scheduler.TriggerConfigFrom(cfg.Sync), sched, connections, registry, log)
	if err != nil {
		return fmt.Errorf("invalid trigger config: %w", err)
	}

	syncService := integrationapp.NewSyncService(integrationapp.SyncServiceConfig{
		Connections: connections,
		Checkpoints: checkpoints,
		Failures:    failures,
		Orders:      orders,
		Catalog:     registry,
		Jobs:        sched,
		Writer:      providerRouter,
		LeaseTTL:    cfg.Sync.RunLeaseTTL,
		Logger:      log,
	})

	// HTTP
	verifier, err := auth.NewServiceTokenVerifier(cfg.JWT)
	if err != nil {
		return err
	}
	checks := map[string]handler.HealthCheck{
		"database": db.Ping,
	}
	if p, ok := idempotency.(interface{ Ping(context.Context) error }); ok {
		checks["redis"] = p.Ping
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine, err := router.NewEngine(router.Config{
		Logger:         log,
		Verifier:       verifier,
		Sync:           handler.NewSyncHandler(syncService),
		Webhooks:       handler.NewWebhookHandler(webhooks),
		Health:         handler.NewHealthHandler(checks),
		CORS:           cors,
		Tracing:        middleware.TracingConfig{ServiceName: cfg.Telemetry.ServiceName, Enabled: cfg.Telemetry.Enabled},
		Meter:          meter,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Background work
	if err := bus.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if cfg.Sync.Enabled {
		if err := trigger.Start(ctx); err != nil {
			return fmt.Errorf("failed to start interval trigger: %w", err)
		}
	} else {
		log.Info("Interval trigger disabled, only manual runs and webhooks are processed")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server forced to shutdown", zap.Error(err))
	}
	if cfg.Sync.Enabled {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Warn("Interval trigger stop failed", zap.Error(err))
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler stop failed", zap.Error(err))
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus stop failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	return nil
}

func migrateUp(db *persistence.Database, log *zap.Logger) error {
	m, err := migration.NewFromFS(db.SQL(), migrations.FS, log)
	if err != nil {
		return err
	}
	// Closing the migrator would close the shared connection pool.
	return m.Up()
}

// runEventLogger reports run outcomes off the run goroutine. Threshold
// crossings are already logged at error level by the orchestrator.
func runEventLogger(log *zap.Logger) *event.HandlerFunc {
	return &event.HandlerFunc{
		Types: []string{
			integration.EventTypeSyncRunCompleted,
			integration.EventTypeSyncRunFailed,
		},
		Fn: func(ctx context.Context, ev shared.DomainEvent) error {
			l := logger.L(ctx, log).With(
				zap.String("event_id", ev.EventID().String()),
				zap.String("tenant_id", ev.TenantID().String()),
			)
			switch e := ev.(type) {
			case *integration.SyncRunCompletedEvent:
				l.Debug("Sync run completed",
					zap.String("resource", string(e.Resource)),
					zap.String("run_kind", string(e.Kind)),
					zap.Int64("records_processed", e.RecordsProcessed),
					zap.Int("pages", e.Pages),
				)
			case *integration.SyncRunFailedEvent:
				l.Info("Sync run failed",
					zap.String("resource", string(e.Resource)),
					zap.String("run_kind", string(e.Kind)),
					zap.Int("consecutive_errors", e.ConsecutiveErrors),
					zap.String("error", e.Error),
				)
			}
			return nil
		},
	}
}
