package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"sentinelops/internal/audit"
	"sentinelops/internal/autorule"
	"sentinelops/internal/config"
	"sentinelops/internal/database"
	"sentinelops/internal/escalation"
	"sentinelops/internal/handlers"
	"sentinelops/internal/kafka"
	"sentinelops/internal/lifecycle"
	"sentinelops/internal/matcher"
	"sentinelops/internal/metrics"
	"sentinelops/internal/notify"
	"sentinelops/internal/scheduler"
	"sentinelops/internal/statemachine"
	"sentinelops/internal/validation"
)

const (
	serviceName = "correlation-engine"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("starting correlation engine",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database connection", "error", err)
		}
	}()
	if err := database.RunMigrations(cfg.Database, logger); err != nil {
		logger.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Redis, used to fence the escalation sweep across replicas.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	// Repositories
	incidentRepo := database.NewIncidentRepository(db, logger)
	activityRepo := database.NewActivityRepository(db, logger)
	bolRepo := database.NewBOLRepository(db, logger)
	auditRepo := database.NewAuditRepository(db, logger)
	ruleRepo := database.NewRuleRepository(db, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Core engines. Configured rules override the compiled-in defaults.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	transitionRules := statemachine.DefaultRules()
	if configured, err := ruleRepo.TransitionRules(startupCtx); err != nil {
		logger.Warn("falling back to default transition rules", "error", err)
	} else {
		transitionRules = append(transitionRules, configured...)
	}
	transitions := statemachine.New(logger, transitionRules)

	autoRules := autorule.DefaultRules(autorule.PolicyThresholds{
		AlertConfidenceMin:  cfg.Rules.AlertConfidenceMin,
		DamageConfidenceMin: cfg.Rules.DamageConfidenceMin,
	})
	// Configured rules go first: the engine fires the first matching rule,
	// so store-loaded rules take precedence over the built-in policy.
	if configured, err := ruleRepo.AutoCreationRules(startupCtx); err != nil {
		logger.Warn("falling back to default auto-creation rules", "error", err)
	} else {
		autoRules = append(configured, autoRules...)
	}
	ruleEngine := autorule.New(logger, autoRules, autorule.Options{
		BusinessHoursStart: cfg.Rules.BusinessHoursStart,
		BusinessHoursEnd:   cfg.Rules.BusinessHoursEnd,
		RegexCacheTTL:      cfg.Rules.RegexCacheTTL,
		RegexCacheCleanup:  cfg.Rules.RegexCacheCleanup,
	})

	validator := validation.New()
	confidenceMatcher := matcher.New(cfg.Matching.DefaultThreshold, cfg.Matching.TokenCacheTTL)
	escalator := escalation.New(escalation.Windows{
		CriticalAfter: cfg.Escalation.CriticalAfter,
		HighAfter:     cfg.Escalation.HighAfter,
		DefaultAfter:  cfg.Escalation.DefaultAfter,
	})
	recorder := audit.New(logger, auditRepo, lifecycle.SystemClock{},
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour, registry)

	// Event fan-out: Kafka events topic plus the webhook notifier.
	producer := kafka.NewProducer(cfg, logger)
	notifier := notify.New(cfg.Notify, logger)

	service := lifecycle.New(
		logger,
		lifecycle.SystemClock{},
		lifecycle.Config{
			ScanWindow:         cfg.Matching.ScanWindow,
			ActivityArchiveAge: time.Duration(cfg.Audit.ActivityArchiveAge) * 24 * time.Hour,
		},
		validator,
		transitions,
		ruleEngine,
		confidenceMatcher,
		escalator,
		recorder,
		collector,
		incidentRepo,
		activityRepo,
		bolRepo,
		lifecycle.Fanout{producer, notifier},
	)

	consumer := kafka.NewConsumer(cfg, logger, service)

	// Periodic sweeps
	sweeps := scheduler.New(cfg, logger)
	registerSweeps(sweeps, cfg, logger, service, activityRepo, recorder, redisClient)

	// HTTP surface
	httpHandler := handlers.NewHTTPHandler(
		logger,
		service,
		recorder,
		incidentRepo,
		activityRepo,
		bolRepo,
		collector,
		map[string]handlers.StatsSource{
			"consumer":  consumer,
			"producer":  producer,
			"notifier":  notifier,
			"scheduler": sweeps,
		},
	)
	router := mux.NewRouter()
	httpHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier.Start(ctx)
	consumer.Start(ctx)
	sweeps.Start()

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server gracefully", "error", err)
	}

	sweeps.Stop()
	consumer.Stop()
	notifier.Stop()
	producer.Stop()

	logger.Info("shutdown complete")
}

func registerSweeps(
	sweeps *scheduler.Scheduler,
	cfg *config.Config,
	logger *slog.Logger,
	service *lifecycle.Service,
	activityRepo *database.ActivityRepository,
	recorder *audit.Recorder,
	redisClient *redis.Client,
) {
	register := func(schedule string, handler scheduler.TaskHandler) {
		if err := sweeps.Register(schedule, handler); err != nil {
			logger.Error("failed to register sweep", "task", handler.Name(), "error", err)
			os.Exit(1)
		}
	}
	register(cfg.Scheduler.EscalationSweep, scheduler.NewEscalationSweep(logger, service, redisClient))
	register(cfg.Scheduler.BOLExpirySweep, scheduler.NewBOLExpirySweep(logger, service))
	register(cfg.Scheduler.ArchiveSweep, scheduler.NewArchiveSweep(
		logger, activityRepo, time.Duration(cfg.Audit.ActivityArchiveAge)*24*time.Hour))
	register(cfg.Scheduler.RetentionSweep, scheduler.NewRetentionSweep(logger, recorder))
}

// setupLogging configures structured logging.
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
