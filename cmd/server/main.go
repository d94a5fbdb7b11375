/**
 * @description
 * This is the main entry point for the assistance service. It is responsible
 * for initializing all components: configuration, database connection and
 * migrations, the Redis analytics cache, the document store, message broker
 * plumbing (outbox dispatcher plus the notification consumer), the cron
 * scheduler, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Analytics cache client.
 * - internal/api, internal/app, internal/config, internal/db, internal/store: Internal packages.
 * - pkg/filestore, pkg/mailclient, pkg/pushclient, pkg/rabbitmq, pkg/smsclient: Shared clients.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kousaila502/e-social-assistance/internal/api"
	"github.com/kousaila502/e-social-assistance/internal/app"
	"github.com/kousaila502/e-social-assistance/internal/config"
	"github.com/kousaila502/e-social-assistance/internal/db"
	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
	"github.com/kousaila502/e-social-assistance/pkg/filestore"
	"github.com/kousaila502/e-social-assistance/pkg/mailclient"
	"github.com/kousaila502/e-social-assistance/pkg/pushclient"
	"github.com/kousaila502/e-social-assistance/pkg/rabbitmq"
	"github.com/kousaila502/e-social-assistance/pkg/smsclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		logger.Error("JWT_SECRET must be configured")
		os.Exit(1)
	}

	logger.Info("starting assistance service", "port", cfg.ServerPort)

	// Establish the database connection pool.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Apply pending schema migrations before serving traffic.
	if err := db.RunMigrations(logger, cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// Redis backs the pool analytics cache. A missing or unreachable Redis
	// downgrades analytics to direct queries rather than blocking boot.
	var analyticsCache *store.AnalyticsCache
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; pool analytics caching disabled", "env", "REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; pool analytics caching disabled", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; pool analytics caching disabled", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				analyticsCache = store.NewAnalyticsCache(redisClient, time.Duration(cfg.AnalyticsCacheTTLSeconds)*time.Second)
				logger.Info("redis connected")
			}
		}
	}

	// Content-addressed store for demande supporting documents.
	documents, err := filestore.New(cfg.DocumentStoreDir)
	if err != nil {
		logger.Error("document store init failed", "error", err, "dir", cfg.DocumentStoreDir)
		os.Exit(1)
	}

	repository := store.NewPostgresRepository(dbpool)
	gateway := app.NewSimulatedGateway(cfg.GatewayFailureRate, time.Duration(cfg.GatewayLatencyMS)*time.Millisecond)

	service := app.NewService(
		repository,
		analyticsCache,
		gateway,
		documents,
		logger,
		cfg.JWTSecret,
		time.Duration(cfg.JWTTTLMinutes)*time.Minute,
	)

	rootCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	// The outbox dispatcher drains workflow events into RabbitMQ. It dials
	// lazily, so a broker outage at boot only delays delivery.
	dispatcher := app.NewOutboxDispatcher(
		repository,
		cfg.RabbitMQURL,
		cfg.OutboxBatchSize,
		time.Duration(cfg.OutboxPollSeconds)*time.Second,
		time.Duration(cfg.OutboxStaleSeconds)*time.Second,
		logger,
	)
	go dispatcher.Run(rootCtx)

	// The notification consumer turns workflow events back into recipient
	// notifications and channel deliveries.
	notifier := app.NewNotificationConsumer(
		repository,
		mailclient.NewClient(cfg.MailGatewayURL, cfg.MailGatewayAPIKey),
		smsclient.NewClient(cfg.SMSGatewayURL, cfg.SMSGatewayAPIKey),
		pushclient.NewClient(cfg.PushGatewayURL, cfg.PushGatewayAPIKey),
		logger,
	)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	if err := consumer.ConsumeWithBindings(domain.WorkflowExchange, cfg.WorkflowEventQueue, notifier.Bindings()); err != nil {
		logger.Error("workflow consumer start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("workflow event consumer started", "queue", cfg.WorkflowEventQueue)

	// Cron sweeps: payment retries, scheduled payments, notification
	// redelivery, and the demande/pool expiry passes.
	jobs := app.NewJobs(service, notifier, repository, cfg.DemandeExpiryDays, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	handlers := api.NewHandlers(service, cfg.MaxUploadBytes)
	router := api.NewRouter(handlers, []byte(cfg.JWTSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Stop background work after in-flight requests drain.
	stopServices()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	logger.Info("shutdown complete")
}
