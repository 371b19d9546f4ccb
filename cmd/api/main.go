package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/endovel/clinic-platform/cmd/mainconfig"
	"github.com/endovel/clinic-platform/internal/api/router"
	"github.com/endovel/clinic-platform/internal/app/bootstrap"
	"github.com/endovel/clinic-platform/internal/clinic"
	appconfig "github.com/endovel/clinic-platform/internal/config"
	"github.com/endovel/clinic-platform/internal/conversation"
	httpmiddleware "github.com/endovel/clinic-platform/internal/http/middleware"
	"github.com/endovel/clinic-platform/internal/observability/metrics"
	"github.com/endovel/clinic-platform/internal/operator"
	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/internal/tenantdb"
	"github.com/endovel/clinic-platform/internal/whatsapp"
	"github.com/endovel/clinic-platform/pkg/logging"
)

const (
	processedEventRetentionDays = 7
	rateLimitIdle               = 10 * time.Minute
)

type appMetrics struct {
	messaging     *metrics.MessagingMetrics
	conversations *metrics.ConversationMetrics
	tenantCache   *metrics.TenantCacheMetrics
}

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, m := setupMetrics()

	masterDB, err := openMasterDB(cfg.MasterDatabaseURL)
	if err != nil {
		return err
	}
	defer masterDB.Close()
	registry := tenancy.NewRegistry(masterDB)

	var processed *tenancy.ProcessedStore
	if pool := connectPostgresPool(ctx, cfg.MasterDatabaseURL, logger); pool != nil {
		defer pool.Close()
		processed = tenancy.NewProcessedStore(pool)
	}

	cache := tenantdb.NewCache(
		tenantdb.NewPgxOpener(tenantdb.PoolOptions{
			MaxConns:        int32(cfg.TenantPoolMaxConns),
			MaxConnIdleTime: cfg.TenantIdleTimeout,
		}),
		logger,
		tenantdb.WithCapacity(cfg.TenantCacheMax),
		tenantdb.WithIdleTimeout(cfg.TenantIdleTimeout),
		tenantdb.WithMetrics(m.tenantCache),
	)
	tenantDBs := bootstrap.NewTenantDatabases(registry, cache, tenancy.ConnDefaults{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
	})

	sessions, err := bootstrap.BuildSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	queue, err := bootstrap.BuildQueue(ctx, cfg, mainconfig.NewSQSClient, logger)
	if err != nil {
		return err
	}

	sender := whatsapp.NewClient(whatsapp.ClientConfig{
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		AccessToken:   cfg.WhatsAppAccessToken,
		APIVersion:    cfg.WhatsAppAPIVersion,
	}, logger, whatsapp.WithMessagingMetrics(m.messaging))

	hub := operator.NewHub(logger)
	go hub.Run(ctx)

	dispatcher := conversation.NewDispatcher(sessions, tenantDBs, sender, dispatcherOptions(cfg), logger,
		conversation.WithConversationMetrics(m.conversations),
		conversation.WithTenantSettings(tenantDBs),
		conversation.WithOperatorNotifier(hub),
	)

	workerOpts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithJobTimeout(cfg.JobTimeout),
	}
	if processed != nil {
		workerOpts = append(workerOpts, conversation.WithProcessedEventsStore(processed))
	}
	worker := conversation.NewWorker(dispatcher, queue, logger, workerOpts...)

	tenants, err := whatsapp.NewTenantRouter(cfg.WhatsAppTenantCode, cfg.WhatsAppTenantMapJSON)
	if err != nil {
		return fmt.Errorf("whatsapp tenant map: %w", err)
	}
	publisher := conversation.NewPublisher(queue, logger)
	webhook := whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, tenants, publisher, logger, m.messaging)

	limiter := httpmiddleware.NewRateLimiter(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; staff API disabled")
	}

	operatorHandler := operator.NewHandler(hub, tenantDBs, sender, logger,
		operator.WithSettings(tenantDBs),
		operator.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	// Setup router
	r := router.New(&router.Config{
		Logger:              logger,
		WhatsAppWebhook:     webhook,
		ConversationHandler: conversation.NewHandler(dispatcher, logger),
		StatsHandler:        clinic.NewStatsHandler(tenantDBs, logger),
		OperatorHandler:     operatorHandler,
		TenantResolver:      registry,
		TenantCache:         cache,
		MasterDB:            masterDB,
		MetricsHandler:      metricsHandler,
		CORS: httpmiddleware.CORSPolicy{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedHeaders: cfg.CORSAllowedHeaders,
		},
		StaffAuthSecret: cfg.JWTSecret,
		RateLimiter:     limiter,
	})

	var purger processedPurger
	if processed != nil {
		purger = processed
	}
	sched, err := maintenance(ctx, cfg, purger, sessions, limiter, logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	go func() {
		if err := cache.Run(ctx, cfg.TenantSweepInterval); err != nil {
			logger.Error("tenant cache sweeper failed", "error", err)
		}
	}()
	worker.Start(ctx)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			worker.Wait()
			_ = cache.DisconnectAll(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	worker.Wait()
	if err := cache.DisconnectAll(shutdownCtx); err != nil {
		logger.Error("tenant databases did not close cleanly", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// setupMetrics registers every collector on a private registry and returns
// the handler serving it.
func setupMetrics() (http.Handler, *appMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := &appMetrics{
		messaging:     metrics.NewMessagingMetrics(reg),
		conversations: metrics.NewConversationMetrics(reg),
		tenantCache:   metrics.NewTenantCacheMetrics(reg),
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func openMasterDB(url string) (*sql.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("MASTER_DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open master db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// connectPostgresPool returns nil when the URL is empty or unreachable; webhook
// deduplication is then skipped.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, url)
	if err != nil {
		logger.Warn("master pool unavailable; webhook deduplication disabled", "error", err)
		return nil
	}
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("master pool unreachable; webhook deduplication disabled", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func dispatcherOptions(cfg *appconfig.Config) conversation.Options {
	return conversation.Options{
		ClinicName:     cfg.ClinicName,
		ReceptionPhone: cfg.ClinicReceptionPhone,
		OperatorMenu:   cfg.WhatsAppOperatorMenu,
		SessionTimeout: cfg.SessionTimeout,
		Location:       cfg.ClinicLocation(),
		ConsultationFee: clinic.Fee{
			AmountCents: cfg.ConsultationFeeCents,
			Currency:    cfg.ClinicCurrency,
		},
	}
}

type processedPurger interface {
	Purge(ctx context.Context, olderThanDays int) (int64, error)
}

// maintenance schedules housekeeping that keeps the stores bounded.
func maintenance(ctx context.Context, cfg *appconfig.Config, processed processedPurger, sessions conversation.SessionStore, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) (*cron.Cron, error) {
	sched := cron.New()

	if processed != nil {
		if _, err := sched.AddFunc("@hourly", func() {
			n, err := processed.Purge(ctx, processedEventRetentionDays)
			if err != nil {
				logger.Warn("failed to purge processed webhook events", "error", err)
				return
			}
			logger.Debug("processed webhook events purged", "deleted", n)
		}); err != nil {
			return nil, fmt.Errorf("schedule processed purge: %w", err)
		}
	}

	if mem, ok := sessions.(*conversation.MemorySessionStore); ok {
		if _, err := sched.AddFunc("@every 5m", func() {
			if n := mem.PurgeIdle(time.Now(), cfg.SessionRetention); n > 0 {
				logger.Debug("idle conversation sessions purged", "purged", n)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule session purge: %w", err)
		}
	}

	if limiter != nil {
		if _, err := sched.AddFunc("@every 5m", func() {
			limiter.Sweep(rateLimitIdle)
		}); err != nil {
			return nil, fmt.Errorf("schedule rate limit sweep: %w", err)
		}
	}
	return sched, nil
}
