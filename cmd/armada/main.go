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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Armada/internal/api"
	"github.com/CaioWing/Armada/internal/auth"
	"github.com/CaioWing/Armada/internal/config"
	"github.com/CaioWing/Armada/internal/events"
	"github.com/CaioWing/Armada/internal/orchestrator"
	"github.com/CaioWing/Armada/internal/registry"
	"github.com/CaioWing/Armada/internal/repository/postgres"
	"github.com/CaioWing/Armada/internal/service"
	"github.com/CaioWing/Armada/internal/storage"
	"github.com/CaioWing/Armada/internal/storage/local"
	"github.com/CaioWing/Armada/internal/storage/s3"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info("starting Armada",
		"listen", cfg.ListenAddr(),
		"db_host", cfg.DB.Host,
		"storage", cfg.Storage.Backend,
		"registry", cfg.Registry.BaseURL,
		"gateway", cfg.Gateway.BaseURL,
	)

	// Run migrations
	log.Info("running database migrations")
	if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations completed")

	// Database connection pool
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	log.Info("database connected")

	// Firmware binary storage
	var store storage.BlobStore
	switch cfg.Storage.Backend {
	case "s3":
		store, err = s3.New(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix)
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		log.Info("storage initialized", "backend", "s3", "bucket", cfg.Storage.Bucket)
	default:
		store, err = local.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		log.Info("storage initialized", "backend", "local", "path", cfg.Storage.Path)
	}

	// Event bus
	var publisher events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return fmt.Errorf("init kafka publisher: %w", err)
		}
		publisher = events.NewAsyncPublisher(kp, log)
		log.Info("kafka publisher initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		log.Warn("no kafka brokers configured, events will be discarded")
	}
	defer publisher.Close()

	// Device registry client
	registryClient, err := registry.NewClient(registry.ClientConfig{
		BaseURL: cfg.Registry.BaseURL,
		Timeout: cfg.Registry.Timeout,
		Retries: cfg.Registry.Retries,
	})
	if err != nil {
		return fmt.Errorf("init registry client: %w", err)
	}

	// Repositories
	firmwareRepo := postgres.NewFirmwareRepo(pool)
	campaignRepo := postgres.NewCampaignRepo(pool)
	updateRepo := postgres.NewUpdateRepo(pool)
	rollbackRepo := postgres.NewRollbackRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	// Services
	firmwareSvc := service.NewFirmwareService(firmwareRepo, campaignRepo, store, log)
	campaignSvc := service.NewCampaignService(campaignRepo, firmwareRepo, publisher, log)
	updateSvc := service.NewUpdateService(updateRepo, firmwareRepo, registryClient, publisher, log)
	rollbackSvc := service.NewRollbackService(rollbackRepo, updateRepo, firmwareRepo, publisher, log)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Rollout engine
	driver := orchestrator.NewAgentDriver(cfg.Gateway.BaseURL, &http.Client{Timeout: cfg.Gateway.Timeout})
	orch := orchestrator.New(
		cfg.Scheduler,
		campaignSvc, updateSvc, rollbackSvc,
		campaignRepo, updateRepo, firmwareRepo,
		driver, publisher, log,
	)
	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("orchestrator recovery: %w", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go orch.RunSweeper(sweepCtx)
	go auditSvc.RunRetention(sweepCtx, cfg.Audit.Retention, cfg.Audit.PurgeInterval)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	// Router
	router := api.NewRouter(api.RouterDeps{
		FirmwareSvc:  firmwareSvc,
		CampaignSvc:  campaignSvc,
		UpdateSvc:    updateSvc,
		RollbackSvc:  rollbackSvc,
		AuditSvc:     auditSvc,
		Orchestrator: orch,
		JWTManager:   jwtMgr,
		CORSOrigins:  cfg.CORS.AllowedOrigins,
		Logger:       log,
	})

	// HTTP Server
	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stopSweeper()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("orchestrator did not drain in time, in-flight updates recover on next boot", "err", err)
	}

	log.Info("server stopped")
	return nil
}
