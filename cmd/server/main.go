// Package main provides the API server entry point for the commitment pool service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commitment-pool/internal/api"
	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/escrow"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/service"
	"github.com/commitment-pool/internal/storage"
)

// nopAuditor drops audit events when the ClickHouse sink is disabled
type nopAuditor struct{}

func (nopAuditor) Record(poolID, wallet, kind string, payload map[string]interface{}) {}

func main() {
	log.Println("Commitment Pool API server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	var auditor service.Auditor = nopAuditor{}
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		auditRepo := storage.NewAuditRepository(clickhouse)
		if err := auditRepo.EnsureSchema(context.Background()); err != nil {
			logger.WithError(err).Fatal("Failed to ensure audit schema")
		}
		auditRepo.Start()
		defer auditRepo.Stop()
		auditor = auditRepo
	} else {
		logger.Warn("ClickHouse audit sink disabled - dropping audit events")
	}

	logger.Info("Database connections established")

	poolRepo := storage.NewPoolRepository(postgres)
	participantRepo := storage.NewParticipantRepository(postgres)
	verificationRepo := storage.NewVerificationRepository(postgres)
	evidenceRepo := storage.NewEvidenceRepository(postgres)
	identityRepo := storage.NewIdentityRepository(postgres)
	ledgerRepo := storage.NewLedgerRepository(postgres)

	escrowMgr := escrow.NewManager(ledgerRepo)
	reg := registry.NewRegistry(poolRepo, identityRepo, escrowMgr, auditor)

	var cache service.Cache
	if cfg.Cache.ProjectionOn {
		cache = redis
	}

	poolService, err := service.NewPoolService(&service.Config{
		Lifecycle:     reg,
		Pools:         poolRepo,
		Participants:  participantRepo,
		Verifications: verificationRepo,
		Payouts:       ledgerRepo,
		Evidence:      evidenceRepo,
		Identities:    identityRepo,
		Cache:         cache,
		CacheTTL:      cfg.Cache.TTL,
		Audit:         auditor,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build pool service")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		FreeTierRPS:     cfg.RateLimit.FreeTier,
		BasicTierRPS:    cfg.RateLimit.BasicTier,
		PremiumTierRPS:  cfg.RateLimit.PremiumTier,
	}

	server := api.NewServer(serverConfig, poolService)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("API server running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Server stopped")
}
