// Package main provides the scheduler agent entry point: pool lifecycle
// transitions, daily verification sweeps, and settlement all run here.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commitment-pool/internal/chain"
	"github.com/commitment-pool/internal/clock"
	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/distribute"
	"github.com/commitment-pool/internal/escrow"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/scheduler"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
	"github.com/commitment-pool/internal/verify"
)

// nopAuditor drops audit events when the ClickHouse sink is disabled
type nopAuditor struct{}

func (nopAuditor) Record(poolID, wallet, kind string, payload map[string]interface{}) {}

// auditSink narrows the audit surface shared by every engine
type auditSink interface {
	Record(poolID, wallet, kind string, payload map[string]interface{})
}

func main() {
	log.Println("Commitment Pool agent starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var auditor auditSink = nopAuditor{}
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
	}

	// Redis is optional for the agent: without it, per-pool serialization
	// falls back to local locks, which is fine for a single instance
	var leases scheduler.Leaser
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable - using local pool locks")
	} else {
		defer redis.Close()
		leases = storage.NewLeaseManager(redis, cfg.Cache.LeasePrefix, cfg.Cache.LeaseTTL)
	}

	poolRepo := storage.NewPoolRepository(postgres)
	participantRepo := storage.NewParticipantRepository(postgres)
	verificationRepo := storage.NewVerificationRepository(postgres)
	evidenceRepo := storage.NewEvidenceRepository(postgres)
	identityRepo := storage.NewIdentityRepository(postgres)
	ledgerRepo := storage.NewLedgerRepository(postgres)

	escrowMgr := escrow.NewManager(ledgerRepo)
	reg := registry.NewRegistry(poolRepo, identityRepo, escrowMgr, auditor)

	solana := chain.NewSolanaClient(&cfg.Chains.Solana)
	balanceSources := map[types.ChainID]chain.BalanceSource{
		types.ChainSolana: solana,
	}
	if cfg.Chains.Ethereum.RPCPrimary != "" {
		evm, err := chain.NewEVMClient(&cfg.Chains.Ethereum)
		if err != nil {
			logger.WithError(err).Warn("EVM client unavailable - hodl goals on EVM chains will be inconclusive")
		} else {
			defer evm.Close()
			balanceSources[types.ChainEthereum] = evm
		}
	}

	providers := make(map[string]verify.EventsSource)
	if cfg.Verify.ActivityProviderURL != "" {
		providers["github"] = verify.NewProviderClient("github", &cfg.Verify)
	}

	dispatcher := verify.NewDispatcher()
	dispatcher.Register(types.GoalHodlToken, verify.NewHodlChecker(balanceSources))
	dispatcher.Register(types.GoalDailyTxCount, verify.NewActivityChecker(solana, nil))
	dispatcher.Register(types.GoalExternalActivity, verify.NewExternalChecker(identityRepo, providers))
	dispatcher.Register(types.GoalEvidenceUpload, verify.NewEvidenceChecker(evidenceRepo))

	verifyEngine := verify.NewEngine(
		dispatcher,
		verificationRepo,
		participantRepo,
		auditor,
		cfg.Scheduler.CheckTimeout,
		clock.Real(),
	)

	custody := chain.NewCustodyClient(&cfg.Settle)
	settleEngine := distribute.NewEngine(
		poolRepo,
		participantRepo,
		ledgerRepo,
		escrowMgr,
		custody,
		reg,
		auditor,
		clock.Real(),
		cfg.Settle.DefaultCharityAddress,
	)

	worker, err := scheduler.NewWorker(&scheduler.WorkerConfig{
		Scheduler: &cfg.Scheduler,
		Pools:     poolRepo,
		Lifecycle: reg,
		Verifier:  verifyEngine,
		Settler:   settleEngine,
		Leases:    leases,
		Clock:     clock.Real(),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build agent worker")
	}

	if err := worker.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start agent worker")
	}
	logger.Info("Agent running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Stop(ctx); err != nil {
		logger.WithError(err).Error("Agent worker stop failed")
	}

	logger.Info("Agent stopped")
}
