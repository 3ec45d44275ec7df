package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/db"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/repositories"
	"github.com/multisig-custody/backend/internal/services"
	"go.uber.org/zap"
)

const autoBroadcastBatch = 50

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Services
	store := repositories.NewPostgresStore(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	engineCfg := services.NewEngineConfig(cfg)
	registry := services.NewWalletRegistry(store, repositories.NewHardwareRepo(pool), publisher, engineCfg, log)

	connectors := chain.NewRegistry()
	if cfg.AutoBroadcast {
		connectors = chain.NewRegistryFromConfig(ctx, cfg, log)
	}
	gateway := services.NewBroadcastGateway(connectors, cfg.BroadcastTimeout, log)
	coordinator := services.NewApprovalCoordinator(store, registry, gateway, publisher, engineCfg, log)

	log.Info("worker started",
		zap.Duration("expiry_sweep_interval", cfg.ExpirySweepInterval),
		zap.Bool("auto_broadcast", cfg.AutoBroadcast),
	)

	// Run jobs on tickers
	sweepTicker := time.NewTicker(cfg.ExpirySweepInterval)
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			runExpirySweep(ctx, coordinator, log)
			if cfg.AutoBroadcast {
				runAutoBroadcast(ctx, coordinator, log)
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runExpirySweep(ctx context.Context, coordinator *services.ApprovalCoordinator, log *zap.Logger) {
	n, err := coordinator.ExpireOldRequests(ctx)
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired approval requests", zap.Int("count", n))
	}
}

// runAutoBroadcast submits requests that reached quorum. Requests another
// process already claimed fail the status check and are skipped.
func runAutoBroadcast(ctx context.Context, coordinator *services.ApprovalCoordinator, log *zap.Logger) {
	approved, err := coordinator.ListApproved(ctx, autoBroadcastBatch)
	if err != nil {
		log.Error("failed to list approved requests", zap.Error(err))
		return
	}

	for _, req := range approved {
		done, err := coordinator.BroadcastTransaction(ctx, req.ID)
		switch {
		case err == nil:
			log.Info("auto-broadcast completed",
				zap.String("request_id", req.ID.String()),
				zap.Stringp("tx_hash", done.TransactionHash),
			)
		case errors.Is(err, services.ErrInvalidStatus):
			continue
		case errors.Is(err, services.ErrWalletNotReady):
			log.Debug("auto-broadcast skipped, wallet not active", zap.String("request_id", req.ID.String()))
		default:
			log.Error("auto-broadcast failed", zap.String("request_id", req.ID.String()), zap.Error(err))
		}
	}
}
