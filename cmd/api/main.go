package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/multisig-custody/backend/internal/chain"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/db"
	"github.com/multisig-custody/backend/internal/events"
	apphttp "github.com/multisig-custody/backend/internal/http"
	"github.com/multisig-custody/backend/internal/http/handlers"
	"github.com/multisig-custody/backend/internal/repositories"
	"github.com/multisig-custody/backend/internal/services"
	"github.com/multisig-custody/backend/migrations"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memoryDSN runs the api on in-process storage and events, for local use.
const memoryDSN = "memory"

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store      repositories.Store
		hardware   services.HardwareResolver
		publisher  events.Publisher
		subscriber events.Subscriber
		rdb        *redis.Client
	)

	if cfg.PostgresDSN == memoryDSN {
		log.Warn("running on in-memory storage, state is lost on restart")
		store = repositories.NewMemoryStore()
		hardware = repositories.NewMemoryHardware()
		bus := events.NewMemoryBus()
		publisher, subscriber = bus, bus
	} else {
		// Database
		pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn, log)
		if err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		// Run migrations
		if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}

		// Redis
		rdb, err = db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		store = repositories.NewPostgresStore(pool)
		hardware = repositories.NewHardwareRepo(pool)
		publisher = events.NewRedisPublisher(rdb, log)
		subscriber = events.NewRedisSubscriber(rdb, log)
	}

	// Services
	engineCfg := services.NewEngineConfig(cfg)
	connectors := chain.NewRegistryFromConfig(ctx, cfg, log)
	registry := services.NewWalletRegistry(store, hardware, publisher, engineCfg, log)
	gateway := services.NewBroadcastGateway(connectors, cfg.BroadcastTimeout, log)
	coordinator := services.NewApprovalCoordinator(store, registry, gateway, publisher, engineCfg, log)

	// Handlers
	metaHandler := handlers.NewMetaHandler(engineCfg)
	walletHandler := handlers.NewWalletHandler(registry, log)
	approvalHandler := handlers.NewApprovalHandler(coordinator, registry, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, registry, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, metaHandler, walletHandler, approvalHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.Strings("chains", cfg.SupportedChains),
		zap.Strings("connectors", connectors.Chains()),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
