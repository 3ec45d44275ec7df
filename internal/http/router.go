package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/http/handlers"
	"github.com/multisig-custody/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	metaHandler *handlers.MetaHandler,
	walletHandler *handlers.WalletHandler,
	approvalHandler *handlers.ApprovalHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	limiter := middleware.RateLimitMiddleware(rdb, cfg.RateLimit, time.Minute)

	// Meta (public, limited per IP)
	api.Get("/meta", limiter, metaHandler.GetMeta)

	// Protected endpoints, limited per user
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), limiter)

	// Wallets
	protected.Post("/wallets", walletHandler.CreateWallet)
	protected.Get("/wallets", walletHandler.ListWallets)
	protected.Get("/wallets/:id", walletHandler.GetWallet)
	protected.Get("/wallets/:id/signers", walletHandler.ListSigners)
	protected.Post("/wallets/:id/signers", walletHandler.AddSigner)
	protected.Delete("/wallets/:id/signers/:signerId", walletHandler.RemoveSigner)
	protected.Post("/wallets/:id/suspend", walletHandler.SuspendWallet)
	protected.Post("/wallets/:id/reactivate", walletHandler.ReactivateWallet)
	protected.Post("/wallets/:id/archive", walletHandler.ArchiveWallet)
	protected.Get("/wallets/:id/audit", walletHandler.GetAudit)

	// Approval requests
	protected.Post("/wallets/:id/requests", approvalHandler.CreateRequest)
	protected.Get("/wallets/:id/requests", approvalHandler.ListRequests)
	protected.Get("/requests/:id", approvalHandler.GetStatus)
	protected.Post("/requests/:id/sign", approvalHandler.SubmitSignature)
	protected.Post("/requests/:id/reject", approvalHandler.RejectRequest)
	protected.Post("/requests/:id/broadcast", approvalHandler.Broadcast)
	protected.Post("/requests/:id/cancel", approvalHandler.CancelRequest)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
