package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/auth"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/events"
	"go.uber.org/zap"
)

const (
	CtxUserID   = "user_id"
	CtxTenantID = "tenant_id"
)

// AuthMiddleware validates the bearer token and attaches the caller's user
// and tenant. The tenant also rides on the request's user context so emitted
// notifications are tagged with it.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthenticated(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthenticated(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthenticated(c, "invalid or expired token")
		}

		tenant := claims.TenantID
		if tenant == "" {
			tenant = cfg.DefaultTenantID
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxTenantID, tenant)
		c.SetUserContext(events.WithTenant(c.UserContext(), tenant))

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetTenantID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxTenantID).(string)
	return id
}

func unauthenticated(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":      msg,
		"code":       "unauthenticated",
		"request_id": GetRequestID(c),
	})
}
