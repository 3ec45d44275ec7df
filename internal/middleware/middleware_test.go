package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/auth"
	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/events"
	"go.uber.org/zap"
)

func testApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Use(LoggerMiddleware(zap.NewNop()))
	app.Get("/me", AuthMiddleware(cfg, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c).String() + "|" + events.TenantFromContext(c.UserContext(), "none"))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "s3cret", DefaultTenantID: "acme"}
	app := testApp(cfg)
	userID := uuid.New()

	withTenant, _ := auth.GenerateJWT(cfg.JWTSecret, userID, "tenant-9", time.Hour)
	noTenant, _ := auth.GenerateJWT(cfg.JWTSecret, userID, "", time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", fiber.StatusUnauthorized, ""},
		{"not bearer", "Token abc", fiber.StatusUnauthorized, ""},
		{"bad token", "Bearer abc", fiber.StatusUnauthorized, ""},
		{"tenant from token", "Bearer " + withTenant, fiber.StatusOK, userID.String() + "|tenant-9"},
		{"default tenant", "Bearer " + noTenant, fiber.StatusOK, userID.String() + "|acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	app := testApp(&config.Config{JWTSecret: "x"})

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/me", nil))
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("generated request id is not a uuid: %v", err)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 65))
	resp, _ = app.Test(req)
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("oversized request id was not replaced: %q", resp.Header.Get("X-Request-ID"))
	}
}

func TestRateLimitMiddleware_DisabledWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimitMiddleware(nil, 1, time.Minute))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
}
