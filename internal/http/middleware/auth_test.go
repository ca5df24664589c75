package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	httpUtil "github.com/pslib/urlshortener/internal/http/util"
	"go.uber.org/zap"
)

func TestAuthenticate(t *testing.T) {
	signer := httpUtil.NewTokenSigner([]byte("secret"))
	admin, err := signer.Issue("root", true, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, _ := httpUtil.NewTokenSigner([]byte("other")).Issue("root", true, time.Hour)

	app := fiber.New()
	app.Use(Authenticate(signer, zap.NewNop()))
	app.Get("/", func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok || actor.Subject != "root" || !actor.IsAdmin || actor.DisplayName != "Root" {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic " + admin, fiber.StatusUnauthorized},
		{"foreign signature", "Bearer " + other, fiber.StatusUnauthorized},
		{"valid", "Bearer " + admin, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			req.Header.Set(DisplayNameHeader, "Root")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
