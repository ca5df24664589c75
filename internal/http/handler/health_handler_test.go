package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthCheck
		want   int
		status string
	}{
		{"no dependencies", nil, fiber.StatusOK, "ok"},
		{"all healthy", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		}, fiber.StatusOK, "ok"},
		{"redis down", map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}, fiber.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(nil, tt.checks).Register(app)

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			decode(t, resp, &body)
			if body.Status != tt.status || len(body.Checks) != len(tt.checks) {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}
