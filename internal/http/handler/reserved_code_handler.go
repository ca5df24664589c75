package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/internal/http/middleware"
)

type ReserveCodeRequest struct {
	Code   string  `json:"code" validate:"required,max=32"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=256"`
}

type ReservedCodeResponse struct {
	Code         string    `json:"code"`
	Reason       *string   `json:"reason"`
	CreatedAtUTC time.Time `json:"created_at_utc"`
}

// ListReserved handles GET /api/reserved-codes
func (h *APIHandler) ListReserved(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	codes, err := h.reserved.ListReserved(c.UserContext(), actor)
	if err != nil {
		return writeError(c, h.logger, "list reserved codes", err)
	}

	items := make([]ReservedCodeResponse, len(codes))
	for i, rc := range codes {
		items[i] = ReservedCodeResponse{Code: rc.Code, Reason: rc.Reason, CreatedAtUTC: rc.CreatedAtUTC}
	}
	return c.JSON(fiber.Map{"codes": items})
}

// Reserve handles POST /api/reserved-codes
func (h *APIHandler) Reserve(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	var req ReserveCodeRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.logger, "reserve code", err)
	}

	rc, err := h.reserved.Reserve(c.UserContext(), actor, req.Code, req.Reason)
	if err != nil {
		return writeError(c, h.logger, "reserve code", err)
	}
	return c.Status(fiber.StatusCreated).JSON(ReservedCodeResponse{Code: rc.Code, Reason: rc.Reason, CreatedAtUTC: rc.CreatedAtUTC})
}

// Release handles DELETE /api/reserved-codes/:code
func (h *APIHandler) Release(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	if err := h.reserved.Release(c.UserContext(), actor, c.Params("code")); err != nil {
		return writeError(c, h.logger, "release code", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
