package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/internal/app/repository"
	"github.com/pslib/urlshortener/internal/app/service"
	"github.com/pslib/urlshortener/internal/http/middleware"
)

type OwnerResponse struct {
	Sub          string    `json:"sub"`
	DisplayName  *string   `json:"display_name"`
	Email        *string   `json:"email"`
	LiveLinks    int64     `json:"live_links"`
	UpdatedAtUTC time.Time `json:"updated_at_utc"`
}

// ListOwners handles GET /api/owners
func (h *APIHandler) ListOwners(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	sort, _ := repository.ParseOwnerSortKey(c.Query("sort"))
	page, err := h.owners.ListOwners(c.UserContext(), actor, service.ListOwnersQuery{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 0),
		Sort:     sort,
		Search:   c.Query("search"),
	})
	if err != nil {
		return writeError(c, h.logger, "list owners", err)
	}

	items := make([]OwnerResponse, len(page.Items))
	for i, o := range page.Items {
		items[i] = OwnerResponse{
			Sub:          o.Sub,
			DisplayName:  o.DisplayName,
			Email:        o.Email,
			LiveLinks:    o.LiveLinks,
			UpdatedAtUTC: o.UpdatedAtUTC,
		}
	}
	return c.JSON(fiber.Map{
		"owners":    items,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
		"sort":      sort,
	})
}
