package handler

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	"github.com/pslib/urlshortener/internal/app/service"
	"github.com/pslib/urlshortener/internal/http/middleware"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	Reserved    service.ReservedCodeService
	Owners      service.OwnerService
	BaseURL     string
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	reserved    service.ReservedCodeService
	owners      service.OwnerService
	baseURL     string
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
		reserved:    deps.Reserved,
		owners:      deps.Owners,
		baseURL:     deps.BaseURL,
	}
}

// Register wires API routes onto the provided router. Authentication is the
// caller's job; every handler expects an actor on the context.
func (h *APIHandler) Register(api fiber.Router) {
	links := api.Group("/links")
	{
		links.Post("/", h.CreateLink)
		links.Get("/", h.ListLinks)
		links.Get("/:id<int>", h.GetLink)
		links.Put("/:id<int>", h.UpdateLink)
		links.Delete("/:id<int>", h.PurgeLink)
		links.Post("/:id<int>/delete", h.DeleteLink)
		links.Post("/:id<int>/restore", h.RestoreLink)
		links.Get("/:id<int>/hits", h.ListHits)
	}

	if h.reserved != nil {
		reserved := api.Group("/reserved-codes")
		{
			reserved.Get("/", h.ListReserved)
			reserved.Post("/", h.Reserve)
			reserved.Delete("/:code", h.Release)
		}
	}

	if h.owners != nil {
		api.Get("/owners", h.ListOwners)
	}
}

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	Domain        *string    `json:"domain,omitempty" validate:"omitempty,max=255"`
	Code          string     `json:"code,omitempty" validate:"omitempty,max=16"`
	TargetURL     string     `json:"target_url" validate:"required,max=2048,http_url"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
	ActiveFromUTC *time.Time `json:"active_from_utc,omitempty"`
	ActiveToUTC   *time.Time `json:"active_to_utc,omitempty"`
	Title         *string    `json:"title,omitempty" validate:"omitempty,max=256"`
	Note          *string    `json:"note,omitempty" validate:"omitempty,max=1024"`
}

// UpdateLinkRequest replaces every editable field; row_version must echo the
// value the client last read.
type UpdateLinkRequest struct {
	Domain        *string    `json:"domain,omitempty" validate:"omitempty,max=255"`
	Code          string     `json:"code,omitempty" validate:"omitempty,max=16"`
	TargetURL     string     `json:"target_url" validate:"required,max=2048,http_url"`
	IsEnabled     bool       `json:"is_enabled"`
	ActiveFromUTC *time.Time `json:"active_from_utc,omitempty"`
	ActiveToUTC   *time.Time `json:"active_to_utc,omitempty"`
	Title         *string    `json:"title,omitempty" validate:"omitempty,max=256"`
	Note          *string    `json:"note,omitempty" validate:"omitempty,max=1024"`
	RowVersion    int64      `json:"row_version" validate:"required,min=1"`
}

// LinkResponse is the API view of a link.
type LinkResponse struct {
	ID              int64      `json:"id"`
	Domain          *string    `json:"domain"`
	Code            string     `json:"code"`
	ShortURL        string     `json:"short_url"`
	TargetURL       string     `json:"target_url"`
	IsEnabled       bool       `json:"is_enabled"`
	ActiveFromUTC   *time.Time `json:"active_from_utc"`
	ActiveToUTC     *time.Time `json:"active_to_utc"`
	OwnerSub        string     `json:"owner_sub"`
	Title           *string    `json:"title"`
	Note            *string    `json:"note"`
	Clicks          int64      `json:"clicks"`
	LastAccessAtUTC *time.Time `json:"last_access_at_utc"`
	CreatedAtUTC    time.Time  `json:"created_at_utc"`
	DeletedAtUTC    *time.Time `json:"deleted_at_utc"`
	RowVersion      int64      `json:"row_version"`
}

type HitResponse struct {
	ID           int64     `json:"id"`
	AtUTC        time.Time `json:"at_utc"`
	Referer      *string   `json:"referer"`
	UserAgent    *string   `json:"user_agent"`
	RemoteIPHash string    `json:"remote_ip_hash,omitempty"`
	IsBot        bool      `json:"is_bot"`
}

func (h *APIHandler) linkResponse(c *fiber.Ctx, link *model.Link) LinkResponse {
	base := h.baseURL
	if base == "" {
		base = c.BaseURL()
	}
	return LinkResponse{
		ID:              link.ID,
		Domain:          link.Domain,
		Code:            link.Code,
		ShortURL:        service.BuildShortURL(link.Domain, link.Code, base),
		TargetURL:       link.TargetURL,
		IsEnabled:       link.IsEnabled,
		ActiveFromUTC:   link.ActiveFromUTC,
		ActiveToUTC:     link.ActiveToUTC,
		OwnerSub:        link.OwnerSub,
		Title:           link.Title,
		Note:            link.Note,
		Clicks:          link.Clicks,
		LastAccessAtUTC: link.LastAccessAtUTC,
		CreatedAtUTC:    link.CreatedAtUTC,
		DeletedAtUTC:    link.DeletedAtUTC,
		RowVersion:      link.RowVersion,
	}
}

func linkID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

// CreateLink handles POST /api/links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	var req CreateLinkRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.logger, "create link", err)
	}

	link, err := h.linkService.CreateLink(c.UserContext(), actor, service.CreateLinkInput{
		Domain:        req.Domain,
		Code:          req.Code,
		TargetURL:     req.TargetURL,
		IsEnabled:     req.IsEnabled,
		ActiveFromUTC: req.ActiveFromUTC,
		ActiveToUTC:   req.ActiveToUTC,
		Title:         req.Title,
		Note:          req.Note,
	})
	if err != nil {
		return writeError(c, h.logger, "create link", err)
	}

	return c.Status(fiber.StatusCreated).JSON(h.linkResponse(c, link))
}

// ListLinks handles GET /api/links
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}

	sort, _ := repository.ParseSortKey(c.Query("sort"))
	query := service.ListLinksQuery{
		Page:           c.QueryInt("page", 1),
		PageSize:       c.QueryInt("page_size", 0),
		Sort:           sort,
		Search:         c.Query("search"),
		Code:           c.Query("code"),
		Domain:         c.Query("domain"),
		Target:         c.Query("target"),
		Owner:          c.Query("owner"),
		OwnerName:      c.Query("owner_name"),
		IncludeDeleted: c.QueryBool("include_deleted", false),
		DeletedOnly:    c.QueryBool("deleted_only", false),
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return writeError(c, h.logger, "list links", &service.ValidationError{Field: "enabled", Message: "must be true or false"})
		}
		query.Enabled = &enabled
	}
	var err error
	if query.CreatedFrom, err = queryTime(c, "created_from"); err != nil {
		return writeError(c, h.logger, "list links", err)
	}
	if query.CreatedTo, err = queryTime(c, "created_to"); err != nil {
		return writeError(c, h.logger, "list links", err)
	}

	page, err := h.linkService.ListLinks(c.UserContext(), actor, query)
	if err != nil {
		return writeError(c, h.logger, "list links", err)
	}

	items := make([]LinkResponse, len(page.Items))
	for i := range page.Items {
		items[i] = h.linkResponse(c, &page.Items[i])
	}

	return c.JSON(fiber.Map{
		"links":     items,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
		"sort":      sort,
	})
}

func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &service.ValidationError{Field: key, Message: "must be an RFC 3339 timestamp"}
	}
	t = t.UTC()
	return &t, nil
}

// GetLink handles GET /api/links/:id
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	link, err := h.linkService.GetLink(c.UserContext(), actor, id)
	if err != nil {
		return writeError(c, h.logger, "get link", err)
	}
	return c.JSON(h.linkResponse(c, link))
}

// UpdateLink handles PUT /api/links/:id
func (h *APIHandler) UpdateLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	var req UpdateLinkRequest
	if err := bindJSON(c, &req); err != nil {
		return writeError(c, h.logger, "update link", err)
	}

	link, err := h.linkService.UpdateLink(c.UserContext(), actor, id, service.UpdateLinkInput{
		Domain:        req.Domain,
		Code:          req.Code,
		TargetURL:     req.TargetURL,
		IsEnabled:     req.IsEnabled,
		ActiveFromUTC: req.ActiveFromUTC,
		ActiveToUTC:   req.ActiveToUTC,
		Title:         req.Title,
		Note:          req.Note,
		RowVersion:    req.RowVersion,
	})
	if err != nil {
		return writeError(c, h.logger, "update link", err)
	}
	return c.JSON(h.linkResponse(c, link))
}

// DeleteLink handles POST /api/links/:id/delete (soft delete).
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	link, err := h.linkService.DeleteLink(c.UserContext(), actor, id)
	if err != nil {
		return writeError(c, h.logger, "delete link", err)
	}
	return c.JSON(h.linkResponse(c, link))
}

// RestoreLink handles POST /api/links/:id/restore
func (h *APIHandler) RestoreLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	link, err := h.linkService.RestoreLink(c.UserContext(), actor, id)
	if err != nil {
		return writeError(c, h.logger, "restore link", err)
	}
	return c.JSON(h.linkResponse(c, link))
}

// PurgeLink handles DELETE /api/links/:id (permanent, admin only).
func (h *APIHandler) PurgeLink(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	if err := h.linkService.PurgeLink(c.UserContext(), actor, id); err != nil {
		return writeError(c, h.logger, "purge link", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListHits handles GET /api/links/:id/hits
func (h *APIHandler) ListHits(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return actorMissing(c)
	}
	id, ok := linkID(c)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	page, err := h.linkService.ListHits(c.UserContext(), actor, id, c.QueryInt("page", 1), c.QueryInt("page_size", 0))
	if err != nil {
		return writeError(c, h.logger, "list hits", err)
	}

	items := make([]HitResponse, len(page.Items))
	for i, hit := range page.Items {
		items[i] = HitResponse{
			ID:        hit.ID,
			AtUTC:     hit.AtUTC,
			Referer:   hit.Referer,
			UserAgent: hit.UserAgent,
			IsBot:     hit.IsBot,
		}
		if len(hit.RemoteIPHash) > 0 {
			items[i].RemoteIPHash = hex.EncodeToString(hit.RemoteIPHash)
		}
	}

	return c.JSON(fiber.Map{
		"hits":      items,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

func actorMissing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
}
