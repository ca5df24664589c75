package handler

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/service"
	"github.com/pslib/urlshortener/internal/http/view"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

const defaultResolveTimeout = 2 * time.Second

var redirectCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// LinkResolver picks the link that answers a redirect.
type LinkResolver interface {
	Resolve(ctx context.Context, scheme, host, code string, now time.Time) (*model.Link, error)
}

// RedirectDeps groups dependencies required by redirect handlers.
type RedirectDeps struct {
	Logger         *zap.Logger
	Resolver       LinkResolver
	Hits           service.HitSink
	Bots           *service.BotDetector
	ResolveTimeout time.Duration
	Now            func() time.Time
}

// RedirectHandler serves GET /:code.
type RedirectHandler struct {
	logger         *zap.Logger
	resolver       LinkResolver
	hits           service.HitSink
	bots           *service.BotDetector
	resolveTimeout time.Duration
	now            func() time.Time
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	bots := deps.Bots
	if bots == nil {
		bots = service.NewBotDetector(nil)
	}
	return &RedirectHandler{
		logger:         logger,
		resolver:       deps.Resolver,
		hits:           deps.Hits,
		bots:           bots,
		resolveTimeout: timeout,
		now:            now,
	}
}

// Register wires the redirect route. It matches any single path segment, so
// it must be registered after every other route.
func (h *RedirectHandler) Register(router fiber.Router) {
	router.Get("/:code", h.Redirect)
}

// Redirect answers 302 to the resolved target, carrying the request's query
// string along, or 404 when nothing qualifies. Store failures and timeouts
// also end in 404; the visitor cannot tell them apart from a missing link.
func (h *RedirectHandler) Redirect(c *fiber.Ctx) error {
	code := c.Params("code")
	if !redirectCodePattern.MatchString(code) {
		metrics.RedirectsTotal.WithLabelValues("invalid_code").Inc()
		return h.notFound(c, "")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.resolveTimeout)
	defer cancel()

	now := h.now()
	link, err := h.resolver.Resolve(ctx, c.Protocol(), c.Hostname(), code, now)
	if err != nil {
		metrics.RedirectsTotal.WithLabelValues("error").Inc()
		h.logger.Error("failed to resolve link",
			zap.String("code", code),
			zap.String("host", c.Hostname()),
			zap.Error(err))
		return h.notFound(c, code)
	}
	if link == nil {
		metrics.RedirectsTotal.WithLabelValues("not_found").Inc()
		return h.notFound(c, code)
	}

	if h.hits != nil {
		// Request buffers are reused after the handler returns.
		userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))
		h.hits.Submit(service.HitInput{
			LinkID:    link.ID,
			Referer:   strings.Clone(c.Get(fiber.HeaderReferer)),
			UserAgent: userAgent,
			RemoteIP:  strings.Clone(c.IP()),
			IsBot:     h.bots.IsBot(userAgent),
			At:        now,
		})
	}

	metrics.RedirectsTotal.WithLabelValues("redirected").Inc()
	target := appendQuery(link.TargetURL, string(c.Request().URI().QueryString()))
	h.logger.Debug("redirecting short link", zap.String("code", code), zap.Int64("link_id", link.ID), zap.String("target", target))
	return c.Redirect(target, fiber.StatusFound)
}

// notFound answers 404. Browsers get a small HTML page, everyone else an
// empty body.
func (h *RedirectHandler) notFound(c *fiber.Ctx, code string) error {
	c.Status(fiber.StatusNotFound)
	if code == "" || !strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML) {
		return nil
	}
	page, err := view.RenderNotFoundPage(view.NotFoundPageData{Host: c.Hostname(), Code: code})
	if err != nil {
		h.logger.Warn("failed to render not found page", zap.Error(err))
		return nil
	}
	c.Type("html", "utf-8")
	return c.SendString(page)
}

// appendQuery adds query to target with '&' when target already has a query
// and '?' otherwise, keeping any fragment last.
func appendQuery(target, query string) string {
	if query == "" {
		return target
	}
	base, fragment, hasFragment := strings.Cut(target, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	out := base + sep + query
	if hasFragment {
		out += "#" + fragment
	}
	return out
}
