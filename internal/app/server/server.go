package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/pslib/urlshortener/internal/app/service"
	inthttp "github.com/pslib/urlshortener/internal/http/handler"
	"github.com/pslib/urlshortener/internal/http/middleware"
	httpUtil "github.com/pslib/urlshortener/internal/http/util"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs. Redis is optional; without
// it the management API is not rate limited.
type Dependencies struct {
	Logger *zap.Logger
	Redis  *redis.Client

	Links    service.LinkService
	Reserved service.ReservedCodeService
	Owners   service.OwnerService
	Resolver inthttp.LinkResolver
	Hits     service.HitSink
	Bots     *service.BotDetector
	Signer   *httpUtil.TokenSigner

	HealthChecks map[string]inthttp.HealthCheck

	BaseURL        string
	ProxyHeader    string
	TrustedProxies []string
	CorsOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ResolveTimeout time.Duration
	RateLimit      *middleware.RateLimitConfig
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with every route registered.
//
// X-Forwarded-* headers and ProxyHeader are only honoured when the direct
// peer is listed in TrustedProxies. With no trusted proxies the scheme, host
// and client IP always come from the connection itself.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:                 "urlshortener",
		DisableStartupMessage:   true,
		ProxyHeader:             deps.ProxyHeader,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          deps.TrustedProxies,
		ReadTimeout:             deps.ReadTimeout,
		WriteTimeout:            deps.WriteTimeout,
		CaseSensitive:           true,
		StrictRouting:           false,
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	log := s.deps.Logger

	s.app.Use(middleware.Recovery(log))
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Logger(log))

	inthttp.NewHealthHandler(log, s.deps.HealthChecks).Register(s.app)

	if s.deps.Links != nil && s.deps.Signer != nil {
		api := s.app.Group("/api",
			middleware.CORS(s.deps.CorsOrigins),
			middleware.Authenticate(s.deps.Signer, log),
		)
		if s.deps.Redis != nil && s.deps.RateLimit != nil {
			api.Use(middleware.RateLimit(s.deps.Redis, *s.deps.RateLimit, log))
		}
		inthttp.NewAPIHandler(inthttp.APIDeps{
			Logger:      log,
			LinkService: s.deps.Links,
			Reserved:    s.deps.Reserved,
			Owners:      s.deps.Owners,
			BaseURL:     s.deps.BaseURL,
		}).Register(api)
	}

	// The redirect route matches any single segment; keep it last.
	inthttp.NewRedirectHandler(inthttp.RedirectDeps{
		Logger:         log,
		Resolver:       s.deps.Resolver,
		Hits:           s.deps.Hits,
		Bots:           s.deps.Bots,
		ResolveTimeout: s.deps.ResolveTimeout,
	}).Register(s.app)
}
