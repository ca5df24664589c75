package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pslib/urlshortener/config"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	"github.com/pslib/urlshortener/internal/app/service"
	infraSQLite "github.com/pslib/urlshortener/internal/infra/sqlite"
	"gorm.io/gorm/logger"
)

// syncSink records hits inline so tests can assert on them right away.
type syncSink struct {
	t        *testing.T
	recorder *service.HitRecorder
}

func (s syncSink) Submit(in service.HitInput) {
	if err := s.recorder.Record(context.Background(), in); err != nil {
		s.t.Errorf("record hit: %v", err)
	}
}

type redirectStack struct {
	app     *fiber.App
	links   repository.LinkRepository
	service service.LinkService
}

func newRedirectStack(t *testing.T) *redirectStack {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := infraSQLite.Open(config.SQLiteConfig{
		Path: fmt.Sprintf("file:http_%s?mode=memory&cache=shared", name),
	}, logger.Discard)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(model.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	links := repository.NewLinkRepository(db)
	svc := service.NewLinkService(service.LinkServiceDeps{
		Links:    links,
		Owners:   repository.NewOwnerRepository(db),
		Reserved: repository.NewReservedCodeRepository(db),
	})

	app := fiber.New()
	NewRedirectHandler(RedirectDeps{
		Resolver: service.NewResolver(links, nil, nil),
		Hits:     syncSink{t: t, recorder: service.NewHitRecorder(links, nil)},
	}).Register(app)

	return &redirectStack{app: app, links: links, service: svc}
}

func TestRedirect_AppendsQueryAndRecordsHit(t *testing.T) {
	s := newRedirectStack(t)
	ctx := context.Background()

	link, err := s.service.CreateLink(ctx, service.Actor{Subject: "alice"}, service.CreateLinkInput{
		Code:      "promo1",
		TargetURL: "https://example.com/x",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodGet, "http://short.ly/promo1?a=1", nil)
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0")
	req.Header.Set(fiber.HeaderXForwardedProto, "https")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get(fiber.HeaderLocation); loc != "https://example.com/x?a=1" {
		t.Fatalf("unexpected location %q", loc)
	}

	got, err := s.links.GetByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Clicks != 1 || got.LastAccessAtUTC == nil {
		t.Fatalf("expected one click with an access time, got %d %v", got.Clicks, got.LastAccessAtUTC)
	}
	hits, total, err := s.links.ListHits(ctx, link.ID, 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("expected one hit row, got %d err %v", total, err)
	}
	if since := time.Since(hits[0].AtUTC); since < 0 || since > time.Minute {
		t.Fatalf("hit time %v is not close to now", hits[0].AtUTC)
	}
}

func TestRedirect_BotVisitIsNotCounted(t *testing.T) {
	s := newRedirectStack(t)
	ctx := context.Background()

	link, err := s.service.CreateLink(ctx, service.Actor{Subject: "alice"}, service.CreateLinkInput{
		Code:      "crawl",
		TargetURL: "https://example.com/c",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodGet, "http://short.ly/crawl", nil)
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("bots are still redirected, got %d", resp.StatusCode)
	}

	got, _ := s.links.GetByID(ctx, link.ID)
	if got.Clicks != 0 {
		t.Fatalf("bot visit must not count, got %d clicks", got.Clicks)
	}
	hits, total, _ := s.links.ListHits(ctx, link.ID, 10, 0)
	if total != 1 || !hits[0].IsBot {
		t.Fatalf("expected one hit row flagged as bot, got total=%d", total)
	}
}

func TestRedirect_NotFound(t *testing.T) {
	s := newRedirectStack(t)

	tests := []struct {
		name   string
		target string
	}{
		{"unknown code", "/nope"},
		{"code too long", "/" + strings.Repeat("a", 65)},
		{"illegal character", "/bad!code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.app.Test(httptest.NewRequest(fiber.MethodGet, tt.target, nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != fiber.StatusNotFound {
				t.Fatalf("expected 404, got %d", resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if len(body) != 0 {
				t.Fatalf("expected empty body, got %q", body)
			}
		})
	}
}

func TestRedirect_NotFoundPageForBrowsers(t *testing.T) {
	s := newRedirectStack(t)

	req := httptest.NewRequest(fiber.MethodGet, "http://short.ly/missing", nil)
	req.Header.Set(fiber.HeaderAccept, "text/html,application/xhtml+xml")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(ct, fiber.MIMETextHTML) {
		t.Fatalf("expected html, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "missing") {
		t.Fatalf("page should mention the code, got %q", body)
	}
}

type resolverFunc func(ctx context.Context, scheme, host, code string, now time.Time) (*model.Link, error)

func (f resolverFunc) Resolve(ctx context.Context, scheme, host, code string, now time.Time) (*model.Link, error) {
	return f(ctx, scheme, host, code, now)
}

func TestRedirect_ResolverFailureIsNotFound(t *testing.T) {
	app := fiber.New()
	NewRedirectHandler(RedirectDeps{
		Resolver: resolverFunc(func(context.Context, string, string, string, time.Time) (*model.Link, error) {
			return nil, errors.New("database is down")
		}),
	}).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/abc", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRedirect_PassesSchemeAndHost(t *testing.T) {
	var gotScheme, gotHost string
	app := fiber.New()
	NewRedirectHandler(RedirectDeps{
		Resolver: resolverFunc(func(_ context.Context, scheme, host, _ string, _ time.Time) (*model.Link, error) {
			gotScheme, gotHost = scheme, host
			return &model.Link{ID: 1, TargetURL: "https://e.com"}, nil
		}),
	}).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "http://go.example.com/abc", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if gotScheme != "http" || gotHost != "go.example.com" {
		t.Fatalf("unexpected scheme/host %q %q", gotScheme, gotHost)
	}
}

func TestAppendQuery(t *testing.T) {
	tests := []struct {
		target, query, want string
	}{
		{"https://e.com/x", "", "https://e.com/x"},
		{"https://e.com/x", "a=1", "https://e.com/x?a=1"},
		{"https://e.com/x?b=2", "a=1", "https://e.com/x?b=2&a=1"},
		{"https://e.com/x#top", "a=1", "https://e.com/x?a=1#top"},
		{"https://e.com/x?b=2#top", "a=1&c", "https://e.com/x?b=2&a=1&c#top"},
	}
	for _, tt := range tests {
		if got := appendQuery(tt.target, tt.query); got != tt.want {
			t.Errorf("appendQuery(%q, %q) = %q, want %q", tt.target, tt.query, got, tt.want)
		}
	}
}
