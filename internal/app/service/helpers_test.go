package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pslib/urlshortener/config"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	infraSQLite "github.com/pslib/urlshortener/internal/infra/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := infraSQLite.Open(config.SQLiteConfig{
		Path: fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name),
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
	return db
}

type testStack struct {
	db       *gorm.DB
	links    repository.LinkRepository
	reserved repository.ReservedCodeRepository
	cache    *memoryCache
	service  LinkService
	resolver *Resolver
	recorder *HitRecorder
	clock    *fakeClock
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := newTestDB(t)
	links := repository.NewLinkRepository(db)
	reserved := repository.NewReservedCodeRepository(db)
	cache := newMemoryCache()
	clock := &fakeClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}

	recorder := NewHitRecorder(links, nil)
	recorder.now = clock.Now

	return &testStack{
		db:       db,
		links:    links,
		reserved: reserved,
		cache:    cache,
		service: NewLinkService(LinkServiceDeps{
			Links:    links,
			Owners:   repository.NewOwnerRepository(db),
			Reserved: reserved,
			Cache:    cache,
			Now:      clock.Now,
		}),
		resolver: NewResolver(links, cache, nil),
		recorder: recorder,
		clock:    clock,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryCache is an in-process ResolveCache keyed like the Redis one.
type memoryCache struct {
	mu          sync.Mutex
	entries     map[string]map[string]model.CachedTarget
	gens        map[string]int64
	invalidated []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: map[string]map[string]model.CachedTarget{},
		gens:    map[string]int64{},
	}
}

func (c *memoryCache) Get(_ context.Context, code, origin string) (*model.CachedTarget, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[code][origin]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *memoryCache) Generation(_ context.Context, code string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[code], nil
}

func (c *memoryCache) Set(_ context.Context, code, origin string, gen int64, entry model.CachedTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[code] != gen {
		return nil
	}
	if c.entries[code] == nil {
		c.entries[code] = map[string]model.CachedTarget{}
	}
	c.entries[code][origin] = entry
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, codes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		delete(c.entries, code)
		c.gens[code]++
	}
	c.invalidated = append(c.invalidated, codes...)
	return nil
}

func (c *memoryCache) has(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[code]) > 0
}

// mockLinkRepository lets a test stub only the calls it cares about.
type mockLinkRepository struct {
	createFn         func(ctx context.Context, link *model.Link) error
	getFn            func(ctx context.Context, id int64) (*model.Link, error)
	findCandidatesFn func(ctx context.Context, code, host, origin string) ([]model.Link, error)
	codeInUseFn      func(ctx context.Context, domainKey, code string, excludeID int64) (bool, error)
	updateFn         func(ctx context.Context, link *model.Link, expectedVersion int64) error
	recordHitFn      func(ctx context.Context, hit *model.LinkHit, countClick bool) error
	purgeFn          func(ctx context.Context, before time.Time) ([]model.Link, error)
	liveKeysFn       func(ctx context.Context, fn func(domainKey, code string)) error
}

func (m *mockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return nil
}

func (m *mockLinkRepository) GetByID(ctx context.Context, id int64) (*model.Link, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) FindCandidates(ctx context.Context, code, host, origin string) ([]model.Link, error) {
	if m.findCandidatesFn != nil {
		return m.findCandidatesFn(ctx, code, host, origin)
	}
	return nil, nil
}

func (m *mockLinkRepository) CodeInUse(ctx context.Context, domainKey, code string, excludeID int64) (bool, error) {
	if m.codeInUseFn != nil {
		return m.codeInUseFn(ctx, domainKey, code, excludeID)
	}
	return false, nil
}

func (m *mockLinkRepository) Update(ctx context.Context, link *model.Link, expectedVersion int64) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, link, expectedVersion)
	}
	return nil
}

func (m *mockLinkRepository) SoftDelete(context.Context, int64, time.Time) (bool, error) {
	return false, nil
}

func (m *mockLinkRepository) Restore(context.Context, int64) (bool, error) {
	return false, nil
}

func (m *mockLinkRepository) HardDelete(context.Context, int64) error {
	return nil
}

func (m *mockLinkRepository) PurgeDeleted(ctx context.Context, before time.Time) ([]model.Link, error) {
	if m.purgeFn != nil {
		return m.purgeFn(ctx, before)
	}
	return nil, nil
}

func (m *mockLinkRepository) RecordHit(ctx context.Context, hit *model.LinkHit, countClick bool) error {
	if m.recordHitFn != nil {
		return m.recordHitFn(ctx, hit, countClick)
	}
	return nil
}

func (m *mockLinkRepository) List(context.Context, repository.LinkFilter) ([]model.Link, int64, error) {
	return nil, 0, nil
}

func (m *mockLinkRepository) ListHits(context.Context, int64, int, int) ([]model.LinkHit, int64, error) {
	return nil, 0, nil
}

func (m *mockLinkRepository) ForEachLiveKey(ctx context.Context, fn func(domainKey, code string)) error {
	if m.liveKeysFn != nil {
		return m.liveKeysFn(ctx, fn)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
