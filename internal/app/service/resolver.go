package service

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ResolveCache is an optional read-through store of resolver decisions.
//
// Every code carries a generation that Invalidate bumps. A resolver reads the
// generation before it queries the store and passes it back to Set, which
// must drop the write when the generation has moved on meanwhile.
type ResolveCache interface {
	Get(ctx context.Context, code, origin string) (*model.CachedTarget, bool, error)
	Generation(ctx context.Context, code string) (int64, error)
	Set(ctx context.Context, code, origin string, gen int64, entry model.CachedTarget) error
	Invalidate(ctx context.Context, codes ...string) error
}

// Resolver picks the single link that answers a redirect request.
type Resolver struct {
	links  repository.LinkRepository
	cache  ResolveCache
	logger *zap.Logger
}

// NewResolver returns a resolver. cache may be nil.
func NewResolver(links repository.LinkRepository, cache ResolveCache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{links: links, cache: cache, logger: logger}
}

// Resolve returns the link serving code on scheme://host at now, or nil when
// none qualifies. Missing, disabled, expired and deleted links all look the
// same to the caller.
//
// Candidates are links whose domain is empty, equal to host, or equal to the
// request origin. Domain-bound links beat domain-less ones, newer beats
// older, and the first enabled, non-deleted link whose [from, to) window
// contains now wins. A cached link carries only ID, Code and TargetURL plus
// its window.
func (r *Resolver) Resolve(ctx context.Context, scheme, host, code string, now time.Time) (*model.Link, error) {
	host = normalizeHost(host)
	origin := strings.ToLower(scheme) + "://" + host

	if link, ok := r.fromCache(ctx, code, origin, now); ok {
		return link, nil
	}
	gen, cacheable := r.generation(ctx, code)

	start := time.Now()
	candidates, err := r.links.FindCandidates(ctx, code, host, origin)
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}

	chosen, notAfter := pick(candidates, now)
	if chosen == nil {
		return nil, nil
	}

	if cacheable {
		r.store(ctx, code, origin, gen, chosen, notAfter)
	}
	return chosen, nil
}

// pick walks candidates in precedence order. notAfter is the earliest moment
// a higher-precedence candidate will start, after which the choice must be
// made again.
func pick(candidates []model.Link, now time.Time) (*model.Link, *time.Time) {
	var notAfter *time.Time
	for i := range candidates {
		c := &candidates[i]
		if c.Live(now) {
			return c, notAfter
		}
		if c.IsEnabled && !c.IsDeleted() && c.ActiveFromUTC != nil && now.Before(*c.ActiveFromUTC) {
			if notAfter == nil || c.ActiveFromUTC.Before(*notAfter) {
				from := *c.ActiveFromUTC
				notAfter = &from
			}
		}
	}
	return nil, nil
}

func (r *Resolver) fromCache(ctx context.Context, code, origin string, now time.Time) (*model.Link, bool) {
	if r.cache == nil {
		return nil, false
	}

	entry, ok, err := r.cache.Get(ctx, code, origin)
	switch {
	case err != nil:
		metrics.ResolveCacheTotal.WithLabelValues("error").Inc()
		r.logger.Warn("resolve cache read failed", zap.String("code", code), zap.Error(err))
		return nil, false
	case !ok:
		metrics.ResolveCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	case !entry.ValidAt(now):
		metrics.ResolveCacheTotal.WithLabelValues("stale").Inc()
		return nil, false
	}

	metrics.ResolveCacheTotal.WithLabelValues("hit").Inc()
	return &model.Link{
		ID:            entry.LinkID,
		Code:          entry.Code,
		TargetURL:     entry.TargetURL,
		IsEnabled:     true,
		ActiveFromUTC: entry.ActiveFromUTC,
		ActiveToUTC:   entry.ActiveToUTC,
	}, true
}

// generation snapshots the cache generation of code ahead of a store read.
// A decision is only cacheable when the snapshot succeeded.
func (r *Resolver) generation(ctx context.Context, code string) (int64, bool) {
	if r.cache == nil {
		return 0, false
	}
	gen, err := r.cache.Generation(ctx, code)
	if err != nil {
		metrics.ResolveCacheTotal.WithLabelValues("error").Inc()
		r.logger.Warn("resolve cache generation read failed", zap.String("code", code), zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (r *Resolver) store(ctx context.Context, code, origin string, gen int64, link *model.Link, notAfter *time.Time) {
	entry := model.CachedTarget{
		LinkID:        link.ID,
		Code:          link.Code,
		TargetURL:     link.TargetURL,
		ActiveFromUTC: link.ActiveFromUTC,
		ActiveToUTC:   link.ActiveToUTC,
		NotAfter:      notAfter,
	}
	if err := r.cache.Set(ctx, code, origin, gen, entry); err != nil {
		r.logger.Warn("resolve cache write failed", zap.String("code", code), zap.Int64("link_id", link.ID), zap.Error(err))
	}
}

// normalizeHost lower-cases host and drops any port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
