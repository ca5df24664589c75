package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/redis/go-redis/v9"
)

const (
	resolveKeyPrefix    = "resolve:"
	resolveGenKeyPrefix = "resolve:gen:"
)

// ResolveCache stores resolver decisions in a Redis hash per code, one field
// per request origin, so a write to a code drops every origin at once.
//
// A counter per code guards writes: Invalidate bumps it, and Set only lands
// when the counter still holds the value the resolver read before it went to
// the database. A resolve that raced a delete cannot resurrect the old target.
type ResolveCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	genTTL time.Duration
}

// NewResolveCache returns a Redis-backed cache. A zero ttl defaults to ten minutes.
func NewResolveCache(rdb *redis.Client, ttl time.Duration) *ResolveCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	genTTL := 10 * ttl
	if genTTL < 24*time.Hour {
		genTTL = 24 * time.Hour
	}
	return &ResolveCache{rdb: rdb, ttl: ttl, genTTL: genTTL}
}

func resolveKey(code string) string {
	return resolveKeyPrefix + code
}

func resolveGenKey(code string) string {
	return resolveGenKeyPrefix + code
}

// Get returns the cached decision for (code, origin), or false on a miss.
func (c *ResolveCache) Get(ctx context.Context, code, origin string) (*model.CachedTarget, bool, error) {
	raw, err := c.rdb.HGet(ctx, resolveKey(code), origin).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve cache get: %w", err)
	}

	var entry model.CachedTarget
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Unreadable entries are dropped rather than served.
		_ = c.rdb.HDel(ctx, resolveKey(code), origin).Err()
		return nil, false, nil
	}
	return &entry, true, nil
}

// Generation returns the current invalidation counter of code. A code that
// was never invalidated is at zero.
func (c *ResolveCache) Generation(ctx context.Context, code string) (int64, error) {
	gen, err := c.rdb.Get(ctx, resolveGenKey(code)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("resolve cache generation: %w", err)
	}
	return gen, nil
}

// Set stores entry unless code was invalidated after gen was read. A skipped
// write is not an error.
func (c *ResolveCache) Set(ctx context.Context, code, origin string, gen int64, entry model.CachedTarget) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("resolve cache encode: %w", err)
	}

	key, genKey := resolveKey(code), resolveGenKey(code)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, origin, data)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve cache set: %w", err)
	}
	return nil
}

// Invalidate drops every cached origin for the given codes and bumps their
// generations so in-flight resolves cannot write back.
func (c *ResolveCache) Invalidate(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	pipe := c.rdb.TxPipeline()
	for i, code := range codes {
		keys[i] = resolveKey(code)
		pipe.Incr(ctx, resolveGenKey(code))
		pipe.Expire(ctx, resolveGenKey(code), c.genTTL)
	}
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("resolve cache invalidate: %w", err)
	}
	return nil
}
