// Package cache provides the two-tier key/value cache used for hot lookups
// beside the contact store and the queue. A network-shared Redis tier is
// attempted first; on any error the call transparently falls back to an
// in-process tier, and the failure is never surfaced to the caller.
//
// The cache is never the system of record: every value stored here must be
// reconstructible from the database, so losing an entry costs a lookup, not
// correctness.
package cache

import (
	"context"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
)

// Cache is a process-wide two-tier store. Construct one at startup and thread
// it through constructors; Close releases the shared-tier connection.
type Cache struct {
	shared *redis.Client // nil when no shared tier is configured
	local  *gocache.Cache
	ttl    time.Duration
}

// New builds a Cache from configuration. An empty RedisAddr disables the
// shared tier entirely; the local tier always exists.
func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		local: gocache.New(cfg.DefaultTTL, 10*time.Minute),
		ttl:   cfg.DefaultTTL,
	}
	if cfg.RedisAddr != "" {
		c.shared = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

// Close releases the shared-tier connection, if any.
func (c *Cache) Close() error {
	if c.shared != nil {
		return c.shared.Close()
	}
	return nil
}

// Get returns the cached value for key, trying the shared tier first and
// falling back to the local tier. The second return reports presence.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.shared != nil {
		val, err := c.shared.Get(ctx, key).Bytes()
		if err == nil {
			return val, true
		}
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: shared tier get failed, using local")
		}
	}
	if v, ok := c.local.Get(key); ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}
	return nil, false
}

// Set stores the value under key in both tiers. The local write always
// happens; the shared-tier write is best-effort. A non-positive ttl uses the
// configured default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.local.Set(key, value, ttl)
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: shared tier set failed")
		}
	}
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.shared != nil {
		if err := c.shared.Del(ctx, key).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("cache: shared tier delete failed")
		}
	}
}

// InvalidatePattern removes every key matching the glob pattern (supporting
// '*' and '?') from both tiers and returns how many local entries were
// dropped. The local tier has no native pattern query, so its keys are listed
// and matched against the translated regular expression.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	re, err := globToRegexp(pattern)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("cache: invalid pattern")
		return 0
	}

	count := 0
	for key := range c.local.Items() {
		if re.MatchString(key) {
			c.local.Delete(key)
			count++
		}
	}

	if c.shared != nil {
		iter := c.shared.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.shared.Del(ctx, iter.Val()).Err(); err != nil {
				log.Debug().Err(err).Msg("cache: shared tier delete failed during invalidation")
			}
		}
		if err := iter.Err(); err != nil {
			log.Debug().Err(err).Str("pattern", pattern).Msg("cache: shared tier scan failed")
		}
	}
	return count
}

// GetOrCompute returns the cached value for key or, on a miss in both tiers,
// runs fn, stores its result, and returns it. Errors from fn are returned
// untouched and nothing is cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}

// globToRegexp translates a Redis-style glob ('*', '?') into an anchored
// regular expression for matching local keys.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
