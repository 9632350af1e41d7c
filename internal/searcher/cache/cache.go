// Package cache memoises search responses in Redis. Identical concurrent
// queries are collapsed to one execution with singleflight, and the whole
// cache is flushed when the corpus changes, since any re-index can alter the
// statistics every cached score depends on.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/buscadoc/buscadoc/pkg/metrics"
	pkgredis "github.com/buscadoc/buscadoc/pkg/redis"

	"github.com/buscadoc/buscadoc/internal/searcher/executor"
)

const keyPrefix = "search:q:"

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// QueryCache wraps search execution with a Redis read-through cache. A nil
// Redis client disables caching; every call then computes directly.
type QueryCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query_cache"),
	}
}

// GetOrCompute returns the cached response for (query, limit) or runs
// compute once, caching its result. The bool reports whether the response
// came from cache. Debug searches bypass the cache entirely so traces are
// always fresh.
func (c *QueryCache) GetOrCompute(ctx context.Context, query string, limit int, debug bool, compute func(context.Context) (*executor.Response, error)) (*executor.Response, bool, error) {
	if c.client == nil || debug {
		resp, err := compute(ctx)
		return resp, false, err
	}

	key := cacheKey(query, limit)
	if resp, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
		}
		return resp, true, nil
	}
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*executor.Response), false, nil
}

// Invalidate drops every cached search response, returning how many entries
// were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("flushing query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "entries", deleted)
	return deleted, nil
}

// Stats returns hit/miss counters since process start.
func (c *QueryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *QueryCache) lookup(ctx context.Context, key string) (*executor.Response, bool) {
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	var resp executor.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.logger.Warn("cache entry corrupt, discarding", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

// store is best-effort: a failed write degrades to uncached behaviour.
func (c *QueryCache) store(ctx context.Context, key string, resp *executor.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("cache marshal failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
}

func cacheKey(query string, limit int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, limit)))
	return keyPrefix + hex.EncodeToString(sum[:])
}
