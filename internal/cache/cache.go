// Package cache is the Redis-backed response cache for the search service.
// Identical requests within the TTL window get the previously assembled
// response; concurrent identical misses are collapsed into one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/searchplatform/search-reduce/internal/search"
	"github.com/searchplatform/search-reduce/pkg/config"
	"github.com/searchplatform/search-reduce/pkg/metrics"
	pkgredis "github.com/searchplatform/search-reduce/pkg/redis"
)

const keyPrefix = "search:"

// ResponseCache caches assembled search responses keyed by a digest of the
// normalized request. A nil client disables caching; every lookup computes.
type ResponseCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the cache; client and m may both be nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *ResponseCache {
	return &ResponseCache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "response-cache"),
	}
}

// GetOrCompute returns the cached response for req or computes, stores, and
// returns a fresh one. The second return value reports whether the response
// came from cache. Scroll continuations bypass the cache entirely.
func (c *ResponseCache) GetOrCompute(ctx context.Context, req *search.Request, computeFn func() (*search.Response, error)) (*search.Response, bool, error) {
	if c.client == nil || req.Scroll {
		resp, err := computeFn()
		return resp, false, err
	}
	key := buildKey(req)
	if resp, ok := c.get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.get(ctx, key); ok {
			return resp, nil
		}
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*search.Response), false, nil
}

// Invalidate drops every cached response, e.g. after a reindex.
func (c *ResponseCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating response cache: %w", err)
	}
	c.logger.Info("response cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *ResponseCache) get(ctx context.Context, key string) (*search.Response, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp search.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	return &resp, true
}

func (c *ResponseCache) set(ctx context.Context, key string, resp *search.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *ResponseCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *ResponseCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey digests the normalized request. Term order inside the query string
// does not change the result set, so terms are sorted before hashing; the
// rest of the request shape is canonical through its JSON encoding.
func buildKey(req *search.Request) string {
	normalized := *req
	terms := strings.Fields(strings.ToLower(req.Query))
	sort.Strings(terms)
	normalized.Query = strings.Join(terms, " ")
	raw, _ := json.Marshal(&normalized)
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
