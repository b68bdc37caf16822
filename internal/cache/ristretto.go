// Package cache memoizes analysis results so repeated checks of the same
// draft do not burn model calls. L1 is in-memory Ristretto; an optional
// Redis L2 lets results survive a daemon restart.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/repguard/internal/analysis"
	"github.com/repguard/internal/jsonx"
	"github.com/repguard/internal/media"
	"github.com/repguard/internal/provider"
)

// l2Prefix namespaces cache entries in a shared Redis instance.
const l2Prefix = "repguard:cache:"

// Config bounds the L1 tier. Zero values take the defaults.
type Config struct {
	MaxCostBytes int64
	TTL          time.Duration
}

// ResultCache is a two-tier cache for normalized analysis results.
type ResultCache struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Stats tracks hit behavior for the health endpoint.
type Stats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// NewResultCache creates the cache. redisClient may be nil, which disables
// the L2 tier.
func NewResultCache(cfg Config, redisClient *redis.Client, logger *zap.Logger) (*ResultCache, error) {
	if cfg.MaxCostBytes == 0 {
		cfg.MaxCostBytes = 32 << 20
	}
	if cfg.TTL == 0 {
		cfg.TTL = 15 * time.Minute
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10000,
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &ResultCache{
		l1:     l1,
		l2:     redisClient,
		ttl:    cfg.TTL,
		logger: logger.Named("cache"),
	}, nil
}

// Key derives the cache key for an analysis request. Provider kind and model
// are part of the key: the same text analyzed by a different model is a
// different result.
func Key(kind provider.Kind, model, text string, images []media.Image) string {
	h := sha256.New()
	io.WriteString(h, string(kind))
	h.Write([]byte{0})
	io.WriteString(h, model)
	h.Write([]byte{0})
	io.WriteString(h, text)
	for _, img := range images {
		h.Write([]byte{0})
		sum := sha256.Sum256(img.Data)
		h.Write(sum[:])
	}
	return "analysis:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached result. L2 hits are promoted to L1. A corrupt entry
// counts as a miss and is dropped.
func (c *ResultCache) Get(ctx context.Context, key string) (analysis.Result, bool) {
	if data, found := c.l1.Get(key); found {
		if res, ok := c.decode(key, data); ok {
			c.recordL1Hit()
			return res, true
		}
	}
	c.recordL1Miss()

	if c.l2 != nil {
		data, err := c.l2.Get(ctx, l2Prefix+key).Bytes()
		if err == nil && len(data) > 0 {
			if res, ok := c.decode(key, data); ok {
				c.recordL2Hit()
				c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)
				return res, true
			}
		}
		c.recordL2Miss()
	}

	return analysis.Result{}, false
}

// Put stores a result in L1 and, asynchronously, in L2. Cache write failures
// are logged and swallowed; the caller already has the result.
func (c *ResultCache) Put(ctx context.Context, key string, res analysis.Result) {
	data, err := jsonx.Marshal(res)
	if err != nil {
		c.logger.Warn("Failed to encode result for cache", zap.Error(err))
		return
	}

	c.l1.SetWithTTL(key, data, int64(len(data)), c.ttl)

	if c.l2 != nil {
		go func() {
			if err := c.l2.Set(context.WithoutCancel(ctx), l2Prefix+key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("Failed to write L2 cache", zap.Error(err))
			}
		}()
	}
}

// Invalidate drops a key from both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, key string) {
	c.l1.Del(key)
	if c.l2 != nil {
		if err := c.l2.Del(ctx, l2Prefix+key).Err(); err != nil {
			c.logger.Warn("Failed to delete L2 cache entry", zap.Error(err))
		}
	}
}

// Snapshot returns a copy of the hit counters.
func (c *ResultCache) Snapshot() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HitRate is L1 hits over total L1 lookups.
func (c *ResultCache) HitRate() float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	total := c.stats.L1Hits + c.stats.L1Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.L1Hits) / float64(total)
}

// Wait blocks until buffered L1 writes have been applied. Ristretto
// admits entries asynchronously; callers that need read-your-write
// visibility call this between Put and Get.
func (c *ResultCache) Wait() {
	c.l1.Wait()
}

// Close releases the L1 tier. The Redis client is owned by the caller.
func (c *ResultCache) Close() error {
	c.l1.Close()
	return nil
}

func (c *ResultCache) decode(key string, data []byte) (analysis.Result, bool) {
	var res analysis.Result
	if err := jsonx.Unmarshal(data, &res); err != nil {
		c.logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.l1.Del(key)
		return analysis.Result{}, false
	}
	return res, true
}

func (c *ResultCache) recordL1Hit() {
	c.statsMu.Lock()
	c.stats.L1Hits++
	c.statsMu.Unlock()
}

func (c *ResultCache) recordL1Miss() {
	c.statsMu.Lock()
	c.stats.L1Misses++
	c.statsMu.Unlock()
}

func (c *ResultCache) recordL2Hit() {
	c.statsMu.Lock()
	c.stats.L2Hits++
	c.statsMu.Unlock()
}

func (c *ResultCache) recordL2Miss() {
	c.statsMu.Lock()
	c.stats.L2Misses++
	c.statsMu.Unlock()
}
