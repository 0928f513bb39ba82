// Package indicatorcache implements the TTL'd per-symbol analysis cache
// (C11) that short-circuits the indicator pipeline and signal synthesizer
// within TTL.
package indicatorcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"scalping-engine/internal/model"
)

type entry struct {
	Snapshot   model.IndicatorSnapshot
	Signal     model.Signal
	ComputedAt time.Time
}

// Cache is a map[symbol] -> (snapshot, signal, computedAt) guarded by a
// single RW lock, optionally mirrored into Redis for cross-process sharing.
// The in-memory map is always authoritative; Redis is a write-through,
// best-effort sink per spec §6.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	redisClient *redis.Client
	redisMu     sync.Mutex
	redisOK     bool
	logger      zerolog.Logger
}

// New creates a Cache with the given TTL. redisClient may be nil to run
// purely in-memory.
func New(ttl time.Duration, redisClient *redis.Client, logger zerolog.Logger) *Cache {
	c := &Cache{
		entries:     make(map[string]entry),
		ttl:         ttl,
		redisClient: redisClient,
		logger:      logger.With().Str("component", "indicatorcache.Cache").Logger(),
	}
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.redisOK = redisClient.Ping(ctx).Err() == nil
	}
	return c
}

// Lookup returns the cached snapshot/signal for symbol if computed within
// TTL, else ok is false.
func (c *Cache) Lookup(symbol string) (model.IndicatorSnapshot, model.Signal, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || time.Since(e.ComputedAt) >= c.ttl {
		return model.IndicatorSnapshot{}, model.Signal{}, false
	}
	return e.Snapshot, e.Signal, true
}

// Store writes symbol's computed snapshot/signal atomically and mirrors it
// to Redis best-effort.
func (c *Cache) Store(symbol string, snap model.IndicatorSnapshot, sig model.Signal) {
	e := entry{Snapshot: snap, Signal: sig, ComputedAt: time.Now()}

	c.mu.Lock()
	c.entries[symbol] = e
	c.mu.Unlock()

	c.redisMu.Lock()
	redisOK := c.redisOK
	c.redisMu.Unlock()
	if c.redisClient != nil && redisOK {
		go c.mirrorToRedis(symbol, e)
	}
}

func (c *Cache) mirrorToRedis(symbol string, e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redisClient.Set(ctx, "indicators:"+symbol, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to mirror indicator cache entry to redis")
		c.redisMu.Lock()
		c.redisOK = false
		c.redisMu.Unlock()
	}
}

// Clear invalidates every cached entry explicitly.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}
