package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ledgerbot/internal/entities"
	"ledgerbot/internal/interfaces"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL           = 5 * time.Minute
	DefaultCacheRetryInterval = 60 * time.Second

	// versionTTL outlives any read that could still be holding a version.
	versionTTL = 24 * time.Hour
)

var errStaleFill = errors.New("cache entry invalidated since lookup")

// ConfigCacheKey is the Redis key of one chat's configuration snapshot.
func ConfigCacheKey(tenantID, chatID int64) string {
	return fmt.Sprintf("group_config:%d:%d", tenantID, chatID)
}

// versionKey counts the invalidations of key.
func versionKey(key string) string {
	return key + ":v"
}

// ConfigCache is a Redis read-through cache of configuration snapshots.
//
// Every invalidation bumps a per-key version. Get hands the current version
// to the caller and Fill only writes if it is unchanged, so a reader that
// loaded the store before a concurrent write cannot put its older snapshot
// back after that write's invalidation.
//
// When Redis fails the cache disables itself: every call is served as a miss
// and reconnection is attempted at most once per retry interval. Keys whose
// invalidation could not reach Redis are remembered and deleted before the
// cache is enabled again, so a stale snapshot is never served after a write.
type ConfigCache struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
	metrics       *Metrics
	now           func() time.Time

	mu         sync.Mutex
	disabled   bool
	disabledAt time.Time
	pending    map[string]struct{}
}

var _ interfaces.ConfigCache = (*ConfigCache)(nil)

func NewConfigCache(client *redis.Client, ttl, retryInterval time.Duration, logger *zap.Logger, metrics *Metrics) *ConfigCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if retryInterval <= 0 {
		retryInterval = DefaultCacheRetryInterval
	}
	return &ConfigCache{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
		pending:       make(map[string]struct{}),
	}
}

// NewRedisClient connects to addr. A failed ping is logged; the cache starts
// and recovers on its own once Redis is reachable.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Degraded reports whether the cache is currently bypassed.
func (c *ConfigCache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Get returns the cached snapshot and the entry's version. The version is
// negative when Redis is not available; Fill ignores such versions.
func (c *ConfigCache) Get(ctx context.Context, tenantID, chatID int64) (entities.ConfigSnapshot, int64, bool) {
	var snap entities.ConfigSnapshot
	if !c.available(ctx) {
		return snap, -1, false
	}

	key := ConfigCacheKey(tenantID, chatID)
	vals, err := c.client.MGet(ctx, key, versionKey(key)).Result()
	if err != nil {
		c.markDown(err)
		return snap, -1, false
	}
	version, err := parseVersion(vals[1])
	if err != nil {
		c.logger.Warn("discarding undecodable cache version", zap.String("key", key), zap.Error(err))
		return snap, -1, false
	}
	data, ok := vals[0].(string)
	if !ok {
		return snap, version, false
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return snap, version, false
	}
	return snap, version, true
}

func parseVersion(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unexpected version type %T", v)
}

// Fill stores snap if the entry is still at version. Decimals are encoded as
// strings and times as RFC 3339 with nanoseconds, so a round trip is lossless.
func (c *ConfigCache) Fill(ctx context.Context, tenantID, chatID int64, version int64, snap entities.ConfigSnapshot) {
	if version < 0 || !c.available(ctx) {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("failed to encode config snapshot", zap.Error(err))
		return
	}

	key := ConfigCacheKey(tenantID, chatID)
	vkey := versionKey(key)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, vkey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("dropped stale cache fill", zap.String("key", key))
	default:
		c.markDown(err)
	}
}

func (c *ConfigCache) Invalidate(ctx context.Context, tenantID, chatID int64) {
	key := ConfigCacheKey(tenantID, chatID)
	if !c.available(ctx) {
		c.remember(key)
		return
	}
	if err := c.invalidate(ctx, key); err != nil {
		c.remember(key)
		c.markDown(err)
	}
}

// invalidate bumps the version of each key and drops its snapshot in one
// transaction.
func (c *ConfigCache) invalidate(ctx context.Context, keys ...string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			vkey := versionKey(key)
			pipe.Incr(ctx, vkey)
			pipe.Expire(ctx, vkey, versionTTL)
			pipe.Del(ctx, key)
		}
		return nil
	})
	return err
}

func (c *ConfigCache) remember(key string) {
	c.mu.Lock()
	c.pending[key] = struct{}{}
	c.mu.Unlock()
}

func (c *ConfigCache) markDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}
	c.disabled = true
	c.disabledAt = c.now()
	c.metrics.SetCacheDegraded(true)
	c.logger.Warn("config cache unavailable, falling back to store",
		zap.Duration("retry_in", c.retryInterval), zap.Error(err))
}

// available reports whether Redis may be used. While disabled, one caller per
// retry interval pings Redis and replays pending invalidations.
func (c *ConfigCache) available(ctx context.Context) bool {
	c.mu.Lock()
	if !c.disabled {
		c.mu.Unlock()
		return true
	}
	if c.now().Sub(c.disabledAt) < c.retryInterval {
		c.mu.Unlock()
		return false
	}
	// Claim this attempt; concurrent callers keep seeing a disabled cache.
	c.disabledAt = c.now()
	c.mu.Unlock()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Debug("config cache still unavailable", zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		keys := make([]string, 0, len(c.pending))
		for k := range c.pending {
			keys = append(keys, k)
		}
		if err := c.invalidate(ctx, keys...); err != nil {
			c.disabledAt = c.now()
			c.logger.Warn("failed to replay cache invalidations", zap.Int("keys", len(keys)), zap.Error(err))
			return false
		}
		c.pending = make(map[string]struct{})
	}
	c.disabled = false
	c.metrics.SetCacheDegraded(false)
	c.logger.Info("config cache recovered")
	return true
}
