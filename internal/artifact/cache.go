package artifact

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxCachedBytes = 4 << 20
	fetchTimeout          = 30 * time.Second
)

// RedisCache wraps a Store with a Redis read-through cache.
// Concurrent misses for the same reference are collapsed into a single backend read.
type RedisCache struct {
	store    Store
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	maxBytes int
	group    singleflight.Group
	logger   *zap.Logger
}

// NewRedisCache creates a new Redis-cached artifact store decorator.
func NewRedisCache(store Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		store:    store,
		client:   client,
		prefix:   "artifact:",
		ttl:      ttl,
		maxBytes: defaultMaxCachedBytes,
		logger:   logger,
	}
}

// Save stores the artifact in the underlying store. Nothing is cached until the first read.
func (c *RedisCache) Save(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	return c.store.Save(ctx, r, suggestedName)
}

// Retrieve returns the artifact, checking the cache first.
func (c *RedisCache) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+ref).Bytes()
	if err == nil {
		return data, nil
	}

	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("artifact cache read failed", zap.String("artifact_ref", ref), zap.Error(err))
	}

	// The shared read outlives any one caller; a caller that gives up only stops waiting.
	ch := c.group.DoChan(ref, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		data, err := c.store.Retrieve(fetchCtx, ref)
		if err != nil {
			return nil, err
		}

		c.fill(fetchCtx, ref, data)

		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.([]byte), nil
	}
}

// Delete removes the artifact from the underlying store and evicts it.
func (c *RedisCache) Delete(ctx context.Context, ref string) error {
	if err := c.store.Delete(ctx, ref); err != nil {
		return err
	}

	if err := c.client.Del(ctx, c.prefix+ref).Err(); err != nil {
		c.logger.Warn("artifact cache evict failed", zap.String("artifact_ref", ref), zap.Error(err))
	}

	return nil
}

// Ping checks the underlying store when it supports it.
func (c *RedisCache) Ping(ctx context.Context) error {
	if p, ok := c.store.(Pinger); ok {
		return p.Ping(ctx)
	}

	return nil
}

func (c *RedisCache) fill(ctx context.Context, ref string, data []byte) {
	if len(data) > c.maxBytes {
		return
	}

	if err := c.client.Set(ctx, c.prefix+ref, data, c.ttl).Err(); err != nil {
		c.logger.Warn("artifact cache fill failed", zap.String("artifact_ref", ref), zap.Error(err))
	}
}

// Shutdown is a no-op for RedisCache (client managed externally).
func (c *RedisCache) Shutdown() error {
	return nil
}

// Compile-time check.
var _ Store = (*RedisCache)(nil)
