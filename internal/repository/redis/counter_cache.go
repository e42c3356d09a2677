package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

const cacheCallTimeout = 5 * time.Second

// CounterCache exposes the atomic increment-and-expire primitives the rate
// limiter and brute-force guard coordinate through. Keys are fully formed by
// callers; absence of a counter means zero.
type CounterCache struct {
	client *client.RedisClient
}

func NewCounterCache(client *client.RedisClient) *CounterCache {
	return &CounterCache{client: client}
}

func (c *CounterCache) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get counter key: %w", err)
	}
	return val, true, nil
}

func (c *CounterCache) GetInt(ctx context.Context, key string) (int, error) {
	val, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		util.Error("Invalid counter format",
			zap.String("key", key),
			zap.String("value", val),
			zap.Error(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

func (c *CounterCache) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("Failed to increment counter",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

func (c *CounterCache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl); err != nil {
		util.Error("Failed to set counter key",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set counter key: %w", err)
	}
	return nil
}

func (c *CounterCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Expire(ctx, key, ttl); err != nil {
		util.Error("Failed to update counter TTL",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to update counter TTL: %w", err)
	}
	return nil
}

func (c *CounterCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete counter keys", zap.Error(err))
		return fmt.Errorf("failed to delete counter keys: %w", err)
	}
	return nil
}
