package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhargava562/vyapar-ai/internal/client"
	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/model"
	redisrepo "github.com/bhargava562/vyapar-ai/internal/repository/redis"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, model.CounterCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := &client.RedisClient{
		Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}),
	}
	return mr, redisrepo.NewCounterCache(rc)
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			CallsPerMinute: 60,
			CallsPerHour:   1000,
		},
		Lockout: config.LockoutConfig{
			MaxFailedAttempts: 5,
			BaseDuration:      15 * time.Minute,
			MaxDuration:       time.Hour,
		},
		OTP: config.OTPConfig{
			QuotaPerHour: 5,
		},
	}
}

func TestLimiterAllowsUnderMinuteLimit(t *testing.T) {
	_, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision := limiter.Check(ctx, "10.0.0.1:abcd1234", EndpointLogin)
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5, decision.MinuteLimit)
		assert.Equal(t, 5-i-1, decision.MinuteRemaining)
	}

	decision := limiter.Check(ctx, "10.0.0.1:abcd1234", EndpointLogin)
	assert.False(t, decision.Allowed)
	assert.Equal(t, WindowMinute, decision.Window)
	assert.Equal(t, 5, decision.Limit)
	assert.Positive(t, decision.RetryAfter)
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestLimiterMinuteWindowRollover(t *testing.T) {
	_, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check(ctx, "client-a", EndpointLogin).Allowed)
	}
	assert.False(t, limiter.Check(ctx, "client-a", EndpointLogin).Allowed)

	// New minute bucket, fresh counter.
	now = now.Add(time.Minute)
	assert.True(t, limiter.Check(ctx, "client-a", EndpointLogin).Allowed)
}

func TestLimiterHourWindow(t *testing.T) {
	_, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	// Login allows 20 per hour; spread them across minutes so the minute
	// window never trips.
	for i := 0; i < 20; i++ {
		decision := limiter.Check(ctx, "client-b", EndpointLogin)
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
		now = now.Add(time.Minute)
	}

	decision := limiter.Check(ctx, "client-b", EndpointLogin)
	assert.False(t, decision.Allowed)
	assert.Equal(t, WindowHour, decision.Window)
	assert.Equal(t, 20, decision.Limit)
}

func TestLimiterIsolatesIdentities(t *testing.T) {
	_, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check(ctx, "client-a", EndpointLogin).Allowed)
	}
	assert.False(t, limiter.Check(ctx, "client-a", EndpointLogin).Allowed)
	assert.True(t, limiter.Check(ctx, "client-b", EndpointLogin).Allowed)
}

func TestLimiterUsesDefaultsForUnknownEndpoint(t *testing.T) {
	_, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())

	decision := limiter.Check(context.Background(), "client-c", "profile")
	require.True(t, decision.Allowed)
	assert.Equal(t, 60, decision.MinuteLimit)
	assert.Equal(t, 1000, decision.HourLimit)
}

func TestLimiterFailsOpenOnCacheError(t *testing.T) {
	mr, cache := newTestCache(t)
	limiter := NewLimiter(cache, testConfig())
	mr.Close()

	decision := limiter.Check(context.Background(), "client-d", EndpointLogin)
	assert.True(t, decision.Allowed)
}
