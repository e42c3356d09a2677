package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// Endpoint names used for per-endpoint limit overrides and lockout keys.
const (
	EndpointLogin     = "login"
	EndpointVerifyOTP = "verify-otp"
	EndpointRefresh   = "refresh"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"

	minuteLength = 60 * time.Second
	hourLength   = 3600 * time.Second
)

// Limits is a per-endpoint pair of window limits.
type Limits struct {
	PerMinute int
	PerHour   int
}

// Decision is the outcome of a rate-limit check. On rejection it carries the
// exhausted window, its limit, and the UTC instant the window resets so the
// caller can compute a retry delay.
type Decision struct {
	Allowed         bool
	Limit           int
	Window          string
	ResetAt         time.Time
	RetryAfter      time.Duration
	MinuteLimit     int
	MinuteRemaining int
	HourLimit       int
	HourRemaining   int
}

// Limiter implements fixed-bucket sliding-window rate limiting over the
// shared cache. The window index floor(now/length) is embedded in the counter
// key, so counters rotate and expire without any cleanup pass.
//
// The limiter fails open: if the cache is unreachable the request is
// admitted and the failure is logged for operators.
type Limiter struct {
	cache     model.CounterCache
	defaults  Limits
	overrides map[string]Limits
	now       func() time.Time
}

func NewLimiter(cache model.CounterCache, cfg *config.Config) *Limiter {
	return &Limiter{
		cache: cache,
		defaults: Limits{
			PerMinute: cfg.RateLimit.CallsPerMinute,
			PerHour:   cfg.RateLimit.CallsPerHour,
		},
		overrides: map[string]Limits{
			EndpointLogin:     {PerMinute: 5, PerHour: 20},
			EndpointVerifyOTP: {PerMinute: 10, PerHour: 50},
			EndpointRefresh:   {PerMinute: 20, PerHour: 200},
		},
		now: time.Now,
	}
}

func (l *Limiter) limitsFor(endpoint string) Limits {
	if limits, ok := l.overrides[endpoint]; ok {
		return limits
	}
	return l.defaults
}

func counterKey(window, identity string, bucket int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%d", window, identity, bucket)
}

// Check decides admission for one request and, when admitted, counts it in
// both windows. The decision is taken against counts observed before this
// request; ties reject.
func (l *Limiter) Check(ctx context.Context, identity, endpoint string) Decision {
	limits := l.limitsFor(endpoint)
	now := l.now().UTC()

	minuteBucket := now.Unix() / 60
	hourBucket := now.Unix() / 3600
	minuteKey := counterKey(WindowMinute, identity, minuteBucket)
	hourKey := counterKey(WindowHour, identity, hourBucket)

	minuteCount, err := l.cache.GetInt(ctx, minuteKey)
	if err != nil {
		return l.failOpen(identity, endpoint, err)
	}
	hourCount, err := l.cache.GetInt(ctx, hourKey)
	if err != nil {
		return l.failOpen(identity, endpoint, err)
	}

	if minuteCount >= limits.PerMinute {
		resetAt := time.Unix((minuteBucket+1)*60, 0).UTC()
		return Decision{
			Allowed:    false,
			Limit:      limits.PerMinute,
			Window:     WindowMinute,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}
	if hourCount >= limits.PerHour {
		resetAt := time.Unix((hourBucket+1)*3600, 0).UTC()
		return Decision{
			Allowed:    false,
			Limit:      limits.PerHour,
			Window:     WindowHour,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	// Admission counts the request in both windows exactly once. Counter TTL
	// matches the window length so stale buckets evict themselves.
	if _, err := l.cache.IncrWithExpire(ctx, minuteKey, minuteLength); err != nil {
		return l.failOpen(identity, endpoint, err)
	}
	if _, err := l.cache.IncrWithExpire(ctx, hourKey, hourLength); err != nil {
		return l.failOpen(identity, endpoint, err)
	}

	return Decision{
		Allowed:         true,
		MinuteLimit:     limits.PerMinute,
		MinuteRemaining: limits.PerMinute - minuteCount - 1,
		HourLimit:       limits.PerHour,
		HourRemaining:   limits.PerHour - hourCount - 1,
	}
}

func (l *Limiter) failOpen(identity, endpoint string, err error) Decision {
	util.Error("Rate limit check failed, admitting request",
		zap.String("identity", identity),
		zap.String("endpoint", endpoint),
		zap.Error(err))
	return Decision{Allowed: true}
}
