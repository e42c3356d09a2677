package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/config"
	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// Guard applies escalating lockouts to repeated authentication failures. It
// is orthogonal to the generic rate limiter: a client can be inside its rate
// limits and still locked out.
//
// Storage errors never block authentication bookkeeping: lockout reads fail
// open (not locked) and failure recording is best effort. Entries carry a TTL
// equal to the computed lockout duration, so expiry clears them without a
// sweep.
type Guard struct {
	cache     model.CounterCache
	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time
}

func NewGuard(cache model.CounterCache, cfg *config.Config) *Guard {
	return &Guard{
		cache:     cache,
		threshold: cfg.Lockout.MaxFailedAttempts,
		base:      cfg.Lockout.BaseDuration,
		max:       cfg.Lockout.MaxDuration,
		now:       time.Now,
	}
}

func failedAttemptsKey(endpoint, identity string) string {
	return fmt.Sprintf("failed_attempts:%s:%s", endpoint, identity)
}

func lockoutKey(endpoint, identity string) string {
	return fmt.Sprintf("lockout:%s:%s", endpoint, identity)
}

// lockoutDuration doubles with every failure past the threshold, capped at
// the configured maximum.
func (g *Guard) lockoutDuration(attempts int) time.Duration {
	duration := g.base
	for i := g.threshold; i < attempts; i++ {
		duration *= 2
		if duration >= g.max {
			return g.max
		}
	}
	if duration > g.max {
		return g.max
	}
	return duration
}

// RecordFailedAttempt counts one authentication failure. Returns whether the
// identity is now locked and for how long, so callers can emit audit events.
// The counter is a single atomic increment, so concurrent failures never
// undercount.
func (g *Guard) RecordFailedAttempt(ctx context.Context, identity, endpoint string) (bool, time.Duration) {
	count, err := g.cache.IncrWithExpire(ctx, failedAttemptsKey(endpoint, identity), g.base)
	if err != nil {
		util.Error("Failed to record failed attempt",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false, 0
	}
	attempts := int(count)

	if attempts < g.threshold {
		return false, 0
	}

	// Past the threshold the counter must outlive the lockout it caused, so
	// its TTL is stretched to the escalated duration.
	duration := g.lockoutDuration(attempts)
	if err := g.cache.Expire(ctx, failedAttemptsKey(endpoint, identity), duration); err != nil {
		util.Error("Failed to extend failure counter TTL",
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}

	lockedUntil := g.now().Add(duration).Unix()
	if err := g.cache.SetWithTTL(ctx, lockoutKey(endpoint, identity),
		strconv.FormatInt(lockedUntil, 10), duration); err != nil {
		util.Error("Failed to set lockout",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false, 0
	}

	util.Warn("Lockout set after repeated failures",
		zap.String("endpoint", endpoint),
		zap.Int("failed_attempts", attempts),
		zap.Duration("duration", duration))
	return true, duration
}

// IsLockedOut reports whether the identity is currently locked and the
// remaining time. A stale lockout timestamp is lazily cleaned up and treated
// as not locked.
func (g *Guard) IsLockedOut(ctx context.Context, identity, endpoint string) (bool, time.Duration) {
	val, found, err := g.cache.Get(ctx, lockoutKey(endpoint, identity))
	if err != nil {
		util.Error("Failed to check lockout, treating as not locked",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false, 0
	}
	if !found {
		return false, 0
	}

	lockedUntil, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		util.Error("Invalid lockout timestamp",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return false, 0
	}

	remaining := time.Unix(lockedUntil, 0).Sub(g.now())
	if remaining <= 0 {
		g.ClearFailedAttempts(ctx, identity, endpoint)
		return false, 0
	}
	return true, remaining
}

// ClearFailedAttempts removes both bookkeeping entries, invoked on successful
// authentication and on lazy expiry cleanup.
func (g *Guard) ClearFailedAttempts(ctx context.Context, identity, endpoint string) {
	err := g.cache.Delete(ctx,
		failedAttemptsKey(endpoint, identity),
		lockoutKey(endpoint, identity))
	if err != nil {
		util.Error("Failed to clear failed attempts",
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}
}
