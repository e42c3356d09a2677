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

const EndpointSendOTP = "send-otp"

// Quota caps how many OTP codes a single identifier can request per hour,
// independent of the per-client rate limits. Exceeding the cap counts as an
// authentication failure against the identifier, so persistent abuse
// escalates into a lockout.
type Quota struct {
	cache  model.CounterCache
	guard  *Guard
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewQuota(cache model.CounterCache, guard *Guard, cfg *config.Config) *Quota {
	return &Quota{
		cache:  cache,
		guard:  guard,
		limit:  cfg.OTP.QuotaPerHour,
		window: time.Hour,
		now:    time.Now,
	}
}

func quotaKey(identifier string, bucket int64) string {
	return fmt.Sprintf("otp_quota:%s:%d", identifier, bucket)
}

// Allow reports whether the identifier may be issued another code, and on
// rejection how long until it should retry. Cache failures admit the request.
func (q *Quota) Allow(ctx context.Context, identifier string) (bool, time.Duration) {
	if locked, remaining := q.guard.IsLockedOut(ctx, identifier, EndpointSendOTP); locked {
		return false, remaining
	}

	now := q.now().UTC()
	bucket := now.Unix() / int64(q.window.Seconds())

	count, err := q.cache.GetInt(ctx, quotaKey(identifier, bucket))
	if err != nil {
		util.Error("OTP quota check failed, admitting request", zap.Error(err))
		return true, 0
	}
	if count >= q.limit {
		if locked, duration := q.guard.RecordFailedAttempt(ctx, identifier, EndpointSendOTP); locked {
			return false, duration
		}
		resetAt := time.Unix((bucket+1)*int64(q.window.Seconds()), 0).UTC()
		return false, resetAt.Sub(now)
	}
	return true, 0
}

// Record counts one issued code against the identifier's hourly quota.
func (q *Quota) Record(ctx context.Context, identifier string) {
	bucket := q.now().UTC().Unix() / int64(q.window.Seconds())
	if _, err := q.cache.IncrWithExpire(ctx, quotaKey(identifier, bucket), q.window); err != nil {
		util.Error("Failed to record OTP issuance", zap.Error(err))
	}
}

// Reset clears the identifier's failure bookkeeping after a successful
// verification.
func (q *Quota) Reset(ctx context.Context, identifier string) {
	q.guard.ClearFailedAttempts(ctx, identifier, EndpointSendOTP)
}
