package handler

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/ratelimit"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

// clientIdentity derives the rate-limit identity for a request from its
// source IP and user-agent. RealIP middleware has already resolved proxy
// headers into RemoteAddr.
func clientIdentity(r *http.Request) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ratelimit.ClientIdentity(ip, r.UserAgent())
}

// RateLimit guards a route with the sliding-window limiter. This is the
// single interception point: every throttled route passes through here, so
// limit policy lives in one place instead of inside each handler.
func RateLimit(limiter *ratelimit.Limiter, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(r.Context(), clientIdentity(r), endpoint)
			if !decision.Allowed {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
				retryAfter := int(decision.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests,
					fmt.Sprintf("rate limit exceeded: %d requests per %s", decision.Limit, decision.Window))
				return
			}

			if decision.MinuteLimit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.MinuteLimit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.MinuteRemaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware emits one structured log line per request.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
