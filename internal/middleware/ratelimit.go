package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
)

// WindowCounter increments a fixed-window counter and returns the count
// after the increment. Satisfied by database.RedisStore.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimiter enforces fixed one-minute windows in Redis. Auth
// endpoints are limited per client IP (no tenant yet); everything else
// per tenant. A nil Redis store disables limiting rather than failing
// requests.
type RateLimiter struct {
	counter  WindowCounter
	cfg      config.RateLimitConfig
	writeErr ErrorWriter
}

func NewRateLimiter(redis *database.RedisStore, cfg config.RateLimitConfig, writeErr ErrorWriter) *RateLimiter {
	rl := &RateLimiter{cfg: cfg, writeErr: writeErr}
	if redis != nil {
		rl.counter = redis
	}
	return rl
}

// ForAPI limits per tenant; runs after Authenticator.
func (rl *RateLimiter) ForAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		tenantID, ok := TenantFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		rl.check(w, r, next, "rl:api:"+tenantID.String(), rl.cfg.APILimit)
	})
}

// ForAuth limits per client IP; runs before any credential check.
func (rl *RateLimiter) ForAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		rl.check(w, r, next, "rl:auth:"+clientIP(r), rl.cfg.AuthLimit)
	})
}

func (rl *RateLimiter) enabled() bool {
	return rl.cfg.Enabled && rl.counter != nil
}

func (rl *RateLimiter) check(w http.ResponseWriter, r *http.Request, next http.Handler, keyPrefix string, limit int) {
	if limit <= 0 {
		next.ServeHTTP(w, r)
		return
	}
	now := time.Now()
	windowStart := now.Truncate(time.Minute)
	key := fmt.Sprintf("%s:%d", keyPrefix, windowStart.Unix())

	count, err := rl.counter.IncrWindow(r.Context(), key, 2*time.Minute)
	if err != nil {
		// Redis trouble must not take the API down.
		next.ServeHTTP(w, r)
		return
	}
	if count > int64(limit) {
		retry := windowStart.Add(time.Minute).Sub(now)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		rl.writeErr(w, r, http.StatusTooManyRequests, string(core.CodeRateLimited),
			fmt.Sprintf("limit of %d requests per minute exceeded", limit))
		return
	}
	next.ServeHTTP(w, r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
