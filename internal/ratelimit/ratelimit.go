// Package ratelimit implements a fixed-window per-client request limiter
// backed by Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder receives rejected requests. *metrics.Metrics satisfies it.
type Recorder interface {
	RateLimited(scope string)
}

// Limiter allows at most limit requests per client per window.
type Limiter struct {
	redis    redis.Cmdable
	limit    int64
	window   time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// New creates a limiter allowing perMinute requests per client per minute.
func New(client redis.Cmdable, perMinute int, logger *slog.Logger, recorder Recorder) *Limiter {
	return &Limiter{
		redis:    client,
		limit:    int64(perMinute),
		window:   time.Minute,
		logger:   logger,
		recorder: recorder,
	}
}

// Key returns the Redis key counting requests for client in scope.
func Key(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}

// Allow counts one request and reports whether it is within the limit.
// Every request sends EXPIRE NX alongside the INCR, so a key left without a
// TTL picks one up on its next hit.
func (l *Limiter) Allow(ctx context.Context, scope, client string) (bool, error) {
	key := Key(scope, client)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	return incr.Val() <= l.limit, nil
}

// Middleware rejects requests over the limit with 429. Redis failures let
// the request through.
func (l *Limiter) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)
			ok, err := l.Allow(r.Context(), scope, client)
			if err != nil {
				l.logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				if l.recorder != nil {
					l.recorder.RateLimited(scope)
				}
				l.logger.Info("rate limited", "scope", scope, "client", client)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests, please try again later"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already replaced it with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
