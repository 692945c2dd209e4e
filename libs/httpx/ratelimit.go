package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// UserHeader carries the calling user's id, set by the upstream gateway.
const UserHeader = "X-User-Id"

// WithRateLimit rejects requests over the limiter's budget with 429. When the
// limiter itself fails, failOpen lets the request through; otherwise 503.
func WithRateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	retryAfter := strconv.Itoa(int(l.Window().Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err, "request_id", RequestIDFromContext(r.Context()))
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a fixed-window limiter held in process memory.
type RateLimiter struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (rl *RateLimiter) Window() time.Duration { return rl.window }

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[key]
	if v == nil || !now.Before(v.resetTime) {
		rl.sweep(now)
		rl.visitors[key] = &visitor{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true, nil
	}

	if v.count >= rl.limit {
		return false, nil
	}
	v.count++
	return true, nil
}

// sweep drops expired windows so idle clients do not accumulate.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if !now.Before(v.resetTime) {
			delete(rl.visitors, k)
		}
	}
}

// ClientKey identifies the caller: the gateway-supplied user id when present,
// the first forwarded address otherwise, then the socket peer.
func ClientKey(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
		return "user:" + user
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
