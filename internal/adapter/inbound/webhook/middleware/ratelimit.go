package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonny/refundbot/pkg/apierror"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-IP token buckets with eviction of stale entries.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*ipLimiter
	limit      rate.Limit
	burst      int
	maxEntries int
	trustProxy bool
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per remote IP,
// with bursts up to the same amount.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	return &RateLimiter{
		limiters:   make(map[string]*ipLimiter),
		limit:      rate.Limit(float64(requestsPerMinute) / 60),
		burst:      requestsPerMinute,
		maxEntries: 10000,
	}
}

// Run evicts limiters idle for longer than maxIdle until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictStale(maxIdle)
		}
	}
}

func (rl *RateLimiter) evictStale(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for ip, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// allow reports whether a request from ip may proceed. New IPs are rejected
// once maxEntries is reached to prevent memory exhaustion.
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[ip]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			return false
		}
		l = &ipLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter.Allow()
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(remoteIP(r, rl.trustProxy)) {
			apierror.Write(w, apierror.TooManyRequests("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteIP extracts the client IP from the request.
// Only trusts X-Forwarded-For when trustProxy is true (i.e., behind a known reverse proxy).
func remoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Take the first (client) IP in the list.
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
	}
	// Strip port from RemoteAddr.
	addr := r.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		return addr[:idx]
	}
	return addr
}
