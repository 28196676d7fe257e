// Package ratelimit throttles inspector API clients with one token bucket
// per client key. Status polling from line HMIs is the usual load.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key
type Limiter struct {
	rps   rate.Limit
	burst int

	// Exempt paths bypass the limiter, e.g. /health for load balancers
	Exempt map[string]bool

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// NewLimiter allows rps requests per second per key with the given burst
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		Exempt:  map[string]bool{"/health": true},
		buckets: make(map[string]*bucket),
	}
}

// Allow takes a token from key's bucket
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.seen = time.Now()
	l.mu.Unlock()
	return b.Allow()
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := "1"
	if l.rps > 0 && l.rps < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(l.rps))))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Exempt[r.URL.Path] || l.Allow(keyFunc(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

// Sweep forgets buckets idle for longer than maxIdle and returns how many
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// SweepEvery runs Sweep on a ticker until ctx is done
func (l *Limiter) SweepEvery(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(maxIdle)
		}
	}
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// IPKeyFunc keys on the first X-Forwarded-For hop, else the RemoteAddr host
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
