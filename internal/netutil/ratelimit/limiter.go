// Package ratelimit provides per-exchange token-bucket throttling for REST
// historical fetches (spec.md §4.1), built on golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per exchange name.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates an empty per-exchange limiter set.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Configure sets (or replaces) the rate and burst for one exchange.
func (l *Limiter) Configure(exchange string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[exchange] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (l *Limiter) limiterFor(exchange string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[exchange]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	// Unconfigured exchanges default to a conservative 1 req/s, burst 1,
	// rather than unlimited: a misconfigured rate-limit entry should slow
	// requests down, not remove the guard entirely.
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[exchange]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(1), 1)
	l.limiters[exchange] = lim
	return lim
}

// Wait blocks until a token for exchange is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, exchange string) error {
	return l.limiterFor(exchange).Wait(ctx)
}

// Allow reports whether a request for exchange may proceed immediately,
// consuming a token if so.
func (l *Limiter) Allow(exchange string) bool {
	return l.limiterFor(exchange).Allow()
}
