// Package ratelimit paces calls to upstream model APIs and enforces
// request quotas for clients of the chat API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds token-bucket settings for an upstream API.
type Config struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64
	// BurstSize is the maximum burst.
	BurstSize int
}

// DefaultConfig is conservative enough for hosted embedding and chat APIs.
var DefaultConfig = Config{RequestsPerSecond: 5, BurstSize: 10}

// Limiter is a token bucket with an optional backoff window set by 429 responses.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// New creates a limiter. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultConfig.BurstSize
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)}
}

// Wait blocks until a request may be sent, honouring any backoff window.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Backoff delays all further requests by d. Shorter windows never shrink a
// longer one already in effect.
func (l *Limiter) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if at := time.Now().Add(d); at.After(l.retryAt) {
		l.retryAt = at
	}
}

// Allow reports whether a request may be sent right now without blocking.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()
	if time.Now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryDelay is exponential backoff from 200ms, capped at 5s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
