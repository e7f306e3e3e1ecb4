// Package ratelimit throttles processing per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Priority places the limiter next to the random politeness delay.
const Priority = 1

// Config holds rate limiter configuration.
type Config struct {
	// RPS <= 0 disables throttling.
	RPS   float64
	Burst int
}

// Limiter manages one token bucket per host and waits on it before each
// resource is processed.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *zap.Logger
}

// New creates a new Limiter.
func New(cfg Config, logger *zap.Logger) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		logger:   logger,
	}
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	return time.Since(start), nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.limiters[host]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = b
	}
	return b
}

// Priority implements crawler.Interceptor.
func (l *Limiter) Priority() int {
	return Priority
}

// BeforeProcessing implements crawler.BeforeHook. A canceled wait lets the
// resource through; the step observes the same canceled context.
func (l *Limiter) BeforeProcessing(ctx context.Context, r *crawler.Resource) crawler.Outcome {
	waited, err := l.Wait(ctx, r.URL)
	if err != nil {
		l.logger.Debug("rate limit wait interrupted", zap.String("url", r.URL), zap.Error(err))
		return crawler.Continue()
	}
	if waited > time.Millisecond {
		l.logger.Debug("rate limited", zap.String("url", r.URL), zap.Duration("waited", waited))
	}
	return crawler.Continue()
}
