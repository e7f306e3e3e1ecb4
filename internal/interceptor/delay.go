package interceptor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Delay sleeps a random duration in [min, max) milliseconds before each
// resource and records it in DelayMs. Equal bounds give a fixed delay.
type Delay struct {
	minMs int
	maxMs int
	sleep func(ctx context.Context, d time.Duration)
}

// NewDelay validates the bounds.
func NewDelay(minMs, maxMs int) (*Delay, error) {
	if minMs < 0 || maxMs < minMs {
		return nil, fmt.Errorf("invalid processing delay [%d, %d]", minMs, maxMs)
	}
	return &Delay{minMs: minMs, maxMs: maxMs, sleep: sleepCtx}, nil
}

// Priority implements crawler.Interceptor.
func (d *Delay) Priority() int {
	return PriorityDelay
}

// BeforeProcessing implements crawler.BeforeHook.
func (d *Delay) BeforeProcessing(ctx context.Context, r *crawler.Resource) crawler.Outcome {
	ms := d.pick()
	if ms > 0 {
		d.sleep(ctx, time.Duration(ms)*time.Millisecond)
	}
	r.DelayMs = ms
	return crawler.Continue()
}

func (d *Delay) pick() int {
	if d.minMs == d.maxMs {
		return d.minMs
	}
	// #nosec G404 -- jitter does not need a cryptographic source.
	return d.minMs + rand.IntN(d.maxMs-d.minMs)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
