package progress

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Mode selects how the Bus delivers events.
type Mode string

// Delivery modes.
const (
	// ModeSync delivers on the publishing goroutine; Publish returns after
	// every subscriber has seen the event.
	ModeSync Mode = "sync"
	// ModeAsync queues events and delivers them in batches from a
	// background goroutine.
	ModeAsync Mode = "async"
)

// Config controls delivery for the Bus.
//   - Mode: sync (default) or async.
//   - BufferSize: size of the async queue (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SubscriberTimeout: per-subscriber timeout for each delivery (default 10s).
//   - DropWhenFull: drop instead of blocking when the async queue is full.
//   - BaseContext: parent context passed to subscribers (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	Mode              Mode
	BufferSize        int
	MaxBatchEvents    int
	MaxBatchWait      time.Duration
	SubscriberTimeout time.Duration
	DropWhenFull      bool
	BaseContext       context.Context
	Logger            *zap.Logger
}

const (
	defaultBufferSize        = 4096
	defaultMaxBatchEvents    = 1000
	defaultMaxBatchWait      = 500 * time.Millisecond
	defaultSubscriberTimeout = 10 * time.Second
	dropLogInterval          = 5 * time.Second
)

// ParseMode maps a config string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSync, "":
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown event mode %q", s)
	}
}

type envelope struct {
	evt     crawler.Event
	flushed chan struct{}
}

// Bus fans events out to registered subscribers. It is safe for concurrent
// use. Subscriber errors and panics are logged and never reach publishers.
type Bus struct {
	cfg         Config
	mu          sync.RWMutex
	subs        []Subscriber
	events      chan envelope
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewBus builds a Bus with the supplied subscribers. In async mode the
// background goroutine starts immediately.
func NewBus(cfg Config, subs ...Subscriber) *Bus {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SubscriberTimeout <= 0 {
		cfg.SubscriberTimeout = defaultSubscriberTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	for _, s := range subs {
		b.Register(s)
	}
	if cfg.Mode == ModeAsync {
		b.events = make(chan envelope, cfg.BufferSize)
		go b.run()
	} else {
		close(b.doneCh)
	}
	return b
}

// Register adds a subscriber. Registering the same subscriber twice is a
// no-op.
func (b *Bus) Register(s Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.ContainsFunc(b.subs, func(cur Subscriber) bool { return sameSubscriber(cur, s) }) {
		return
	}
	b.subs = append(b.subs, s)
}

// Unregister removes a subscriber; it does not call its Close.
func (b *Bus) Unregister(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(cur Subscriber) bool { return sameSubscriber(cur, s) })
}

// sameSubscriber reports identity. Values of non-comparable types are never
// considered the same, so registering one twice subscribes it twice.
func sameSubscriber(a, b Subscriber) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Publish delivers evt. Invalid events and events published after Close
// are discarded.
func (b *Bus) Publish(evt crawler.Event) {
	if b == nil || b.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	if b.cfg.Mode == ModeSync {
		b.deliver([]crawler.Event{evt})
		return
	}
	if b.cfg.DropWhenFull {
		select {
		case b.events <- envelope{evt: evt}:
		default:
			b.dropped.Add(1)
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("events dropped due to backpressure", zap.Int64("dropped", count))
			}
		}
		return
	}
	select {
	case b.events <- envelope{evt: evt}:
	case <-b.stopCh:
	}
}

// Flush blocks until every event published before the call has been
// delivered. It returns immediately in sync mode.
func (b *Bus) Flush(ctx context.Context) error {
	if b == nil || b.cfg.Mode == ModeSync || b.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case b.events <- envelope{flushed: done}:
	case <-b.stopCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus flush: %w", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus flush wait: %w", ctx.Err())
	}
}

// Close drains queued events, closes subscribers, and blocks until the
// background goroutine exits. Subsequent calls only wait.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeCtx = ctx
		close(b.stopCh)
		if b.cfg.Mode == ModeSync {
			b.closeSubscribers()
		}
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus close wait: %w", ctx.Err())
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	batch := make([]crawler.Event, 0, b.cfg.MaxBatchEvents)
	timer := time.NewTimer(b.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case env := <-b.events:
			batch = b.enqueue(batch, env, timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				b.deliver(batch)
				batch = batch[:0]
			}
		case <-b.stopCh:
			b.handleStop(batch, timer, &timerActive)
			return
		}
	}
}

func (b *Bus) enqueue(batch []crawler.Event, env envelope, timer *time.Timer, timerActive *bool) []crawler.Event {
	if env.flushed != nil {
		b.deliver(batch)
		b.stopTimer(timer, timerActive)
		close(env.flushed)
		return batch[:0]
	}
	batch = append(batch, env.evt)
	if len(batch) >= b.cfg.MaxBatchEvents {
		b.deliver(batch)
		b.stopTimer(timer, timerActive)
		return batch[:0]
	}
	b.resetTimer(timer, timerActive)
	return batch
}

func (b *Bus) handleStop(batch []crawler.Event, timer *time.Timer, timerActive *bool) {
	b.stopTimer(timer, timerActive)
	for {
		select {
		case env := <-b.events:
			if env.flushed != nil {
				close(env.flushed)
				continue
			}
			batch = append(batch, env.evt)
			if len(batch) >= b.cfg.MaxBatchEvents {
				b.deliver(batch)
				batch = batch[:0]
			}
		default:
			b.deliver(batch)
			b.closeSubscribers()
			return
		}
	}
}

func (b *Bus) resetTimer(timer *time.Timer, timerActive *bool) {
	if *timerActive {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	timer.Reset(b.cfg.MaxBatchWait)
	*timerActive = true
}

func (b *Bus) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (b *Bus) subscribers() []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Subscriber(nil), b.subs...)
}

func (b *Bus) deliver(batch []crawler.Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]crawler.Event(nil), batch...)
	for _, sub := range b.subscribers() {
		ctx, cancel := context.WithTimeout(b.cfg.BaseContext, b.cfg.SubscriberTimeout)
		if err := consumeSafely(ctx, sub, copyBatch); err != nil {
			b.logger.Warn("event subscriber failed",
				zap.String("kind", string(copyBatch[0].Kind)),
				zap.Int("batch", len(copyBatch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func consumeSafely(ctx context.Context, sub Subscriber, batch []crawler.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Consume(ctx, batch)
}

func (b *Bus) closeSubscribers() {
	ctx := b.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sub := range b.subscribers() {
		if err := sub.Close(ctx); err != nil {
			b.logger.Warn("event subscriber close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
