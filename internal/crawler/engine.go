package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine drives a run: it expands resources lazily in breadth-first or
// depth-first post-order, yields each processed resource to a consumer, and
// performs the shutdown sequence (events, backup or pointer cleanup).
type Engine struct {
	cfg          EngineConfig
	step         Step
	interceptors []Interceptor
	rc           *RunContext
	bus          Publisher
	recovery     Recovery
	ids          IDGenerator
	logger       *zap.Logger
	running      atomic.Bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithInterceptors weaves interceptors around the processing step.
func WithInterceptors(interceptors ...Interceptor) EngineOption {
	return func(e *Engine) {
		e.interceptors = append(e.interceptors, interceptors...)
	}
}

// WithPublisher sets the event channel used for run-level events.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.bus = p
		}
	}
}

// WithRecovery enables restore on start, backup on abnormal stop and pointer
// cleanup on clean stop.
func WithRecovery(r Recovery) EngineOption {
	return func(e *Engine) {
		e.recovery = r
	}
}

// WithIDGenerator sets the generator used for run IDs.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine composes step with the configured interceptors. A nil step is a
// configuration error.
func NewEngine(cfg EngineConfig, step Step, opts ...EngineOption) (*Engine, error) {
	if step == nil {
		return nil, fmt.Errorf("new engine: %w", ErrNoProcessingAssigned)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e := &Engine{
		cfg:    cfg,
		step:   step,
		bus:    NopPublisher{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rc = NewRunContext(step, e.interceptors...)
	return e, nil
}

// Run crawls from landingURL, or from the recovered frontier when a backup
// pointer exists, and passes a clone of every processed resource to consume.
// Any processing failure ends the run with an abnormal run-stopped event and
// a backup before the error is returned. Canceling ctx is treated the same
// way once the resource in flight has finished.
func (e *Engine) Run(ctx context.Context, landingURL string, consume func(*Resource)) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer e.running.Store(false)

	start, err := e.startResources(ctx, landingURL)
	if err != nil {
		return err
	}

	runID := e.newRunID()
	logger := e.logger.With(zap.String("run", e.cfg.RunName), zap.String("run_id", runID))
	logger.Info("run started",
		zap.String("mode", string(e.cfg.Mode)),
		zap.Int("limit", e.cfg.Limit),
		zap.Int("start_resources", len(start)),
	)
	e.bus.Publish(RunStarted(runID, e.cfg.RunName))

	yielded := 0
	yield := func(r *Resource) bool {
		if consume != nil {
			consume(r.Clone())
		}
		yielded++
		return e.cfg.Limit <= 0 || yielded < e.cfg.Limit
	}

	switch e.cfg.Mode {
	case ModeDepth:
		err = e.walkDepth(ctx, start, yield)
	default:
		err = e.walkBreadth(ctx, start, yield)
	}
	if err != nil {
		return e.abort(ctx, logger, runID, err)
	}

	logger.Info("run finished", zap.Int("yielded", yielded))
	e.bus.Publish(RunStopped(runID, e.cfg.RunName, false))
	if e.recovery != nil {
		if err := e.recovery.Clear(ctx); err != nil {
			return fmt.Errorf("clear recovery pointer: %w", err)
		}
	}
	return nil
}

// Collect runs the engine and returns the yielded resources in order.
func (e *Engine) Collect(ctx context.Context, landingURL string) ([]*Resource, error) {
	var out []*Resource
	err := e.Run(ctx, landingURL, func(r *Resource) {
		out = append(out, r)
	})
	return out, err
}

func (e *Engine) startResources(ctx context.Context, landingURL string) ([]*Resource, error) {
	if e.recovery != nil {
		restored, err := e.recovery.Restore(ctx, e.rc)
		if err != nil {
			return nil, fmt.Errorf("restore run: %w", err)
		}
		if len(restored) > 0 {
			return restored, nil
		}
	}
	if landingURL == "" {
		return nil, errors.New("landing url is required")
	}
	landing := NewResource(NewContextRef(e.rc), e.cfg.RunName, landingURL, e.cfg.LandingName)
	return []*Resource{landing}, nil
}

// walkBreadth yields in FIFO order. Each round expands at most Concurrency
// resources, never more than the limit still allows, so processed and
// yielded counts stay equal.
func (e *Engine) walkBreadth(ctx context.Context, start []*Resource, yield func(*Resource) bool) error {
	queue := append([]*Resource(nil), start...)
	remaining := func(yielded int) int {
		if e.cfg.Limit <= 0 {
			return len(queue)
		}
		return e.cfg.Limit - yielded
	}
	yielded := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk canceled: %w", err)
		}
		n := min(len(queue), e.cfg.Concurrency, remaining(yielded))
		batch := queue[:n]
		if err := e.expand(ctx, batch); err != nil {
			return err
		}
		queue = queue[n:]
		for _, r := range batch {
			successors, _ := r.Successors(ctx)
			yielded++
			if !yield(r) {
				return nil
			}
			queue = append(queue, successors...)
		}
	}
	return nil
}

func (e *Engine) expand(ctx context.Context, batch []*Resource) error {
	if len(batch) == 1 {
		if _, err := batch[0].Successors(ctx); err != nil {
			return fmt.Errorf("process %s: %w", batch[0].URL, err)
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, r := range batch {
		g.Go(func() error {
			if _, err := r.Successors(gctx); err != nil {
				return fmt.Errorf("process %s: %w", r.URL, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type frame struct {
	r        *Resource
	children []*Resource
	next     int
}

// walkDepth yields in post-order: a resource is yielded only after its whole
// subtree has been walked.
func (e *Engine) walkDepth(ctx context.Context, start []*Resource, yield func(*Resource) bool) error {
	var stack []*frame
	push := func(r *Resource) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk canceled: %w", err)
		}
		children, err := r.Successors(ctx)
		if err != nil {
			return fmt.Errorf("process %s: %w", r.URL, err)
		}
		stack = append(stack, &frame{r: r, children: children})
		return nil
	}
	for _, root := range start {
		if err := push(root); err != nil {
			return err
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.children) {
				child := top.children[top.next]
				top.next++
				if err := push(child); err != nil {
					return err
				}
				continue
			}
			stack = stack[:len(stack)-1]
			if !yield(top.r) {
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) abort(ctx context.Context, logger *zap.Logger, runID string, cause error) error {
	logger.Error("run terminated abnormally", zap.Error(cause))
	e.bus.Publish(RunStopped(runID, e.cfg.RunName, true))
	if e.recovery == nil {
		return cause
	}
	if err := e.recovery.Backup(context.WithoutCancel(ctx)); err != nil {
		logger.Error("backup after abnormal stop failed", zap.Error(err))
		return errors.Join(cause, fmt.Errorf("backup after abnormal stop: %w", err))
	}
	return cause
}

func (e *Engine) newRunID() string {
	if e.ids == nil {
		return e.cfg.RunName
	}
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Warn("run id generation failed", zap.Error(err))
		return e.cfg.RunName
	}
	return id
}
