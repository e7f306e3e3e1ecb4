package crawler

// RunContext is an immutable snapshot of run-wide state. Changing it means
// producing a new snapshot with Transform and swapping it into a ContextRef.
type RunContext struct {
	discovered int
	processed  int
	step       Step
}

// NewRunContext composes step with interceptors and returns the initial
// snapshot of a run.
func NewRunContext(step Step, interceptors ...Interceptor) *RunContext {
	return &RunContext{step: Wrap(step, interceptors...)}
}

// ContextBuilder collects the fields of the next snapshot inside Transform.
// Interceptors listed here are woven around Step when the snapshot is built.
type ContextBuilder struct {
	Discovered   int
	Processed    int
	Step         Step
	Interceptors []Interceptor
}

// Transform returns a new snapshot derived from c by fn. c is not modified.
func (c *RunContext) Transform(fn func(*ContextBuilder)) *RunContext {
	b := &ContextBuilder{}
	if c != nil {
		b.Discovered, b.Processed, b.Step = c.discovered, c.processed, c.step
	}
	if fn != nil {
		fn(b)
	}
	return &RunContext{
		discovered: b.Discovered,
		processed:  b.Processed,
		step:       Wrap(b.Step, b.Interceptors...),
	}
}

// Detached returns a copy that keeps the counters but drops the step.
func (c *RunContext) Detached() *RunContext {
	if c == nil {
		return &RunContext{}
	}
	return &RunContext{discovered: c.discovered, processed: c.processed}
}

// Step returns the composed processing step, or nil on a detached snapshot.
func (c *RunContext) Step() Step {
	if c == nil {
		return nil
	}
	return c.step
}

// Discovered is the cumulative number of successors found in the run.
func (c *RunContext) Discovered() int {
	if c == nil {
		return 0
	}
	return c.discovered
}

// Processed is the cumulative number of resources processed in the run.
func (c *RunContext) Processed() int {
	if c == nil {
		return 0
	}
	return c.processed
}
