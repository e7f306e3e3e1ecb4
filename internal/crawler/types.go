package crawler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Resource is one crawlable unit. Interceptors mutate its exported fields
// while it moves through the pipeline; once its successors have been
// requested the engine treats it as read-only and hands out clones.
type Resource struct {
	RunName string `json:"run_name"`
	URL     string `json:"url"`
	Name    string `json:"name"`
	// Body holds the raw page source or, once externalized, a URI pointing at it.
	Body    string `json:"body,omitempty"`
	DelayMs int    `json:"delay_ms"`
	Depth   int    `json:"depth"`
	Size    int64  `json:"size"`
	// Payload must be JSON-serializable. Resources restored from a recovery
	// archive carry it as a json.RawMessage; decode it into the step's type.
	Payload any    `json:"payload,omitempty"`

	ref *ContextRef

	expand     sync.Once
	successors []*Resource
	expandErr  error
}

// NewResource builds a depth-zero resource bound to ref.
func NewResource(ref *ContextRef, runName, rawURL, name string) *Resource {
	return &Resource{
		RunName: runName,
		URL:     rawURL,
		Name:    name,
		ref:     ref,
	}
}

// Successor creates a child of r that shares r's context reference.
func (r *Resource) Successor(rawURL string) *Resource {
	return &Resource{
		RunName: r.RunName,
		URL:     rawURL,
		Depth:   r.Depth + 1,
		ref:     r.ref,
	}
}

// Context returns the snapshot currently bound to the resource.
func (r *Resource) Context() *RunContext {
	if r == nil || r.ref == nil {
		return nil
	}
	return r.ref.Load()
}

// ContextRef exposes the shared reference so collaborators can rebind or
// transform the run context.
func (r *Resource) ContextRef() *ContextRef {
	return r.ref
}

// Bind attaches the resource to ref. Restored resources use it because the
// composed step cannot be serialized.
func (r *Resource) Bind(ref *ContextRef) {
	r.ref = ref
}

// UpdateContext atomically replaces the bound context with fn's result.
func (r *Resource) UpdateContext(fn func(*RunContext) *RunContext) *RunContext {
	if r.ref == nil {
		return nil
	}
	return r.ref.Update(fn)
}

// Successors runs the bound step on first call and caches the result (and
// error) for the lifetime of the resource.
func (r *Resource) Successors(ctx context.Context) ([]*Resource, error) {
	r.expand.Do(func() {
		step := r.Context().Step()
		if step == nil {
			r.expandErr = ErrNoStepBound
			return
		}
		r.successors, r.expandErr = step.Process(ctx, r)
	})
	return r.successors, r.expandErr
}

// Clone copies the resource data and detaches it from the live run: the
// copy carries a snapshot of the counters but no step.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	return &Resource{
		RunName: r.RunName,
		URL:     r.URL,
		Name:    r.Name,
		Body:    r.Body,
		DelayMs: r.DelayMs,
		Depth:   r.Depth,
		Size:    r.Size,
		Payload: r.Payload,
		ref:     NewContextRef(r.Context().Detached()),
	}
}

// ContextRef is the atomically swappable holder of a RunContext shared by a
// resource and the successors it creates.
type ContextRef struct {
	p atomic.Pointer[RunContext]
}

// NewContextRef returns a reference holding c.
func NewContextRef(c *RunContext) *ContextRef {
	ref := &ContextRef{}
	ref.p.Store(c)
	return ref
}

// Load returns the current snapshot.
func (r *ContextRef) Load() *RunContext {
	if r == nil {
		return nil
	}
	return r.p.Load()
}

// Store replaces the snapshot unconditionally.
func (r *ContextRef) Store(c *RunContext) {
	r.p.Store(c)
}

// Update applies fn until the compare-and-swap succeeds and returns the
// stored snapshot. fn must be pure; it may run more than once.
func (r *ContextRef) Update(fn func(*RunContext) *RunContext) *RunContext {
	for {
		cur := r.p.Load()
		next := fn(cur)
		if r.p.CompareAndSwap(cur, next) {
			return next
		}
	}
}
