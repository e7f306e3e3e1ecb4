package crawler

import (
	"context"
	"io"
	"time"
)

// Step processes one resource and returns its successors in discovery order.
type Step interface {
	Process(ctx context.Context, r *Resource) ([]*Resource, error)
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, r *Resource) ([]*Resource, error)

// Process calls f.
func (f StepFunc) Process(ctx context.Context, r *Resource) ([]*Resource, error) {
	return f(ctx, r)
}

// Interceptor is a hook woven around a Step. Lower priorities run first for
// both hook kinds. An interceptor participates by also implementing
// BeforeHook, AfterHook, or both.
type Interceptor interface {
	Priority() int
}

// BeforeHook runs ahead of the step and may skip the resource.
type BeforeHook interface {
	Interceptor
	BeforeProcessing(ctx context.Context, r *Resource) Outcome
}

// AfterHook runs once the step has returned successors.
type AfterHook interface {
	Interceptor
	AfterProcessing(ctx context.Context, r *Resource, successors []*Resource)
}

// Publisher accepts lifecycle events. progress.Bus satisfies it.
type Publisher interface {
	Publish(evt Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}

// Recovery persists run progress for crash recovery. recovery.Service
// satisfies it.
type Recovery interface {
	Restore(ctx context.Context, rc *RunContext) ([]*Resource, error)
	Backup(ctx context.Context) error
	Clear(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests used to derive stable object keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
