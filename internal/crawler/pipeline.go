package crawler

import (
	"cmp"
	"context"
	"slices"
)

// Outcome is the verdict of a before-hook: continue processing or skip the
// resource with a human-readable reason.
type Outcome struct {
	skip   bool
	reason string
}

// Continue lets the pipeline proceed.
func Continue() Outcome {
	return Outcome{}
}

// Skip stops the pipeline for the current resource.
func Skip(reason string) Outcome {
	return Outcome{skip: true, reason: reason}
}

// Skipped reports whether the outcome stops processing.
func (o Outcome) Skipped() bool {
	return o.skip
}

// Reason returns the skip reason; it is empty for Continue.
func (o Outcome) Reason() string {
	return o.reason
}

// pipeline is a Step decorated with ordered before/after hooks.
type pipeline struct {
	step         Step
	interceptors []Interceptor
	before       []BeforeHook
	after        []AfterHook
}

// Wrap returns a Step that runs every before-hook in ascending priority,
// then step, then every after-hook in that same order. A skip from any
// before-hook ends the call with no successors and no error; the step and
// the after-hooks do not run. Wrapping an already wrapped step merges the
// hook lists instead of nesting, so Wrap(Wrap(s, a...)) == Wrap(s, a...).
func Wrap(step Step, interceptors ...Interceptor) Step {
	if step == nil {
		return nil
	}
	if len(interceptors) == 0 {
		return step
	}
	existing, wrapped := step.(*pipeline)
	var all []Interceptor
	if wrapped {
		step = existing.step
		all = append(all, existing.interceptors...)
	}
	for _, in := range interceptors {
		if in != nil {
			all = append(all, in)
		}
	}
	slices.SortStableFunc(all, func(a, b Interceptor) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	p := &pipeline{step: step, interceptors: all}
	for _, in := range all {
		if h, ok := in.(BeforeHook); ok {
			p.before = append(p.before, h)
		}
		if h, ok := in.(AfterHook); ok {
			p.after = append(p.after, h)
		}
	}
	return p
}

// Process implements Step.
func (p *pipeline) Process(ctx context.Context, r *Resource) ([]*Resource, error) {
	for _, h := range p.before {
		if h.BeforeProcessing(ctx, r).Skipped() {
			return nil, nil
		}
	}
	successors, err := p.step.Process(ctx, r)
	if err != nil {
		return nil, err
	}
	for _, h := range p.after {
		h.AfterProcessing(ctx, r, successors)
	}
	return successors, nil
}

// Hooks builds an interceptor from plain functions. Nil functions are no-ops.
type Hooks struct {
	Order  int
	Before func(ctx context.Context, r *Resource) Outcome
	After  func(ctx context.Context, r *Resource, successors []*Resource)
}

// Priority implements Interceptor.
func (h Hooks) Priority() int {
	return h.Order
}

// BeforeProcessing implements BeforeHook.
func (h Hooks) BeforeProcessing(ctx context.Context, r *Resource) Outcome {
	if h.Before == nil {
		return Continue()
	}
	return h.Before(ctx, r)
}

// AfterProcessing implements AfterHook.
func (h Hooks) AfterProcessing(ctx context.Context, r *Resource, successors []*Resource) {
	if h.After != nil {
		h.After(ctx, r, successors)
	}
}
