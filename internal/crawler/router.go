package crawler

import (
	"context"
	"fmt"
	"regexp"
)

// Predicate selects resources.
type Predicate func(r *Resource) bool

// Route assigns Step to every resource matched by Match.
type Route struct {
	Match Predicate
	Step  Step
}

// Router dispatches each resource to the first matching route, falling back
// to a default step.
type Router struct {
	routes   []Route
	fallback Step
}

// NewRouter builds a Router. fallback may be nil, in which case unmatched
// resources fail with ErrNoProcessingAssigned.
func NewRouter(fallback Step, routes ...Route) *Router {
	return &Router{
		routes:   append([]Route(nil), routes...),
		fallback: fallback,
	}
}

// Route returns the step assigned to r.
func (rt *Router) Route(r *Resource) (Step, error) {
	for _, route := range rt.routes {
		if route.Match != nil && route.Step != nil && route.Match(r) {
			return route.Step, nil
		}
	}
	if rt.fallback != nil {
		return rt.fallback, nil
	}
	return nil, fmt.Errorf("route %s: %w", r.URL, ErrNoProcessingAssigned)
}

// Process implements Step by delegating to the routed step.
func (rt *Router) Process(ctx context.Context, r *Resource) ([]*Resource, error) {
	step, err := rt.Route(r)
	if err != nil {
		return nil, err
	}
	return step.Process(ctx, r)
}

// MatchURL compiles expr into a Predicate over the resource address.
func MatchURL(expr string) (Predicate, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern %q: %w", expr, err)
	}
	return func(r *Resource) bool {
		return re.MatchString(r.URL)
	}, nil
}
