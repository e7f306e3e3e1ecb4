// Package completion reports when every successor of a resource has been
// processed.
//
// The Tracker is an after-processing interceptor that keeps a directed graph
// of addresses. Each edge parent→child stores the child snapshot seen when
// the parent was expanded. When a resource finishes, every parent whose
// children are now all processed is reported once with a
// SUCCESSORS_COMPLETE event.
package completion

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Priority places the tracker after successor post-processing so it sees
// normalized, named children.
const Priority = 0

// Tracker is safe for concurrent use. One Tracker serves one run.
type Tracker struct {
	bus    crawler.Publisher
	logger *zap.Logger

	mu        sync.Mutex
	children  map[string]map[string]*crawler.Resource
	parents   map[string]map[string]struct{}
	processed map[string]struct{}
	reported  map[string]struct{}
}

// New returns an empty Tracker publishing to bus.
func New(bus crawler.Publisher, logger *zap.Logger) *Tracker {
	if bus == nil {
		bus = crawler.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		bus:       bus,
		logger:    logger,
		children:  make(map[string]map[string]*crawler.Resource),
		parents:   make(map[string]map[string]struct{}),
		processed: make(map[string]struct{}),
		reported:  make(map[string]struct{}),
	}
}

// Priority implements crawler.Interceptor.
func (t *Tracker) Priority() int {
	return Priority
}

// AfterProcessing records r's edges, marks r processed, and reports every
// parent whose successors are now complete.
func (t *Tracker) AfterProcessing(_ context.Context, r *crawler.Resource, successors []*crawler.Resource) {
	events := t.complete(r, successors)
	for _, evt := range events {
		t.logger.Debug("successors complete", zap.String("parent", evt.Parent), zap.String("url", evt.URL()))
		t.bus.Publish(evt)
	}
}

func (t *Tracker) complete(r *crawler.Resource, successors []*crawler.Resource) []crawler.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := r.URL
	for _, child := range successors {
		if child == nil {
			continue
		}
		edges, ok := t.children[addr]
		if !ok {
			edges = make(map[string]*crawler.Resource)
			t.children[addr] = edges
		}
		edges[child.URL] = child.Clone()
		t.addParent(child.URL, addr)
	}
	t.processed[addr] = struct{}{}

	var events []crawler.Event
	// r's own children may already be done when they were reached earlier
	// through another parent.
	candidates := make([]string, 0, len(t.parents[addr])+1)
	candidates = append(candidates, addr)
	for parent := range t.parents[addr] {
		if parent != addr {
			candidates = append(candidates, parent)
		}
	}
	for _, parent := range candidates {
		if !t.ready(parent) {
			continue
		}
		t.reported[parent] = struct{}{}
		edge := t.children[parent][addr]
		if edge == nil {
			edge = t.lastChild(parent)
		}
		events = append(events, crawler.SuccessorsComplete(parent, edge))
	}
	return events
}

func (t *Tracker) addParent(child, parent string) {
	set, ok := t.parents[child]
	if !ok {
		set = make(map[string]struct{})
		t.parents[child] = set
	}
	set[parent] = struct{}{}
}

// ready reports whether parent has children, all processed, and was not
// reported yet. The caller holds mu.
func (t *Tracker) ready(parent string) bool {
	if _, done := t.reported[parent]; done {
		return false
	}
	edges := t.children[parent]
	if len(edges) == 0 {
		return false
	}
	for child := range edges {
		if _, ok := t.processed[child]; !ok {
			return false
		}
	}
	return true
}

// lastChild picks a deterministic edge when the completing resource is not
// a child of parent (parent finished after all its children).
func (t *Tracker) lastChild(parent string) *crawler.Resource {
	var pick string
	for child := range t.children[parent] {
		if pick == "" || child > pick {
			pick = child
		}
	}
	return t.children[parent][pick]
}

// Consume implements progress.Subscriber. Addresses restored as processed
// count as processed for completion checks.
func (t *Tracker) Consume(_ context.Context, batch []crawler.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		if evt.Kind != crawler.EventResourceRecovered || evt.Resource == nil {
			continue
		}
		if evt.WasProcessed {
			t.processed[evt.Resource.URL] = struct{}{}
		}
	}
	return nil
}

// Close implements progress.Subscriber.
func (t *Tracker) Close(context.Context) error {
	return nil
}
