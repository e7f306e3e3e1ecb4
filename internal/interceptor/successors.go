package interceptor

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// NumberPlaceholder is replaced by a run-wide sequence number in successor
// name patterns.
const NumberPlaceholder = "${number}"

// DefaultNamePattern names successors that a step left unnamed.
const DefaultNamePattern = "page-" + NumberPlaceholder

// Successors post-processes the successors of every resource: it names the
// unnamed ones from a pattern, fixes their depth, and folds the processed
// and discovered counts into the run context.
type Successors struct {
	pattern string
	next    atomic.Int64
}

// NewSuccessors uses pattern, or DefaultNamePattern when empty.
func NewSuccessors(pattern string) *Successors {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultNamePattern
	}
	return &Successors{pattern: pattern}
}

// Priority implements crawler.Interceptor.
func (s *Successors) Priority() int {
	return PrioritySuccessors
}

// AfterProcessing implements crawler.AfterHook.
func (s *Successors) AfterProcessing(_ context.Context, r *crawler.Resource, successors []*crawler.Resource) {
	count := len(successors)
	if count > 0 {
		number := s.next.Add(int64(count)) - int64(count)
		for i, child := range successors {
			if child == nil {
				continue
			}
			child.Depth = r.Depth + 1
			if strings.TrimSpace(child.Name) == "" {
				child.Name = s.name(number + int64(i))
			}
		}
	}
	r.UpdateContext(func(c *crawler.RunContext) *crawler.RunContext {
		return c.Transform(func(b *crawler.ContextBuilder) {
			b.Processed++
			b.Discovered += count
		})
	})
}

func (s *Successors) name(number int64) string {
	return strings.ReplaceAll(s.pattern, NumberPlaceholder, strconv.FormatInt(number, 10))
}

// Consume implements progress.Subscriber. Each recovered resource consumes
// one sequence number so resumed runs do not reuse names.
func (s *Successors) Consume(_ context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		if evt.Kind == crawler.EventResourceRecovered {
			s.next.Add(1)
		}
	}
	return nil
}

// Close implements progress.Subscriber.
func (s *Successors) Close(context.Context) error {
	return nil
}
