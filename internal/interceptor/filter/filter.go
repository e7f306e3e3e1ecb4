// Package filter holds the before-processing checks that may skip a
// resource: the depth ceiling, circular links, and configured rules. Every
// skip is announced on the event channel with its reason.
package filter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Priorities of the filters.
const (
	PriorityMaxDepth = math.MinInt
	PriorityCircular = math.MinInt + 100
	PriorityCustom   = math.MinInt + 100
)

func skip(bus crawler.Publisher, logger *zap.Logger, r *crawler.Resource, reason string, evt crawler.Event) crawler.Outcome {
	logger.Debug("resource skipped", zap.String("url", r.URL), zap.String("reason", reason))
	bus.Publish(evt)
	return crawler.Skip(reason)
}

func defaults(bus crawler.Publisher, logger *zap.Logger) (crawler.Publisher, *zap.Logger) {
	if bus == nil {
		bus = crawler.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return bus, logger
}

// MaxDepth skips resources deeper than a ceiling. A negative ceiling
// disables it.
type MaxDepth struct {
	limit  int
	bus    crawler.Publisher
	logger *zap.Logger
}

// NewMaxDepth returns a MaxDepth filter.
func NewMaxDepth(limit int, bus crawler.Publisher, logger *zap.Logger) *MaxDepth {
	bus, logger = defaults(bus, logger)
	return &MaxDepth{limit: limit, bus: bus, logger: logger}
}

// Priority implements crawler.Interceptor.
func (f *MaxDepth) Priority() int {
	return PriorityMaxDepth
}

// BeforeProcessing implements crawler.BeforeHook.
func (f *MaxDepth) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	if f.limit < 0 || r.Depth <= f.limit {
		return crawler.Continue()
	}
	reason := fmt.Sprintf("depth %d exceeds max depth %d", r.Depth, f.limit)
	return skip(f.bus, f.logger, r, reason, crawler.ProcessingSkipped(r, reason))
}

// LandingPolicy decides when a landing resource may pass the circular check
// even though its address was already seen.
type LandingPolicy string

const (
	// LandingFirstPass exempts the first depth-zero resource checked in the
	// run, once.
	LandingFirstPass LandingPolicy = "first_pass"
	// LandingProcessedCountOne exempts any resource checked while the run
	// context reports exactly one processed resource.
	LandingProcessedCountOne LandingPolicy = "processed_count_one"
)

// ParseLandingPolicy maps configuration strings to a policy. Empty selects
// LandingFirstPass.
func ParseLandingPolicy(s string) (LandingPolicy, error) {
	switch LandingPolicy(s) {
	case "", LandingFirstPass:
		return LandingFirstPass, nil
	case LandingProcessedCountOne:
		return LandingProcessedCountOne, nil
	default:
		return "", fmt.Errorf("unknown landing policy %q", s)
	}
}

// Circular skips any resource whose address was already admitted in this
// run. Addresses restored as processed count as admitted.
type Circular struct {
	seen    sync.Map
	policy  LandingPolicy
	landing atomic.Bool
	bus     crawler.Publisher
	logger  *zap.Logger
}

// NewCircular returns a Circular filter.
func NewCircular(policy LandingPolicy, bus crawler.Publisher, logger *zap.Logger) *Circular {
	if policy == "" {
		policy = LandingFirstPass
	}
	bus, logger = defaults(bus, logger)
	return &Circular{policy: policy, bus: bus, logger: logger}
}

// Priority implements crawler.Interceptor.
func (f *Circular) Priority() int {
	return PriorityCircular
}

// BeforeProcessing implements crawler.BeforeHook.
func (f *Circular) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	firstLanding := r.Depth == 0 && f.landing.CompareAndSwap(false, true)
	if _, loaded := f.seen.LoadOrStore(r.URL, struct{}{}); !loaded {
		return crawler.Continue()
	}
	if f.exempt(r, firstLanding) {
		return crawler.Continue()
	}
	reason := fmt.Sprintf("the resource %q at %s has already been processed", r.Name, r.URL)
	return skip(f.bus, f.logger, r, reason, crawler.ProcessingSkipped(r, reason))
}

func (f *Circular) exempt(r *crawler.Resource, firstLanding bool) bool {
	switch f.policy {
	case LandingProcessedCountOne:
		return r.Context().Processed() == 1
	default:
		return firstLanding
	}
}

// Consume implements progress.Subscriber: resources restored as processed
// pre-seed the seen set.
func (f *Circular) Consume(_ context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		if evt.Kind == crawler.EventResourceRecovered && evt.WasProcessed && evt.Resource != nil {
			f.seen.Store(evt.Resource.URL, struct{}{})
		}
	}
	return nil
}

// Close implements progress.Subscriber.
func (f *Circular) Close(context.Context) error {
	return nil
}

// Rule excludes matching resources from processing. Skip decides, given a
// matching resource, whether to skip it and why. Message builds the event
// published on skip; nil publishes PROCESSING_SKIPPED.
type Rule struct {
	Match   crawler.Predicate
	Skip    func(r *crawler.Resource) (bool, string)
	Message func(r *crawler.Resource, reason string) crawler.Event
}

// SkipAlways is a Rule.Skip that always skips with reason.
func SkipAlways(reason string) func(*crawler.Resource) (bool, string) {
	return func(*crawler.Resource) (bool, string) {
		return true, reason
	}
}

// Custom applies the first matching rule.
type Custom struct {
	rules  []Rule
	bus    crawler.Publisher
	logger *zap.Logger
}

// NewCustom returns a Custom filter. Rules without Match or Skip are dropped.
func NewCustom(bus crawler.Publisher, logger *zap.Logger, rules ...Rule) *Custom {
	bus, logger = defaults(bus, logger)
	kept := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Match != nil && rule.Skip != nil {
			kept = append(kept, rule)
		}
	}
	return &Custom{rules: kept, bus: bus, logger: logger}
}

// Priority implements crawler.Interceptor.
func (f *Custom) Priority() int {
	return PriorityCustom
}

// BeforeProcessing implements crawler.BeforeHook.
func (f *Custom) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	for _, rule := range f.rules {
		if !rule.Match(r) {
			continue
		}
		skipped, reason := rule.Skip(r)
		if !skipped {
			return crawler.Continue()
		}
		if reason == "" {
			reason = "excluded by filter rule"
		}
		evt := crawler.ProcessingSkipped(r, reason)
		if rule.Message != nil {
			evt = rule.Message(r.Clone(), reason)
		}
		return skip(f.bus, f.logger, r, reason, evt)
	}
	return crawler.Continue()
}
