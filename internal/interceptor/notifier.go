package interceptor

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// StartNotifier publishes PROCESSING_STARTED for every resource that passed
// the filters.
type StartNotifier struct {
	bus    crawler.Publisher
	logger *zap.Logger
}

// NewStartNotifier returns a StartNotifier.
func NewStartNotifier(bus crawler.Publisher, logger *zap.Logger) *StartNotifier {
	if bus == nil {
		bus = crawler.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StartNotifier{bus: bus, logger: logger}
}

// Priority implements crawler.Interceptor.
func (n *StartNotifier) Priority() int {
	return PriorityStartNotifier
}

// BeforeProcessing implements crawler.BeforeHook.
func (n *StartNotifier) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	n.logger.Debug("processing started", zap.String("name", r.Name), zap.String("url", r.URL))
	n.bus.Publish(crawler.ProcessingStarted(r))
	return crawler.Continue()
}

// MessageRule maps matching resources to a custom completion message.
type MessageRule struct {
	Match   crawler.Predicate
	Message func(r *crawler.Resource) crawler.Event
}

// MessageDispatcher publishes the completion message of the first matching
// rule, or PROCESSING_COMPLETED when none matches.
type MessageDispatcher struct {
	bus    crawler.Publisher
	rules  []MessageRule
	logger *zap.Logger
}

// NewMessageDispatcher returns a MessageDispatcher. Rules without a
// predicate or factory are ignored.
func NewMessageDispatcher(bus crawler.Publisher, logger *zap.Logger, rules ...MessageRule) *MessageDispatcher {
	if bus == nil {
		bus = crawler.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]MessageRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Match != nil && rule.Message != nil {
			kept = append(kept, rule)
		}
	}
	return &MessageDispatcher{bus: bus, rules: kept, logger: logger}
}

// Priority implements crawler.Interceptor.
func (d *MessageDispatcher) Priority() int {
	return PriorityMessageDispatcher
}

// AfterProcessing implements crawler.AfterHook.
func (d *MessageDispatcher) AfterProcessing(_ context.Context, r *crawler.Resource, _ []*crawler.Resource) {
	for _, rule := range d.rules {
		if rule.Match(r) {
			d.logger.Debug("custom completion message", zap.String("url", r.URL))
			d.bus.Publish(rule.Message(r.Clone()))
			return
		}
	}
	d.logger.Debug("processing completed", zap.String("name", r.Name), zap.String("url", r.URL))
	d.bus.Publish(crawler.ProcessingCompleted(r))
}
