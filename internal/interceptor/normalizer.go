package interceptor

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Normalizer canonicalizes the address of every resource before it is
// processed and of every successor it yields. Malformed addresses are logged
// and left alone.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer returns a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Priority implements crawler.Interceptor.
func (n *Normalizer) Priority() int {
	return PriorityNormalizer
}

// BeforeProcessing implements crawler.BeforeHook.
func (n *Normalizer) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	n.normalize(r)
	return crawler.Continue()
}

// AfterProcessing implements crawler.AfterHook.
func (n *Normalizer) AfterProcessing(_ context.Context, _ *crawler.Resource, successors []*crawler.Resource) {
	for _, child := range successors {
		if child != nil {
			n.normalize(child)
		}
	}
}

func (n *Normalizer) normalize(r *crawler.Resource) {
	normalized, err := crawler.NormalizeURL(r.URL)
	if err != nil {
		n.logger.Warn("url normalization failed", zap.String("url", r.URL), zap.Error(err))
		return
	}
	r.URL = normalized
}
