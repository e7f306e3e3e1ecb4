package interceptor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// BodyFetcher downloads the raw body of an address.
type BodyFetcher interface {
	FetchBody(ctx context.Context, url string) (string, error)
}

// Preloader fetches the bodies of new successors in parallel right after
// their parent is processed, so the step that later handles them can parse
// without a round trip. Fetch failures are logged and leave Body empty.
type Preloader struct {
	fetcher  BodyFetcher
	parallel int
	logger   *zap.Logger
}

// NewPreloader bounds concurrent fetches to parallel (at least 1).
func NewPreloader(fetcher BodyFetcher, parallel int, logger *zap.Logger) *Preloader {
	if parallel < 1 {
		parallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preloader{fetcher: fetcher, parallel: parallel, logger: logger}
}

// Priority implements crawler.Interceptor.
func (p *Preloader) Priority() int {
	return PriorityPreloader
}

// AfterProcessing implements crawler.AfterHook.
func (p *Preloader) AfterProcessing(ctx context.Context, _ *crawler.Resource, successors []*crawler.Resource) {
	if p.fetcher == nil || len(successors) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(p.parallel)
	for _, child := range successors {
		if child == nil || child.Body != "" {
			continue
		}
		g.Go(func() error {
			body, err := p.fetcher.FetchBody(ctx, child.URL)
			if err != nil {
				p.logger.Warn("preload failed", zap.String("url", child.URL), zap.Error(err))
				return nil
			}
			child.Body = body
			return nil
		})
	}
	_ = g.Wait()
}
