package interceptor

import (
	"context"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// SizeInitializer records the body length of resources whose step did not
// report a size.
type SizeInitializer struct{}

// Priority implements crawler.Interceptor.
func (SizeInitializer) Priority() int {
	return PrioritySizeInitializer
}

// AfterProcessing implements crawler.AfterHook.
func (SizeInitializer) AfterProcessing(_ context.Context, r *crawler.Resource, _ []*crawler.Resource) {
	if r.Size == 0 {
		r.Size = int64(len(r.Body))
	}
}
