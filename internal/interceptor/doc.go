// Package interceptor provides the supporting hooks woven around a crawl
// step: address normalization, successor bookkeeping, politeness delays,
// lifecycle notifications, body externalization and body preloading.
//
// Hooks run in ascending priority for both phases. The constants below fix
// the relative order used by the application wiring.
package interceptor

import "math"

// Priorities of the interceptors in this package.
const (
	PriorityNormalizer        = math.MinInt
	PrioritySuccessors        = math.MinInt + 50
	PrioritySizeInitializer   = math.MinInt + 100
	PriorityStartNotifier     = math.MinInt + 200
	PriorityDelay             = 0
	PriorityBodyPersister     = math.MaxInt - 200
	PriorityPreloader         = math.MaxInt - 100
	PriorityMessageDispatcher = math.MaxInt - 100
)
