// Package progress implements the event channel that carries crawl
// lifecycle events from the engine and its interceptors to subscribers. The
// Bus delivers either synchronously on the publishing goroutine or
// asynchronously in batches on a background goroutine, and it shields
// publishers from subscriber failures.
package progress
