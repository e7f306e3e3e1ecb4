// Package sinks implements event subscribers: structured logging,
// Prometheus counters, forwarding to a message publisher, page-body export
// to blob storage, and an in-memory run status used by the ops API. Each
// sink satisfies progress.Subscriber.
package sinks
