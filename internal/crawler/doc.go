// Package crawler implements the crawl orchestration core: the Resource model
// and its immutable RunContext, the before/after interceptor pipeline, the
// first-match router, URL canonicalization, lifecycle events, and the lazy
// breadth-first/depth-first traversal engine that ties them together.
package crawler
