// Package metrics exposes Prometheus collectors for crawl processing and the
// ops HTTP surface.
package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// Priority places the collector last in both phases so it times only
// resources that passed every filter and sees their final size.
const Priority = math.MaxInt

// Collector records per-resource processing metrics and HTTP request
// metrics. Register it once per registry.
type Collector struct {
	pagesTotal       *prometheus.CounterVec
	pageBytes        *prometheus.SummaryVec
	processingTime   *prometheus.HistogramVec
	successors       prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpRequestTimes *prometheus.HistogramVec

	started sync.Map
	now     func() time.Time
}

// NewCollector builds the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, fmt.Errorf("prometheus registerer is required")
	}
	c := &Collector{
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webwalker_pages_total",
			Help: "Total number of pages processed, labeled by site.",
		}, []string{"site"}),
		pageBytes: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "webwalker_page_size_bytes",
			Help:       "Size of processed page bodies, labeled by site.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"site"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webwalker_page_processing_seconds",
			Help:    "Time from the last before-hook to the last after-hook, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		successors: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webwalker_page_successors",
			Help:    "Number of successors found per processed page.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		now: time.Now,
	}
	for _, col := range []prometheus.Collector{
		c.pagesTotal, c.pageBytes, c.processingTime, c.successors, c.httpRequests, c.httpRequestTimes,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Priority implements crawler.Interceptor.
func (c *Collector) Priority() int {
	return Priority
}

// BeforeProcessing implements crawler.BeforeHook.
func (c *Collector) BeforeProcessing(_ context.Context, r *crawler.Resource) crawler.Outcome {
	c.started.Store(r, c.now())
	return crawler.Continue()
}

// AfterProcessing implements crawler.AfterHook.
func (c *Collector) AfterProcessing(_ context.Context, r *crawler.Resource, successors []*crawler.Resource) {
	site := SanitizeSite(r.URL)
	c.pagesTotal.WithLabelValues(site).Inc()
	c.pageBytes.WithLabelValues(site).Observe(float64(r.Size))
	c.successors.Observe(float64(len(successors)))
	if v, ok := c.started.LoadAndDelete(r); ok {
		if start, ok := v.(time.Time); ok {
			c.processingTime.WithLabelValues(site).Observe(c.now().Sub(start).Seconds())
		}
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collector) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestTimes.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
