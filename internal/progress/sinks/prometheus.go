package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/metrics"
)

// PrometheusSink exports crawl lifecycle metrics via Prometheus. It owns
// the collectors for runs started/stopped/running and per-site resource
// event counters.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsStopped *prometheus.CounterVec
	runsRunning prometheus.Gauge
	runRuntime  *prometheus.HistogramVec

	resourceEvents *prometheus.CounterVec
	resourceBytes  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webwalker_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webwalker_runs_stopped_total",
			Help: "Total runs stopped partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webwalker_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webwalker_run_runtime_seconds",
			Help:    "Wall time per stopped run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		resourceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webwalker_resource_events_total",
			Help: "Resource lifecycle events partitioned by site and kind.",
		}, []string{"site", "kind"}),
		resourceBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webwalker_resource_bytes_total",
			Help: "Bytes of processed resources per site.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsStopped,
		s.runsRunning,
		s.runRuntime,
		s.resourceEvents,
		s.resourceBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []crawler.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt crawler.Event) {
	switch evt.Kind {
	case crawler.EventRunStarted:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID, evt.TS) {
			s.runsRunning.Inc()
		}
	case crawler.EventRunStopped:
		result := "success"
		if evt.Abnormal {
			result = "error"
		}
		s.runsStopped.WithLabelValues(result).Inc()
		if started, ok := s.tracker.complete(evt.RunID); ok {
			s.runsRunning.Dec()
			if dur := evt.TS.Sub(started); dur > 0 {
				s.runRuntime.WithLabelValues(result).Observe(dur.Seconds())
			}
		}
	default:
		if evt.Resource == nil {
			return
		}
		site := metrics.SanitizeSite(evt.Resource.URL)
		s.resourceEvents.WithLabelValues(site, string(evt.Kind)).Inc()
		if evt.Kind == crawler.EventProcessingCompleted && evt.Resource.Size > 0 {
			s.resourceBytes.WithLabelValues(site).Add(float64(evt.Resource.Size))
		}
	}
}

// Close implements the Subscriber interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]time.Time)}
}

func (t *runTracker) start(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *runTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return started, true
}
