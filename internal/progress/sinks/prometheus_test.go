package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	page := &crawler.Resource{URL: "https://Example.com/a", Size: 1024}
	started := crawler.RunStarted("run-1", "docs")
	stopped := crawler.RunStopped("run-1", "docs", false)
	stopped.TS = started.TS.Add(15 * time.Second)
	batch := []crawler.Event{
		started,
		crawler.ProcessingStarted(page),
		crawler.ProcessingCompleted(page),
		crawler.ProcessingSkipped(page, "circular link"),
		stopped,
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStopped.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsStopped.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.InDelta(t, 1.0,
		testutil.ToFloat64(sink.resourceEvents.WithLabelValues("example.com", string(crawler.EventProcessingSkipped))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.resourceBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "webwalker_run_runtime_seconds"))
}

// TestPrometheusSinkDoubleRegistration surfaces registry conflicts as errors.
func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
