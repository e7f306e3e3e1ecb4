package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwalker/internal/crawler"
)

func TestStatusSinkTracksRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	page := &crawler.Resource{URL: "http://example.com/a"}
	started := crawler.RunStarted("run-1", "docs")

	require.NoError(t, sink.Consume(context.Background(), []crawler.Event{
		started,
		crawler.ProcessingStarted(page),
		crawler.ProcessingCompleted(page),
		crawler.ProcessingSkipped(page, "circular link"),
	}))

	snap := sink.Snapshot()
	require.True(t, snap.Running)
	require.Equal(t, "run-1", snap.RunID)
	require.Equal(t, "docs", snap.Run)
	require.Equal(t, started.TS, snap.StartedAt)
	require.Equal(t, "http://example.com/a", snap.LastURL)
	require.Equal(t, int64(1), snap.Counts["PROCESSING_COMPLETED"])
	require.Equal(t, int64(1), snap.Counts["PROCESSING_SKIPPED"])

	snap.Counts["PROCESSING_COMPLETED"] = 99
	require.Equal(t, int64(1), sink.Snapshot().Counts["PROCESSING_COMPLETED"])

	require.NoError(t, sink.Consume(context.Background(), []crawler.Event{crawler.RunStopped("run-1", "docs", true)}))
	snap = sink.Snapshot()
	require.False(t, snap.Running)
	require.True(t, snap.Abnormal)
	require.False(t, snap.StoppedAt.IsZero())
}

func TestStatusSinkResetsOnNewRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	page := &crawler.Resource{URL: "http://example.com/a"}
	require.NoError(t, sink.Consume(context.Background(), []crawler.Event{
		crawler.RunStarted("run-1", "docs"),
		crawler.ProcessingCompleted(page),
		crawler.RunStopped("run-1", "docs", false),
		crawler.RunStarted("run-2", "docs"),
	}))
	snap := sink.Snapshot()
	require.Equal(t, "run-2", snap.RunID)
	require.Empty(t, snap.Counts)
	require.Empty(t, snap.LastURL)
	require.True(t, snap.StoppedAt.IsZero())
}
