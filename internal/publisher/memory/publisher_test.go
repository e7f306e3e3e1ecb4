package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "topic-b", msgs[1].Topic)

	require.Equal(t, "memory-1", msgs[0].ID)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic)
}

func TestPayloadsFiltersByTopicAndType(t *testing.T) {
	t.Parallel()

	type event struct{ Kind string }
	pub := New()
	ctx := context.Background()
	for _, payload := range []any{event{"RUN_STARTED"}, "noise", event{"RUN_STOPPED"}} {
		_, err := pub.Publish(ctx, "crawl-events", payload)
		require.NoError(t, err)
	}
	_, err := pub.Publish(ctx, "other", event{"PROCESSING_STARTED"})
	require.NoError(t, err)

	got := Payloads[event](pub, "crawl-events")
	require.Equal(t, []event{{"RUN_STARTED"}, {"RUN_STOPPED"}}, got)
	require.Empty(t, Payloads[int](pub, "crawl-events"))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", 1)
	require.NoError(t, err)
}

func TestPublisherHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "t", 1)
	require.ErrorIs(t, err, context.Canceled)
}
