package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "events", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, New(nil).Close())
}

func TestOpenRequiresNames(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "topic")
	require.Error(t, err)
	_, err = Open(context.Background(), "project", "")
	require.Error(t, err)
}
