package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/fetcher"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	step, err := New(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(step.Close)
	require.NotNil(t, step.slots)
	require.Equal(t, defaultNavigationTimeout, step.cfg.NavigationTimeout)
	require.Equal(t, defaultSettleDelay, step.cfg.SettleDelay)

	unbounded, err := New(Config{NavigationTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(unbounded.Close)
	require.Nil(t, unbounded.slots)
	require.Equal(t, time.Second, unbounded.cfg.NavigationTimeout)
}

func TestRenderWaitsForSlot(t *testing.T) {
	t.Parallel()

	step, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(step.Close)
	require.True(t, step.slots.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = step.FetchBody(ctx, "https://shop.example/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "headless slot")
}

func TestProcessPreloadedBodySkipsBrowser(t *testing.T) {
	t.Parallel()

	step, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(step.Close)

	r := crawler.NewResource(nil, "shop", "https://shop.example/list/", "landing")
	r.Body = `<title>List</title><a href="p1">1</a><a href="https://cdn.example/x">cdn</a>`
	successors, err := step.Process(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, successors, 1)
	require.Equal(t, "https://shop.example/list/p1", successors[0].URL)

	page, ok := r.Payload.(fetcher.Page)
	require.True(t, ok)
	require.True(t, page.Preloaded)
	require.Equal(t, "List", page.Title)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := networkHeaders(http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-None": {}})
	require.Equal(t, []string{"a", "b"}, got["X-Test"])
	require.Equal(t, "1", got["X-One"])
	require.NotContains(t, got, "X-None")
	require.Empty(t, networkHeaders(nil))
}

func TestDocumentWatcherKeepsLastDocument(t *testing.T) {
	t.Parallel()

	var w documentWatcher
	w.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 301, URL: "https://shop.example/old"},
	})
	w.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  204,
			URL:     "https://shop.example/rendered",
			Headers: network.Headers{"content-type": "text/html", "X-Multi": []any{"a", 2}},
		},
	})
	w.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://shop.example/logo.png"},
	})
	w.observe("not an event")

	page := w.page("https://req", "")
	require.Equal(t, 204, page.StatusCode)
	require.Equal(t, "text/html", page.ContentType)
	require.Equal(t, "https://shop.example/rendered", page.URL)
	require.Equal(t, []string{"a", "2"}, w.headers.Values("X-Multi"))
}

func TestDocumentWatcherFallbacks(t *testing.T) {
	t.Parallel()

	var w documentWatcher
	page := w.page("https://req", "https://final")
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "https://final", page.URL)
	require.Empty(t, page.ContentType)

	require.Equal(t, "https://req", w.page("https://req", "").URL)
}
