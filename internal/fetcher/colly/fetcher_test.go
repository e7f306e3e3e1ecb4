package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/fetcher"
)

type shop struct {
	*httptest.Server
	hits  atomic.Int32
	trace atomic.Value
}

func newShop(t *testing.T) *shop {
	t.Helper()
	s := &shop{}
	mux := http.NewServeMux()
	html := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.trace.Store(r.Header.Get("X-Trace"))
		html(w, `<html><head><title>Home</title></head><body>
<a href="/a">A</a><a href="/b#top">B</a><a href="/a">A dup</a>
<a href="http://other.example/x">elsewhere</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		html(w, `<html><body>leaf</body></html>`)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		html(w, `<html><body><a href="/secret">secret</a></body></html>`)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"href":"/a"}`)
	})
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			s.hits.Add(1)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func resourceAt(rawURL string) *crawler.Resource {
	return crawler.NewResource(nil, "shop", rawURL, "landing")
}

func pageOf(t *testing.T, r *crawler.Resource) fetcher.Page {
	t.Helper()
	page, ok := r.Payload.(fetcher.Page)
	require.True(t, ok, "payload is %T", r.Payload)
	return page
}

func TestProcessFollowsSameHostLinks(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{
		UserAgent:    "webwalker-test",
		IgnoreRobots: true,
		Timeout:      5 * time.Second,
		Headers:      http.Header{"X-Trace": {"yes"}},
	}, nil)

	r := resourceAt(srv.URL + "/")
	successors, err := step.Process(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, successors, 2)
	require.Equal(t, srv.URL+"/a", successors[0].URL)
	require.Equal(t, srv.URL+"/b", successors[1].URL)
	for _, s := range successors {
		require.Equal(t, 1, s.Depth)
		require.Equal(t, "shop", s.RunName)
	}
	require.Contains(t, r.Body, "<title>Home</title>")
	require.Equal(t, "yes", srv.trace.Load())

	page := pageOf(t, r)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "Home", page.Title)
	require.False(t, page.Preloaded)
}

func TestProcessPreloadedBodySkipsFetch(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{IgnoreRobots: true}, nil)

	r := resourceAt(srv.URL + "/catalog/")
	r.Body = `<a href="item-1">one</a><a href="/a">a</a>`
	successors, err := step.Process(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, successors, 2)
	require.Equal(t, srv.URL+"/catalog/item-1", successors[0].URL)
	require.Equal(t, srv.URL+"/a", successors[1].URL)
	require.Zero(t, srv.hits.Load())
	require.True(t, pageOf(t, r).Preloaded)
}

func TestProcessErrorStatusHasNoSuccessors(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{IgnoreRobots: true}, nil)

	r := resourceAt(srv.URL + "/missing")
	successors, err := step.Process(context.Background(), r)
	require.NoError(t, err)
	require.Empty(t, successors)
	require.Equal(t, http.StatusNotFound, pageOf(t, r).StatusCode)
}

func TestProcessNonHTMLHasNoSuccessors(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{IgnoreRobots: true}, nil)

	r := resourceAt(srv.URL + "/data.json")
	successors, err := step.Process(context.Background(), r)
	require.NoError(t, err)
	require.Empty(t, successors)
	require.Equal(t, `{"href":"/a"}`, r.Body)
}

func TestProcessHonorsRobots(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{Timeout: 5 * time.Second}, nil)

	blocked := resourceAt(srv.URL + "/private")
	successors, err := step.Process(context.Background(), blocked)
	require.NoError(t, err)
	require.Empty(t, successors)
	require.Empty(t, blocked.Body)
	require.Equal(t, string(robotsStatusDisallowed), pageOf(t, blocked).RobotsStatus)

	allowed := resourceAt(srv.URL + "/a")
	_, err = step.Process(context.Background(), allowed)
	require.NoError(t, err)
	require.Contains(t, allowed.Body, "leaf")
}

func TestProcessUnreachableHostFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/"
	srv.Close()

	step := New(Config{IgnoreRobots: true, Timeout: time.Second}, nil)
	_, err := step.Process(context.Background(), resourceAt(target))
	require.Error(t, err)
}

func TestProcessCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{IgnoreRobots: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := step.Process(ctx, resourceAt(srv.URL+"/"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchBody(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	step := New(Config{IgnoreRobots: true}, nil)

	body, err := step.FetchBody(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	require.Contains(t, body, "leaf")

	_, err = step.FetchBody(context.Background(), srv.URL+"/missing")
	require.ErrorContains(t, err, "status 404")
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	step := New(Config{UserAgent: "coverage-agent", IgnoreRobots: true, Timeout: time.Second}, nil)
	collector, robots := step.buildCollector(context.Background(), &fetchResult{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.Nil(t, robots)

	step = New(Config{}, nil)
	collector, robots = step.buildCollector(context.Background(), &fetchResult{}, new(error))
	require.False(t, collector.IgnoreRobotsTxt)
	require.NotNil(t, robots)
	require.Equal(t, defaultTimeout, step.cfg.Timeout)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	step := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	var result fetchResult
	var fetchErr error

	hooks := &stubHooks{}
	step.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://shop.example")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "text/html", result.ContentType)
	require.Equal(t, "https://shop.example", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	step := New(Config{}, nil)
	collyReq := &colly.Request{Headers: &http.Header{}}
	step.copyHeaders(collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
