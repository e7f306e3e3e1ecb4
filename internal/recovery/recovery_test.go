package recovery

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webwalker/internal/clock/system"
	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/recovery/pointer"
)

type recorder struct {
	mu     sync.Mutex
	events []crawler.Event
}

func (r *recorder) Publish(evt crawler.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// recovered returns one "url=wasProcessed" line per recovery event, in
// publish order, so repeated announcements show up.
func (r *recorder) recovered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.Kind == crawler.EventResourceRecovered {
			out = append(out, fmt.Sprintf("%s=%t", evt.URL(), evt.WasProcessed))
		}
	}
	return out
}

var backupTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newService(t *testing.T, store pointer.Store, dir string, bus crawler.Publisher) *Service {
	t.Helper()
	svc, err := New(store, bus, WithDir(dir), WithClock(system.Fixed(backupTime)))
	require.NoError(t, err)
	return svc
}

func res(url, name string, depth int) *crawler.Resource {
	return &crawler.Resource{RunName: "docs", URL: url, Name: name, Depth: depth}
}

func TestBackupWritesArchiveLayout(t *testing.T) {
	t.Parallel()

	store := pointer.NewMemory()
	dir := t.TempDir()
	svc := newService(t, store, dir, nil)
	ctx := context.Background()

	svc.AfterProcessing(ctx, res("http://x/", "landing", 0), []*crawler.Resource{
		res("http://x/a", "page", 1),
		res("http://x/b", "page", 1),
		res("http://x/c", "sub/page", 1),
	})
	require.NoError(t, svc.Backup(ctx))

	path, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, system.Stamp(backupTime)+".zip"), path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, zr.Close()) }()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"processed/landing", "found/page", "found/page-1", "found/sub_page"}, names)
}

func TestRestoreWithoutPointer(t *testing.T) {
	t.Parallel()

	svc := newService(t, pointer.NewMemory(), t.TempDir(), nil)
	frontier, err := svc.Restore(context.Background(), crawler.NewRunContext(nil))
	require.NoError(t, err)
	require.Empty(t, frontier)
}

func TestRestoreMissingArchiveFails(t *testing.T) {
	t.Parallel()

	store := pointer.NewMemory()
	require.NoError(t, store.Save(context.Background(), filepath.Join(t.TempDir(), "gone.zip")))
	svc := newService(t, store, t.TempDir(), nil)
	_, err := svc.Restore(context.Background(), crawler.NewRunContext(nil))
	require.ErrorContains(t, err, "open recovery archive")
}

func TestRestoreReturnsPendingFrontier(t *testing.T) {
	t.Parallel()

	store := pointer.NewMemory()
	dir := t.TempDir()
	ctx := context.Background()

	first := newService(t, store, dir, nil)
	first.AfterProcessing(ctx, res("http://x/", "landing", 0), []*crawler.Resource{
		res("http://x/a", "a", 1), res("http://x/b", "b", 1),
	})
	first.AfterProcessing(ctx, res("http://x/a", "a", 1), []*crawler.Resource{
		res("http://x/a/1", "a1", 2), res("http://x/b", "b", 2),
	})
	require.NoError(t, first.Backup(ctx))

	bus := &recorder{}
	second := newService(t, store, dir, bus)
	step := crawler.StepFunc(func(context.Context, *crawler.Resource) ([]*crawler.Resource, error) {
		return nil, nil
	})
	rc := crawler.NewRunContext(step)
	frontier, err := second.Restore(ctx, rc)
	require.NoError(t, err)

	var urls []string
	for _, r := range frontier {
		urls = append(urls, r.URL)
		require.Same(t, rc, r.Context(), "restored resources share the fresh context")
		require.Same(t, frontier[0].ContextRef(), r.ContextRef())
	}
	require.Equal(t, []string{"http://x/b", "http://x/a/1"}, urls)
	require.Equal(t, 1, frontier[0].Depth)
	require.Equal(t, "docs", frontier[0].RunName)

	require.Equal(t, []string{
		"http://x/=true",
		"http://x/a=true",
		"http://x/b=false",
		"http://x/a/1=false",
	}, bus.recovered())

	// Restored state is carried into the next backup.
	require.Equal(t, 2, second.processed.len())
	require.Equal(t, 2, second.found.len())
}

func TestBackupFoundExcludesProcessed(t *testing.T) {
	t.Parallel()

	store := pointer.NewMemory()
	svc := newService(t, store, t.TempDir(), nil)
	ctx := context.Background()

	svc.AfterProcessing(ctx, res("http://x/", "landing", 0), []*crawler.Resource{
		res("http://x/a", "a", 1), res("http://x/b", "b", 1),
	})
	svc.AfterProcessing(ctx, res("http://x/a", "a", 1), []*crawler.Resource{
		res("http://x/", "landing", 2), res("http://x/c", "c", 2),
	})
	require.NoError(t, svc.Backup(ctx))

	path, err := store.Load(ctx)
	require.NoError(t, err)
	processed, found, err := readArchive(path)
	require.NoError(t, err)

	urls := func(rs []*crawler.Resource) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.URL)
		}
		return out
	}
	require.Equal(t, []string{"http://x/", "http://x/a"}, urls(processed))
	require.Equal(t, []string{"http://x/b", "http://x/c"}, urls(found))
}

func TestRestoreAnnouncesEachAddressOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "overlap.zip")
	// Archives written before the sets were kept disjoint list processed
	// addresses under found/ as well.
	overlap := []*crawler.Resource{res("http://x/a", "a", 1), res("http://x/b", "b", 1), res("http://x/b", "b", 1)}
	require.NoError(t, writeArchive(path, []*crawler.Resource{res("http://x/", "landing", 0), res("http://x/a", "a", 1)}, overlap))

	store := pointer.NewMemory()
	require.NoError(t, store.Save(context.Background(), path))
	bus := &recorder{}
	svc := newService(t, store, dir, bus)
	frontier, err := svc.Restore(context.Background(), crawler.NewRunContext(nil))
	require.NoError(t, err)
	require.Len(t, frontier, 1)
	require.Equal(t, []string{"http://x/=true", "http://x/a=true", "http://x/b=false"}, bus.recovered())
}

func TestRestoreKeepsPayloadAsRawJSON(t *testing.T) {
	t.Parallel()

	type page struct {
		Title      string `json:"title"`
		StatusCode int    `json:"status_code"`
	}
	path := filepath.Join(t.TempDir(), "payload.zip")
	done := res("http://x/", "landing", 0)
	done.Payload = page{Title: "Home", StatusCode: 200}
	require.NoError(t, writeArchive(path, []*crawler.Resource{done}, nil))

	processed, _, err := readArchive(path)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	raw, ok := processed[0].Payload.(json.RawMessage)
	require.True(t, ok, "payload type %T", processed[0].Payload)

	var got page
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, page{Title: "Home", StatusCode: 200}, got)
	require.Equal(t, "http://x/", processed[0].URL)

	bare := res("http://x/a", "a", 1)
	require.NoError(t, writeArchive(path, []*crawler.Resource{bare}, nil))
	processed, _, err = readArchive(path)
	require.NoError(t, err)
	require.Nil(t, processed[0].Payload)
}

func TestClearForgetsPointer(t *testing.T) {
	t.Parallel()

	store := pointer.NewMemory()
	require.NoError(t, store.Save(context.Background(), "/tmp/x.zip"))
	svc := newService(t, store, t.TempDir(), nil)
	require.NoError(t, svc.Clear(context.Background()))
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

type failingStore struct {
	pointer.Memory
	err error
}

func (f *failingStore) Save(context.Context, string) error { return f.err }

func TestBackupPropagatesPointerErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	svc := newService(t, &failingStore{err: boom}, t.TempDir(), nil)
	err := svc.Backup(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "save recovery pointer")
}

func TestAfterProcessingConcurrentInserts(t *testing.T) {
	t.Parallel()

	svc := newService(t, pointer.NewMemory(), t.TempDir(), nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parent := res(fmt.Sprintf("http://x/%d", i), "p", 1)
			svc.AfterProcessing(context.Background(), parent, []*crawler.Resource{
				res(fmt.Sprintf("http://x/%d/child", i), "c", 2),
				res("http://x/shared", "s", 2),
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 50, svc.processed.len())
	require.Equal(t, 51, svc.found.len())
}

// site serves a fixed link graph and can be told to fail on one address.
type site struct {
	mu     sync.Mutex
	links  map[string][]string
	failOn string
	seen   []string
}

func (s *site) Process(_ context.Context, r *crawler.Resource) ([]*crawler.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL == s.failOn {
		return nil, fmt.Errorf("fetch %s: connection refused", r.URL)
	}
	s.seen = append(s.seen, r.URL)
	var out []*crawler.Resource
	for _, l := range s.links[r.URL] {
		child := r.Successor(l)
		child.Name = l
		out = append(out, child)
	}
	return out, nil
}

func TestRoundTripThroughAbnormalStop(t *testing.T) {
	t.Parallel()

	links := map[string][]string{
		"/":  {"/a", "/b"},
		"/a": {"/a1", "/a2"},
		"/b": {"/b1"},
	}
	store := pointer.NewMemory()
	dir := t.TempDir()
	ctx := context.Background()
	cfg := crawler.EngineConfig{RunName: "docs", Mode: crawler.ModeBreadth}

	broken := &site{links: links, failOn: "/b"}
	svc1 := newService(t, store, dir, nil)
	engine1, err := crawler.NewEngine(cfg, broken, crawler.WithInterceptors(svc1), crawler.WithRecovery(svc1))
	require.NoError(t, err)
	_, err = engine1.Collect(ctx, "/")
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, []string{"/", "/a"}, broken.seen)

	archive, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, archive)

	healthy := &site{links: links}
	bus := &recorder{}
	svc2 := newService(t, store, dir, bus)
	engine2, err := crawler.NewEngine(cfg, healthy, crawler.WithInterceptors(svc2), crawler.WithRecovery(svc2))
	require.NoError(t, err)
	got, err := engine2.Collect(ctx, "/")
	require.NoError(t, err)

	var yielded []string
	for _, r := range got {
		yielded = append(yielded, r.URL)
	}
	require.Equal(t, []string{"/b", "/a1", "/a2", "/b1"}, yielded)
	require.Equal(t, yielded, healthy.seen, "nothing processed in the first run is processed again")
	require.Equal(t, []string{"/=true", "/a=true", "/b=false", "/a1=false", "/a2=false"}, bus.recovered())

	archive, err = store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, archive, "clean stop clears the pointer")
}
