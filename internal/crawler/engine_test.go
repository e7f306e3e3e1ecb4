package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// site is a tiny link graph keyed by address.
type site map[string][]string

func (s site) step(calls *sync.Map) Step {
	return StepFunc(func(_ context.Context, r *Resource) ([]*Resource, error) {
		if calls != nil {
			n, _ := calls.LoadOrStore(r.URL, new(atomic.Int32))
			n.(*atomic.Int32).Add(1)
		}
		var out []*Resource
		for _, link := range s[r.URL] {
			out = append(out, r.Successor(link))
		}
		return out, nil
	})
}

var tree = site{
	"a": {"b", "c"},
	"b": {"d"},
	"c": {"e"},
}

func urls(rs []*Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.URL)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *recordingPublisher) last() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fakeRecovery struct {
	frontier   []*Resource
	restoreErr error
	backups    atomic.Int32
	clears     atomic.Int32
}

func (f *fakeRecovery) Restore(_ context.Context, rc *RunContext) ([]*Resource, error) {
	ref := NewContextRef(rc)
	for _, r := range f.frontier {
		r.Bind(ref)
	}
	return f.frontier, f.restoreErr
}

func (f *fakeRecovery) Backup(context.Context) error {
	f.backups.Add(1)
	return nil
}

func (f *fakeRecovery) Clear(context.Context) error {
	f.clears.Add(1)
	return nil
}

func TestEngineBreadthFirstOrder(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(EngineConfig{Mode: ModeBreadth}, tree.step(nil))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, urls(got))
	require.Equal(t, "landing", got[0].Name)
}

func TestEngineDepthFirstPostOrder(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(EngineConfig{Mode: ModeDepth}, tree.step(nil))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, []string{"d", "b", "e", "c", "a"}, urls(got))
}

func TestEngineDepthInvariant(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeBreadth, ModeDepth} {
		engine, err := NewEngine(EngineConfig{Mode: mode}, tree.step(nil))
		require.NoError(t, err)
		got, err := engine.Collect(context.Background(), "a")
		require.NoError(t, err)
		depth := map[string]int{}
		for _, r := range got {
			depth[r.URL] = r.Depth
		}
		for parent, children := range tree {
			for _, child := range children {
				require.Equal(t, depth[parent]+1, depth[child], "mode %s edge %s->%s", mode, parent, child)
			}
		}
	}
}

func TestEngineLimitTruncates(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeBreadth, ModeDepth} {
		var calls sync.Map
		engine, err := NewEngine(EngineConfig{Mode: mode, Limit: 3}, tree.step(&calls))
		require.NoError(t, err)
		got, err := engine.Collect(context.Background(), "a")
		require.NoError(t, err)
		require.Len(t, got, 3, "mode %s", mode)
		calls.Range(func(_, v any) bool {
			require.Equal(t, int32(1), v.(*atomic.Int32).Load())
			return true
		})
	}
}

func TestEngineBreadthLimitProcessesOnlyYielded(t *testing.T) {
	t.Parallel()

	var calls sync.Map
	engine, err := NewEngine(EngineConfig{Mode: ModeBreadth, Limit: 2, Concurrency: 4}, tree.step(&calls))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, urls(got))

	processed := 0
	calls.Range(func(_, _ any) bool { processed++; return true })
	require.Equal(t, 2, processed)
}

func TestEngineParallelBreadthKeepsOrder(t *testing.T) {
	t.Parallel()

	wide := site{"root": {"1", "2", "3", "4", "5", "6"}, "1": {"1a"}, "6": {"6a"}}
	engine, err := NewEngine(EngineConfig{Concurrency: 3}, wide.step(nil))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "root")
	require.NoError(t, err)
	require.Equal(t, []string{"root", "1", "2", "3", "4", "5", "6", "1a", "6a"}, urls(got))
}

func TestEngineYieldsClones(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(EngineConfig{}, tree.step(nil))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	for _, r := range got {
		require.Nil(t, r.Context().Step())
	}
}

func TestEngineCleanStopEvents(t *testing.T) {
	t.Parallel()

	bus := &recordingPublisher{}
	rec := &fakeRecovery{}
	engine, err := NewEngine(EngineConfig{RunName: "docs"}, tree.step(nil), WithPublisher(bus), WithRecovery(rec))
	require.NoError(t, err)
	_, err = engine.Collect(context.Background(), "a")
	require.NoError(t, err)

	require.Equal(t, []EventKind{EventRunStarted, EventRunStopped}, bus.kinds())
	require.False(t, bus.last().Abnormal)
	require.Equal(t, "docs", bus.last().Payload)
	require.Equal(t, int32(1), rec.clears.Load())
	require.Zero(t, rec.backups.Load())
}

func TestEngineFailureStopsAbnormallyAndBacksUp(t *testing.T) {
	t.Parallel()

	boom := errors.New("fetch exploded")
	step := StepFunc(func(_ context.Context, r *Resource) ([]*Resource, error) {
		if r.URL == "c" {
			return nil, boom
		}
		return tree.step(nil).Process(context.Background(), r)
	})
	bus := &recordingPublisher{}
	rec := &fakeRecovery{}
	engine, err := NewEngine(EngineConfig{}, step, WithPublisher(bus), WithRecovery(rec))
	require.NoError(t, err)

	var seen []string
	err = engine.Run(context.Background(), "a", func(r *Resource) { seen = append(seen, r.URL) })
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a", "b"}, seen)
	require.True(t, bus.last().Abnormal)
	require.Equal(t, int32(1), rec.backups.Load())
	require.Zero(t, rec.clears.Load())
}

func TestEngineCancellationIsAbnormal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	step := StepFunc(func(_ context.Context, r *Resource) ([]*Resource, error) {
		cancel()
		return []*Resource{r.Successor(r.URL + "x")}, nil
	})
	bus := &recordingPublisher{}
	rec := &fakeRecovery{}
	engine, err := NewEngine(EngineConfig{}, step, WithPublisher(bus), WithRecovery(rec))
	require.NoError(t, err)

	err = engine.Run(ctx, "a", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, bus.last().Abnormal)
	require.Equal(t, int32(1), rec.backups.Load())
}

func TestEngineStartsFromRecoveredFrontier(t *testing.T) {
	t.Parallel()

	rec := &fakeRecovery{frontier: []*Resource{
		{RunName: "run", URL: "b", Depth: 1},
		{RunName: "run", URL: "c", Depth: 1},
	}}
	engine, err := NewEngine(EngineConfig{}, tree.step(nil), WithRecovery(rec))
	require.NoError(t, err)
	got, err := engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d", "e"}, urls(got))
	require.Equal(t, 2, got[2].Depth)
}

func TestEngineRestoreFailureIsStartupError(t *testing.T) {
	t.Parallel()

	bus := &recordingPublisher{}
	rec := &fakeRecovery{restoreErr: errors.New("archive missing")}
	engine, err := NewEngine(EngineConfig{}, tree.step(nil), WithPublisher(bus), WithRecovery(rec))
	require.NoError(t, err)
	_, err = engine.Collect(context.Background(), "a")
	require.ErrorContains(t, err, "archive missing")
	require.Empty(t, bus.kinds())
	require.Zero(t, rec.backups.Load())
}

func TestEngineRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	step := StepFunc(func(context.Context, *Resource) ([]*Resource, error) {
		close(entered)
		<-release
		return nil, nil
	})
	engine, err := NewEngine(EngineConfig{}, step)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), "a", nil) }()
	<-entered
	require.ErrorIs(t, engine.Run(context.Background(), "a", nil), ErrRunInProgress)
	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(EngineConfig{}, nil)
	require.ErrorIs(t, err, ErrNoProcessingAssigned)
	_, err = NewEngine(EngineConfig{Mode: "sideways"}, tree.step(nil))
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Mode: ModeDepth, Concurrency: 2}, tree.step(nil))
	require.Error(t, err)
}

type idFunc func() (string, error)

func (f idFunc) NewID() (string, error) { return f() }

func TestEngineStampsRunID(t *testing.T) {
	t.Parallel()

	bus := &recordingPublisher{}
	engine, err := NewEngine(EngineConfig{}, tree.step(nil),
		WithPublisher(bus),
		WithIDGenerator(idFunc(func() (string, error) { return "run-42", nil })),
	)
	require.NoError(t, err)
	_, err = engine.Collect(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "run-42", bus.last().RunID)
}
