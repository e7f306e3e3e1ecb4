// Package app builds a crawl from configuration and holds its long-lived
// services: the event bus and its sinks, the interceptor chain, recovery,
// export storage and the status API.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwalker/internal/api"
	"github.com/JakeFAU/webwalker/internal/completion"
	"github.com/JakeFAU/webwalker/internal/config"
	"github.com/JakeFAU/webwalker/internal/crawler"
	collyfetcher "github.com/JakeFAU/webwalker/internal/fetcher/colly"
	"github.com/JakeFAU/webwalker/internal/fetcher/headless"
	"github.com/JakeFAU/webwalker/internal/hash/sha256"
	"github.com/JakeFAU/webwalker/internal/id/uuid"
	"github.com/JakeFAU/webwalker/internal/interceptor"
	"github.com/JakeFAU/webwalker/internal/interceptor/filter"
	"github.com/JakeFAU/webwalker/internal/metrics"
	"github.com/JakeFAU/webwalker/internal/policy/ratelimit"
	"github.com/JakeFAU/webwalker/internal/progress"
	"github.com/JakeFAU/webwalker/internal/progress/sinks"
	"github.com/JakeFAU/webwalker/internal/publisher/pubsub"
	"github.com/JakeFAU/webwalker/internal/recovery"
	"github.com/JakeFAU/webwalker/internal/recovery/pointer"
	"github.com/JakeFAU/webwalker/internal/storage/gcs"
	"github.com/JakeFAU/webwalker/internal/storage/local"
	"github.com/JakeFAU/webwalker/internal/storage/memory"
)

// Option customizes New.
type Option func(*options)

type options struct {
	registry  *prometheus.Registry
	steps     map[string]crawler.Step
	pointer   pointer.Store
	blobStore crawler.BlobStore
	publisher sinks.Publisher
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithStep replaces the fetcher of the given kind.
func WithStep(kind string, step crawler.Step) Option {
	return func(o *options) { o.steps[kind] = step }
}

// WithPointerStore replaces the configured recovery pointer backend.
func WithPointerStore(store pointer.Store) Option {
	return func(o *options) { o.pointer = store }
}

// WithBlobStore replaces the configured export storage backend.
func WithBlobStore(store crawler.BlobStore) Option {
	return func(o *options) { o.blobStore = store }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(pub sinks.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App holds the services of one configured crawl.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	bus       *progress.Bus
	status    *sinks.StatusSink
	collector *metrics.Collector
	engine    *crawler.Engine
	server    *api.Server
	closers   []closer
}

// New wires every service cfg asks for. It fails fast when a backend cannot
// be reached; anything opened before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{steps: map[string]crawler.Step{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: o.registry,
		status:   sinks.NewStatusSink(),
	}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	logger.Info("initializing crawl services", zap.String("run", cfg.Crawler.Name))

	busCfg := cfg.BusConfig()
	busCfg.Logger = logger.Named("bus")
	a.bus = progress.NewBus(busCfg, a.status, sinks.NewLogSink(logger.Named("events")))

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	a.bus.Register(promSink)

	a.collector, err = metrics.NewCollector(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics collector: %w", err)
	}

	if err := a.wireExport(ctx, o.blobStore); err != nil {
		return nil, err
	}
	if err := a.wirePublisher(ctx, o.publisher); err != nil {
		return nil, err
	}

	steps, err := a.buildSteps(o.steps)
	if err != nil {
		return nil, err
	}
	router, err := a.buildRouter(steps)
	if err != nil {
		return nil, err
	}

	interceptors, err := a.buildInterceptors(steps[cfg.Fetcher.Kind])
	if err != nil {
		return nil, err
	}

	engineOpts := []crawler.EngineOption{
		crawler.WithInterceptors(interceptors...),
		crawler.WithPublisher(a.bus),
		crawler.WithIDGenerator(uuid.NewUUIDGenerator()),
		crawler.WithLogger(logger.Named("engine")),
	}
	if cfg.Recovery.Enabled {
		svc, err := a.buildRecovery(ctx, o.pointer)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, crawler.WithInterceptors(svc), crawler.WithRecovery(svc))
	}

	a.engine, err = crawler.NewEngine(cfg.EngineConfig(), router, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.status, a.registry, a.collector, logger.Named("api"))
	}

	logger.Info("crawl services initialized",
		zap.String("fetcher", cfg.Fetcher.Kind),
		zap.String("mode", cfg.Crawler.Mode),
		zap.Bool("recovery", cfg.Recovery.Enabled),
		zap.String("storage", cfg.Storage.Backend),
	)
	return a, nil
}

func (a *App) wireExport(ctx context.Context, store crawler.BlobStore) error {
	if store == nil {
		switch a.cfg.Storage.Backend {
		case config.StorageMemory:
			store = memory.NewBlobStore()
		case config.StorageLocal:
			ls, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
			if err != nil {
				return fmt.Errorf("init local storage: %w", err)
			}
			store = ls
		case config.StorageGCS:
			// The export sink already prefixes object keys.
			gs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
			if err != nil {
				return fmt.Errorf("init gcs storage: %w", err)
			}
			a.addCloser("gcs", func(context.Context) error { return gs.Close() })
			store = gs
		default:
			return nil
		}
	}
	exportSink, err := sinks.NewExportSink(store, sha256.New(), sinks.ExportConfig{Prefix: a.cfg.Storage.Prefix}, a.logger.Named("export"))
	if err != nil {
		return fmt.Errorf("init export sink: %w", err)
	}
	a.bus.Register(exportSink)
	return nil
}

func (a *App) wirePublisher(ctx context.Context, pub sinks.Publisher) error {
	topic := a.cfg.PubSub.TopicName
	if pub == nil {
		if topic == "" {
			return nil
		}
		ps, err := pubsub.Open(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.addCloser("pubsub", func(context.Context) error { return ps.Close() })
		pub = ps
	}
	pubSink, err := sinks.NewPublisherSink(pub, topic)
	if err != nil {
		return fmt.Errorf("init publisher sink: %w", err)
	}
	a.bus.Register(pubSink)
	return nil
}

// buildSteps returns one step per fetcher kind in use. Overrides win.
func (a *App) buildSteps(overrides map[string]crawler.Step) (map[string]crawler.Step, error) {
	kinds := map[string]struct{}{a.cfg.Fetcher.Kind: {}}
	for _, route := range a.cfg.Routes {
		kinds[route.Fetcher] = struct{}{}
	}
	steps := make(map[string]crawler.Step, len(kinds))
	for kind := range kinds {
		if step, ok := overrides[kind]; ok {
			steps[kind] = step
			continue
		}
		switch kind {
		case config.FetcherColly:
			steps[kind] = collyfetcher.New(collyfetcher.Config{
				UserAgent:    a.cfg.Fetcher.UserAgent,
				IgnoreRobots: a.cfg.Fetcher.IgnoreRobots,
				Timeout:      a.cfg.FetchTimeout(),
			}, a.logger.Named("colly"))
		case config.FetcherHeadless:
			step, err := headless.New(headless.Config{
				MaxParallel:       a.cfg.Fetcher.MaxParallel,
				UserAgent:         a.cfg.Fetcher.UserAgent,
				NavigationTimeout: a.cfg.FetchTimeout(),
			}, a.logger.Named("headless"))
			if err != nil {
				return nil, fmt.Errorf("init headless fetcher: %w", err)
			}
			a.addCloser("headless", func(context.Context) error {
				step.Close()
				return nil
			})
			steps[kind] = step
		default:
			return nil, fmt.Errorf("unknown fetcher %q", kind)
		}
	}
	return steps, nil
}

func (a *App) buildRouter(steps map[string]crawler.Step) (*crawler.Router, error) {
	routes := make([]crawler.Route, 0, len(a.cfg.Routes))
	for i, rc := range a.cfg.Routes {
		match, err := crawler.MatchURL(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		routes = append(routes, crawler.Route{Match: match, Step: steps[rc.Fetcher]})
	}
	return crawler.NewRouter(steps[a.cfg.Fetcher.Kind], routes...), nil
}

func (a *App) buildInterceptors(defaultStep crawler.Step) ([]crawler.Interceptor, error) {
	cfg := a.cfg
	logger := a.logger.Named("interceptor")

	policy, err := filter.ParseLandingPolicy(cfg.Crawler.LandingPolicy)
	if err != nil {
		return nil, fmt.Errorf("crawler.landing_policy: %w", err)
	}
	successors := interceptor.NewSuccessors(cfg.Crawler.NamePattern)
	circular := filter.NewCircular(policy, a.bus, logger)
	tracker := completion.New(a.bus, logger)
	a.bus.Register(successors)
	a.bus.Register(circular)
	a.bus.Register(tracker)

	rules := make([]filter.Rule, 0, len(cfg.Filters))
	for i, fc := range cfg.Filters {
		match, err := crawler.MatchURL(fc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("filters[%d]: %w", i, err)
		}
		reason := fc.Reason
		if reason == "" {
			reason = fmt.Sprintf("the resource matches the filter %q", fc.Pattern)
		}
		rules = append(rules, filter.Rule{Match: match, Skip: filter.SkipAlways(reason)})
	}

	out := []crawler.Interceptor{
		interceptor.NewNormalizer(logger),
		filter.NewMaxDepth(cfg.Crawler.MaxDepth, a.bus, logger),
		successors,
		interceptor.SizeInitializer{},
		circular,
		filter.NewCustom(a.bus, logger, rules...),
		interceptor.NewStartNotifier(a.bus, logger),
		interceptor.NewMessageDispatcher(a.bus, logger),
		tracker,
		a.collector,
	}

	if cfg.Delay.MaxMs > 0 {
		delay, err := interceptor.NewDelay(cfg.Delay.MinMs, cfg.Delay.MaxMs)
		if err != nil {
			return nil, fmt.Errorf("init delay: %w", err)
		}
		out = append(out, delay)
	}
	if cfg.Delay.HostRPS > 0 {
		out = append(out, ratelimit.New(ratelimit.Config{RPS: cfg.Delay.HostRPS, Burst: cfg.Delay.HostBurst}, logger))
	}

	if cfg.Storage.PersistLocal {
		persister, err := interceptor.NewBodyPersister("", logger)
		if err != nil {
			return nil, fmt.Errorf("init body persister: %w", err)
		}
		a.bus.Register(persister)
		out = append(out, persister)
	}

	if cfg.Fetcher.Preload {
		fetcher, ok := defaultStep.(interceptor.BodyFetcher)
		if !ok {
			return nil, fmt.Errorf("fetcher %q cannot preload bodies", cfg.Fetcher.Kind)
		}
		out = append(out, interceptor.NewPreloader(fetcher, cfg.Fetcher.PreloadParallel, logger))
	}
	return out, nil
}

func (a *App) buildRecovery(ctx context.Context, store pointer.Store) (*recovery.Service, error) {
	if store == nil {
		var err error
		store, err = a.openPointer(ctx)
		if err != nil {
			return nil, err
		}
	}
	opts := []recovery.Option{recovery.WithLogger(a.logger.Named("recovery"))}
	if a.cfg.Recovery.Dir != "" {
		opts = append(opts, recovery.WithDir(a.cfg.Recovery.Dir))
	}
	svc, err := recovery.New(store, a.bus, opts...)
	if err != nil {
		return nil, fmt.Errorf("init recovery: %w", err)
	}
	return svc, nil
}

func (a *App) openPointer(ctx context.Context) (pointer.Store, error) {
	rc := a.cfg.Recovery
	key := pointer.DefaultKey + "." + a.cfg.Crawler.Name
	switch rc.Pointer {
	case config.PointerMemory:
		return pointer.NewMemory(), nil
	case config.PointerFile:
		return pointer.NewFile(rc.PointerPath, key), nil
	case config.PointerSQLite:
		path := rc.PointerPath
		if path == "" {
			path = filepath.Join(pointer.StateDir(), "state.db")
		}
		store, err := pointer.OpenSQLite(ctx, path, key)
		if err != nil {
			return nil, fmt.Errorf("open sqlite pointer: %w", err)
		}
		a.addCloser("sqlite", func(context.Context) error { return store.Close() })
		return store, nil
	case config.PointerPostgres:
		store, err := pointer.OpenPostgres(ctx, pointer.PostgresConfig{DSN: rc.DSN, Table: rc.Table, Key: key})
		if err != nil {
			return nil, fmt.Errorf("open postgres pointer: %w", err)
		}
		a.addCloser("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure pointer schema: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown recovery pointer backend %q", rc.Pointer)
	}
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run crawls from landingURL (the configured landing URL when empty) and
// hands every yielded resource to consume. The status API, when enabled,
// serves for the duration of the run.
func (a *App) Run(ctx context.Context, landingURL string, consume func(*crawler.Resource)) error {
	if landingURL == "" {
		landingURL = a.cfg.Crawler.LandingURL
	}

	if a.server != nil {
		srvCtx, cancel := context.WithCancel(ctx)
		srvDone := make(chan error, 1)
		go func() {
			srvDone <- a.server.Run(srvCtx, fmt.Sprintf(":%d", a.cfg.Server.Port))
		}()
		defer func() {
			cancel()
			if err := <-srvDone; err != nil {
				a.logger.Warn("status server stopped with error", zap.Error(err))
			}
		}()
	}

	runErr := a.engine.Run(ctx, landingURL, consume)
	if err := a.bus.Flush(context.WithoutCancel(ctx)); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// Status returns the status of the current (or last) run.
func (a *App) Status() sinks.Status {
	return a.status.Snapshot()
}

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close drains the event bus, then releases backends in reverse order of
// creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
