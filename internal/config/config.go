// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webwalker/internal/crawler"
	"github.com/JakeFAU/webwalker/internal/interceptor/filter"
	"github.com/JakeFAU/webwalker/internal/progress"
)

// Fetcher kinds.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
)

// Storage backends for exported bodies.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Recovery pointer backends.
const (
	PointerMemory   = "memory"
	PointerFile     = "file"
	PointerSQLite   = "sqlite"
	PointerPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Delay    DelayConfig    `mapstructure:"delay"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Events   EventsConfig   `mapstructure:"events"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Routes   []RouteConfig  `mapstructure:"routes"`
	Filters  []FilterConfig `mapstructure:"filters"`
}

// CrawlerConfig governs the run itself.
type CrawlerConfig struct {
	Name          string `mapstructure:"name"`
	LandingURL    string `mapstructure:"landing_url"`
	LandingName   string `mapstructure:"landing_name"`
	NamePattern   string `mapstructure:"name_pattern"`
	Mode          string `mapstructure:"mode"`
	Limit         int    `mapstructure:"limit"`
	// MaxDepth < 0 disables the depth filter.
	MaxDepth      int    `mapstructure:"max_depth"`
	Concurrency   int    `mapstructure:"concurrency"`
	LandingPolicy string `mapstructure:"landing_policy"`
}

// DelayConfig bounds the random politeness delay before each resource.
type DelayConfig struct {
	MinMs int `mapstructure:"min_ms"`
	MaxMs int `mapstructure:"max_ms"`

	// HostRPS > 0 adds a per-host token bucket on top of the random delay.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// FetcherConfig configures the default processing step.
type FetcherConfig struct {
	Kind            string `mapstructure:"kind"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	IgnoreRobots    bool   `mapstructure:"ignore_robots"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	Preload         bool   `mapstructure:"preload"`
	PreloadParallel int    `mapstructure:"preload_parallel"`
}

// EventsConfig controls the progress bus.
type EventsConfig struct {
	Mode           string `mapstructure:"mode"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MaxBatchEvents int    `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int    `mapstructure:"max_batch_wait_ms"`
	DropWhenFull   bool   `mapstructure:"drop_when_full"`
}

// RecoveryConfig selects where backups and the recovery pointer live.
type RecoveryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	Pointer     string `mapstructure:"pointer"`
	PointerPath string `mapstructure:"pointer_path"`
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
}

// StorageConfig sets where completed bodies are exported.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	BaseDir      string `mapstructure:"base_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	PersistLocal bool   `mapstructure:"persist_local"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RouteConfig assigns a fetcher kind to URLs matching Pattern.
type RouteConfig struct {
	Pattern string `mapstructure:"pattern"`
	Fetcher string `mapstructure:"fetcher"`
}

// FilterConfig skips URLs matching Pattern.
type FilterConfig struct {
	Pattern string `mapstructure:"pattern"`
	Reason  string `mapstructure:"reason"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.name", "crawl")
	v.SetDefault("crawler.landing_url", "")
	v.SetDefault("crawler.landing_name", "landing")
	v.SetDefault("crawler.name_pattern", "page-${number}")
	v.SetDefault("crawler.mode", "breadth")
	v.SetDefault("crawler.limit", 0)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.landing_policy", string(filter.LandingFirstPass))
	v.SetDefault("delay.min_ms", 0)
	v.SetDefault("delay.max_ms", 0)
	v.SetDefault("delay.host_rps", 0)
	v.SetDefault("delay.host_burst", 1)
	v.SetDefault("fetcher.kind", FetcherColly)
	v.SetDefault("fetcher.user_agent", "webwalker/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.ignore_robots", false)
	v.SetDefault("fetcher.max_parallel", 1)
	v.SetDefault("fetcher.preload", false)
	v.SetDefault("fetcher.preload_parallel", 4)
	v.SetDefault("events.mode", string(progress.ModeSync))
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 1000)
	v.SetDefault("events.max_batch_wait_ms", 500)
	v.SetDefault("events.drop_when_full", false)
	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.dir", "")
	v.SetDefault("recovery.pointer", PointerFile)
	v.SetDefault("recovery.pointer_path", "")
	v.SetDefault("recovery.dsn", "")
	v.SetDefault("recovery.table", "")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.persist_local", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	mode, err := crawler.ParseMode(c.Crawler.Mode)
	if err != nil {
		return fmt.Errorf("crawler.mode: %w", err)
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if mode == crawler.ModeDepth && c.Crawler.Concurrency > 1 {
		return errors.New("crawler.concurrency must be 1 in depth mode")
	}
	if _, err := filter.ParseLandingPolicy(c.Crawler.LandingPolicy); err != nil {
		return fmt.Errorf("crawler.landing_policy: %w", err)
	}
	if c.Delay.MinMs < 0 || c.Delay.MaxMs < c.Delay.MinMs {
		return fmt.Errorf("delay must satisfy 0 <= min_ms <= max_ms, got [%d, %d]", c.Delay.MinMs, c.Delay.MaxMs)
	}
	if c.Delay.HostRPS < 0 {
		return fmt.Errorf("delay.host_rps must be >= 0, got %v", c.Delay.HostRPS)
	}
	if err := validateFetcherKind(c.Fetcher.Kind); err != nil {
		return fmt.Errorf("fetcher.kind: %w", err)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return errors.New("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxParallel < 0 {
		return errors.New("fetcher.max_parallel must be >= 0")
	}
	if c.Fetcher.Preload && c.Fetcher.PreloadParallel <= 0 {
		return errors.New("fetcher.preload_parallel must be > 0 when preload is enabled")
	}
	if _, err := progress.ParseMode(c.Events.Mode); err != nil {
		return fmt.Errorf("events.mode: %w", err)
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0 when the server is enabled")
	}
	for i, route := range c.Routes {
		if _, err := crawler.MatchURL(route.Pattern); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if err := validateFetcherKind(route.Fetcher); err != nil {
			return fmt.Errorf("routes[%d].fetcher: %w", i, err)
		}
	}
	for i, f := range c.Filters {
		if _, err := crawler.MatchURL(f.Pattern); err != nil {
			return fmt.Errorf("filters[%d]: %w", i, err)
		}
	}
	return nil
}

func (c Config) validateRecovery() error {
	if !c.Recovery.Enabled {
		return nil
	}
	switch c.Recovery.Pointer {
	case PointerMemory, PointerFile, PointerSQLite:
		return nil
	case PointerPostgres:
		if c.Recovery.DSN == "" {
			return errors.New("recovery.dsn must be set for the postgres pointer")
		}
		return nil
	default:
		return fmt.Errorf("recovery.pointer: unknown backend %q", c.Recovery.Pointer)
	}
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageNone, StorageMemory, "":
		return nil
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return errors.New("storage.base_dir must be set for the local backend")
		}
		return nil
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set for the gcs backend")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
}

func validateFetcherKind(kind string) error {
	switch kind {
	case FetcherColly, FetcherHeadless:
		return nil
	default:
		return fmt.Errorf("unknown fetcher %q", kind)
	}
}

// EngineConfig maps the crawler section onto engine settings.
func (c Config) EngineConfig() crawler.EngineConfig {
	mode, _ := crawler.ParseMode(c.Crawler.Mode)
	return crawler.EngineConfig{
		RunName:     c.Crawler.Name,
		LandingName: c.Crawler.LandingName,
		Mode:        mode,
		Limit:       c.Crawler.Limit,
		Concurrency: c.Crawler.Concurrency,
	}
}

// BusConfig maps the events section onto bus settings.
func (c Config) BusConfig() progress.Config {
	mode, _ := progress.ParseMode(c.Events.Mode)
	return progress.Config{
		Mode:           mode,
		BufferSize:     c.Events.BufferSize,
		MaxBatchEvents: c.Events.MaxBatchEvents,
		MaxBatchWait:   time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond,
		DropWhenFull:   c.Events.DropWhenFull,
	}
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}
