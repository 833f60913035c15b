// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// EnvPrefix namespaces every environment override (ARCHIVER_RENDER_MODE, ...).
const EnvPrefix = "ARCHIVER"

// Driver names.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
	DriverPubSub   = "pubsub"
)

var creatorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config captures all archiver settings.
type Config struct {
	CreatorID string        `mapstructure:"creator_id"`
	ToID      string        `mapstructure:"to_id"`
	FromID    string        `mapstructure:"from_id"`
	Feed      FeedConfig    `mapstructure:"feed"`
	HTTP      HTTPConfig    `mapstructure:"http"`
	Media     MediaConfig   `mapstructure:"media"`
	Output    OutputConfig  `mapstructure:"output"`
	Render    RenderConfig  `mapstructure:"render"`
	Ledger    LedgerConfig  `mapstructure:"ledger"`
	Mirror    MirrorConfig  `mapstructure:"mirror"`
	Publish   PublishConfig `mapstructure:"publish"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Logging   LoggingConfig `mapstructure:"logging"`
	Tracing   TracingConfig `mapstructure:"tracing"`
}

// FeedConfig locates the creator feed.
type FeedConfig struct {
	APIBase    string `mapstructure:"api_base"`
	SiteDomain string `mapstructure:"site_domain"`
	PageLimit  int    `mapstructure:"page_limit"`
}

// HTTPConfig configures feed requests.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// RequestsPerSecond paces feed page requests; zero, the default, disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MediaConfig configures media downloads.
type MediaConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutputConfig sets where posts are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Mode            string        `mapstructure:"mode"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SettleGrace     time.Duration `mapstructure:"settle_grace"`
	WaitNetworkIdle bool          `mapstructure:"wait_network_idle"`
	Screenshot      bool          `mapstructure:"screenshot"`
	Headless        bool          `mapstructure:"headless"`
}

// LedgerConfig selects the archive ledger backend.
type LedgerConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// MirrorConfig selects where artifacts are copied after rendering.
type MirrorConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PublishConfig selects the notification backend.
type PublishConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig enables OpenTelemetry spans for runs and posts.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// NewViper returns a Viper instance with defaults and environment bindings.
// Callers may bind command-line flags to it before calling LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare names are what existing deployments export.
	_ = v.BindEnv("creator_id", EnvPrefix+"_CREATOR_ID", "CREATOR_ID")
	_ = v.BindEnv("to_id", EnvPrefix+"_TO_ID", "TO_ID")
	_ = v.BindEnv("from_id", EnvPrefix+"_FROM_ID", "FROM_ID")
	setDefaults(v)
	return v
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom reads the optional config file into v, then unmarshals and
// validates the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
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
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("creator_id", "")
	v.SetDefault("to_id", "")
	v.SetDefault("from_id", "")
	v.SetDefault("feed.api_base", "https://api.fanbox.cc")
	v.SetDefault("feed.site_domain", "fanbox.cc")
	v.SetDefault("feed.page_limit", 10)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; fanbox-archiver/1.0)")
	v.SetDefault("http.requests_per_second", 0.0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("media.timeout", 2*time.Minute)
	v.SetDefault("output.dir", "out")
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.mode", "local")
	v.SetDefault("render.timeout", 60*time.Second)
	v.SetDefault("render.settle_grace", 2*time.Second)
	v.SetDefault("render.wait_network_idle", true)
	v.SetDefault("render.screenshot", false)
	v.SetDefault("render.headless", true)
	v.SetDefault("ledger.driver", DriverMemory)
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "archived_posts")
	v.SetDefault("mirror.driver", DriverNone)
	v.SetDefault("mirror.dir", "")
	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.prefix", "fanbox")
	v.SetDefault("publish.driver", DriverNone)
	v.SetDefault("publish.project_id", "")
	v.SetDefault("publish.topic", "fanbox-posts")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "fanbox-archiver")
}

func (c *Config) normalize() {
	c.CreatorID = strings.TrimSpace(c.CreatorID)
	c.ToID = strings.TrimSpace(c.ToID)
	c.FromID = strings.TrimSpace(c.FromID)
	c.Render.Mode = strings.ToLower(strings.TrimSpace(c.Render.Mode))
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	c.Mirror.Driver = strings.ToLower(strings.TrimSpace(c.Mirror.Driver))
	c.Publish.Driver = strings.ToLower(strings.TrimSpace(c.Publish.Driver))
}

// Validate enforces required values and consistent driver settings.
func (c Config) Validate() error {
	if c.CreatorID == "" {
		return errors.New("creator_id is required (set CREATOR_ID)")
	}
	if !creatorIDPattern.MatchString(c.CreatorID) {
		return fmt.Errorf("creator_id %q must be a subdomain label", c.CreatorID)
	}
	if _, err := c.Boundary(); err != nil {
		return err
	}
	if c.Feed.APIBase == "" || c.Feed.SiteDomain == "" {
		return errors.New("feed.api_base and feed.site_domain are required")
	}
	if c.Feed.PageLimit <= 0 {
		return errors.New("feed.page_limit must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return errors.New("http.requests_per_second and http.burst must be >= 0")
	}
	if c.HTTP.Timeout <= 0 || c.Media.Timeout <= 0 {
		return errors.New("http.timeout and media.timeout must be > 0")
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir is required")
	}
	if err := c.Render.validate(); err != nil {
		return err
	}
	switch c.Ledger.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger.driver %q", c.Ledger.Driver)
	}
	switch c.Mirror.Driver {
	case DriverNone:
	case DriverLocal:
		if c.Mirror.Dir == "" {
			return errors.New("mirror.dir is required for the local mirror")
		}
	case DriverGCS:
		if c.Mirror.Bucket == "" {
			return errors.New("mirror.bucket is required for the gcs mirror")
		}
	default:
		return fmt.Errorf("unknown mirror.driver %q", c.Mirror.Driver)
	}
	switch c.Publish.Driver {
	case DriverNone, DriverMemory:
	case DriverPubSub:
		if c.Publish.ProjectID == "" || c.Publish.Topic == "" {
			return errors.New("publish.project_id and publish.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown publish.driver %q", c.Publish.Driver)
	}
	return nil
}

func (r RenderConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Mode != "local" && r.Mode != "live" {
		return fmt.Errorf("render.mode must be local or live, got %q", r.Mode)
	}
	if r.Timeout <= 0 {
		return errors.New("render.timeout must be > 0")
	}
	if r.SettleGrace < 0 {
		return errors.New("render.settle_grace must be >= 0")
	}
	return nil
}

// Boundary parses TO_ID (lower bound) and FROM_ID (upper bound).
func (c Config) Boundary() (archive.Boundary, error) {
	b, err := archive.NewBoundary(c.ToID, c.FromID)
	if err != nil {
		return archive.Boundary{}, fmt.Errorf("id bounds: %w", err)
	}
	if c.ToID != "" && c.FromID != "" {
		lower, _ := archive.ParseID(c.ToID)
		upper, _ := archive.ParseID(c.FromID)
		if lower >= upper {
			return archive.Boundary{}, fmt.Errorf("to_id %s must be below from_id %s", c.ToID, c.FromID)
		}
	}
	return b, nil
}
