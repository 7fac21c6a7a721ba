// Package config loads and validates the Siostam configuration.
//
// Configuration comes from a TOML file (Siostam.toml by default) with a
// small set of environment overrides (SIOSTAM_*) applied on top, so the
// file can be checked in while deploy-specific values stay in the
// environment.
//
// # File layout
//
//	poll_interval = "60s"
//	debounce_cycles = 2
//
//	[[origin]]
//	name = "billing"
//	url = "https://billing.internal/topology"
//	token_env = "BILLING_TOKEN"
//
//	[[origin]]
//	name = "local"
//	file = "topology/local.json"
//
//	[render]
//	engine = "dot"
//	args = ["-Tsvg"]
//
//	[server]
//	port = 4300
//
// Validation failures are fatal at startup. A running server reloads
// the file on change (see [Watch]) and keeps the old configuration when
// the new one fails to validate.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"

	"github.com/siostam/siostam/pkg/errors"
	"github.com/siostam/siostam/pkg/reconcile"
)

// DefaultPath is where the config file is looked up when --config is
// not given.
const DefaultPath = "Siostam.toml"

// DefaultPollInterval is the refresh period when the file does not set
// one.
const DefaultPollInterval = 60 * time.Second

// Duration wraps time.Duration so TOML values can be written as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration.
type Config struct {
	// PollInterval is the period between scheduled refresh cycles.
	PollInterval Duration `toml:"poll_interval"`

	// DebounceCycles is how many consecutive absent cycles a service
	// survives before removal. Zero removes immediately; negative is
	// invalid.
	DebounceCycles *int `toml:"debounce_cycles"`

	// FetchConcurrency bounds simultaneous origin fetches.
	FetchConcurrency int `toml:"fetch_concurrency"`

	Origins []OriginConfig `toml:"origin"`
	Render  RenderConfig   `toml:"render"`
	Server  ServerConfig   `toml:"server"`
	Cache   CacheConfig    `toml:"cache"`
	History HistoryConfig  `toml:"history"`
}

// OriginConfig declares one topology origin. Exactly one of URL and
// File must be set.
type OriginConfig struct {
	Name string `toml:"name"`

	// URL is an HTTP endpoint answering GET with a JSON payload.
	URL string `toml:"url"`

	// File is a path to a local JSON payload.
	File string `toml:"file"`

	// Timeout bounds one fetch from this origin.
	Timeout Duration `toml:"timeout"`

	// TokenEnv names an environment variable holding a bearer token.
	// The token itself never appears in the file.
	TokenEnv string `toml:"token_env"`
}

// RenderConfig configures the layout engine.
type RenderConfig struct {
	// Engine is the Graphviz binary to run. Ignored when Embedded.
	Engine string `toml:"engine"`

	// Args are passed to the engine before DOT arrives on stdin.
	Args []string `toml:"args"`

	// Embedded selects the in-process engine instead of a subprocess.
	Embedded bool `toml:"embedded"`

	// Timeout bounds one engine invocation.
	Timeout Duration `toml:"timeout"`

	// Concurrency bounds simultaneous engine runs.
	Concurrency int `toml:"concurrency"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`

	// CORSAllowedOrigins lists origins allowed to read the API from a
	// browser. Empty disables CORS headers.
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// CacheConfig selects the artifact/fetch cache backend.
type CacheConfig struct {
	// Backend is one of "memory", "file", "redis", "none".
	Backend string `toml:"backend"`

	// Dir is the cache directory for the file backend.
	Dir string `toml:"dir"`

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// HistoryConfig configures the optional snapshot archive.
type HistoryConfig struct {
	Enabled bool `toml:"enabled"`

	// Backend is one of "memory", "mongo".
	Backend string `toml:"backend"`

	// Retention bounds the memory backend.
	Retention int `toml:"retention"`

	Mongo MongoConfig `toml:"mongo"`
}

// MongoConfig configures the MongoDB history backend.
type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// overrides are the environment variables applied on top of the file.
// The names predate the file format and are kept for compatibility
// with existing deployments.
type overrides struct {
	Bind         string        `env:"SIOSTAM_SERVER_SOCKET_ADDRESS"`
	Port         int           `env:"SIOSTAM_SERVER_PORT"`
	CORS         []string      `env:"SIOSTAM_SERVER_CORS_ALLOWED_ORIGINS" envSeparator:","`
	PollInterval time.Duration `env:"SIOSTAM_POLL_INTERVAL"`
	RedisAddr    string        `env:"SIOSTAM_REDIS_ADDR"`
	MongoURI     string        `env:"SIOSTAM_MONGO_URI"`
}

// Load reads the config file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeConfigMissing, err,
				"config file %s not found (run `siostam init` to create one)", path)
		}
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err, "reading %s", path)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err, "parsing %s", path)
	}

	var ov overrides
	if err := env.Parse(&ov); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err, "parsing environment")
	}
	cfg.apply(ov)
	cfg.defaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) apply(ov overrides) {
	if ov.Bind != "" {
		c.Server.Bind = ov.Bind
	}
	if ov.Port != 0 {
		c.Server.Port = ov.Port
	}
	if len(ov.CORS) > 0 {
		c.Server.CORSAllowedOrigins = ov.CORS
	}
	if ov.PollInterval > 0 {
		c.PollInterval = Duration{ov.PollInterval}
	}
	if ov.RedisAddr != "" {
		c.Cache.Redis.Addr = ov.RedisAddr
	}
	if ov.MongoURI != "" {
		c.History.Mongo.URI = ov.MongoURI
	}
}

func (c *Config) defaults() {
	if c.PollInterval.Duration == 0 {
		c.PollInterval = Duration{DefaultPollInterval}
	}
	if c.DebounceCycles == nil {
		n := reconcile.DefaultDebounceCycles
		c.DebounceCycles = &n
	}
	if c.Render.Engine == "" {
		c.Render.Engine = "dot"
	}
	if len(c.Render.Args) == 0 {
		c.Render.Args = []string{"-Tsvg"}
	}
	if c.Server.Bind == "" {
		c.Server.Bind = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4300
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
}

// Validate checks the configuration. Errors carry CONFIG_INVALID and
// abort startup.
func (c *Config) Validate() error {
	if len(c.Origins) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "no origins configured")
	}
	names := make(map[string]struct{}, len(c.Origins))
	for i, o := range c.Origins {
		if o.Name == "" {
			return errors.New(errors.ErrCodeConfigInvalid, "origin %d has no name", i)
		}
		if _, dup := names[o.Name]; dup {
			return errors.New(errors.ErrCodeConfigInvalid, "duplicate origin name %q", o.Name)
		}
		names[o.Name] = struct{}{}
		if (o.URL == "") == (o.File == "") {
			return errors.New(errors.ErrCodeConfigInvalid,
				"origin %q must set exactly one of url and file", o.Name)
		}
	}
	if *c.DebounceCycles < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"debounce_cycles must be >= 0, got %d", *c.DebounceCycles)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid, "invalid port %d", c.Server.Port)
	}
	switch c.Cache.Backend {
	case "memory", "file", "redis", "none":
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			"unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "cache backend redis needs redis.addr")
	}
	switch c.History.Backend {
	case "memory", "mongo":
	default:
		return errors.New(errors.ErrCodeConfigInvalid,
			"unknown history backend %q", c.History.Backend)
	}
	if c.History.Enabled && c.History.Backend == "mongo" && c.History.Mongo.URI == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "history backend mongo needs mongo.uri")
	}
	return nil
}

// Example is a starter Siostam.toml written by `siostam init`.
const Example = `# Siostam configuration.
# Each origin answers with a JSON payload of service descriptions.

poll_interval = "60s"

# How many consecutive refresh cycles a service may be missing from its
# origin before it is removed from the graph.
debounce_cycles = 2

[[origin]]
name = "example"
file = "topology.json"

# [[origin]]
# name = "billing"
# url = "https://billing.internal/topology"
# timeout = "10s"
# token_env = "BILLING_TOKEN"

[render]
engine = "dot"
args = ["-Tsvg"]

[server]
bind = "127.0.0.1"
port = 4300
# cors_allowed_origins = ["https://dashboard.internal"]

[cache]
backend = "memory"
`
