package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/prefsync/internal/errors"
	"github.com/vango-dev/prefsync/pkg/validate"
)

// ConfigFileNames are the file names Load looks for, in order.
var ConfigFileNames = []string{"prefsync.json", "prefsync.yaml", "prefsync.yml"}

// EnvPrefix prefixes every environment override, e.g. PREFSYNC_BACKEND.
const EnvPrefix = "PREFSYNC_"

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

const (
	// DefaultBackend is the storage backend used when none is configured.
	DefaultBackend = BackendFile

	// DefaultFileDir is the directory used by the file backend.
	DefaultFileDir = ".prefsync"

	// DefaultSQLitePath is the database used by the sqlite backend.
	DefaultSQLitePath = "prefsync.db"

	// DefaultRelayListen is the address the relay server binds to.
	DefaultRelayListen = ":7070"

	// DefaultMetricsNamespace prefixes every exported metric.
	DefaultMetricsNamespace = "prefsync"
)

// Config is the prefsync configuration.
type Config struct {
	// Backend selects the storage backend: memory, file, sqlite or s3.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty" env:"BACKEND"`

	// File configures the file backend.
	File FileConfig `json:"file,omitempty" yaml:"file,omitempty" envPrefix:"FILE_"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty" envPrefix:"SQLITE_"`

	// S3 configures the s3 backend.
	S3 S3Config `json:"s3,omitempty" yaml:"s3,omitempty" envPrefix:"S3_"`

	// Relay configures cross-process change notification.
	Relay RelayConfig `json:"relay,omitempty" yaml:"relay,omitempty" envPrefix:"RELAY_"`

	// Metrics configures Prometheus export.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty" envPrefix:"METRICS_"`

	// Log configures the process logger.
	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty" envPrefix:"LOG_"`

	configPath string
}

// FileConfig configures the file backend.
type FileConfig struct {
	// Dir holds one file per key.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" env:"DIR"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`

	// PollInterval is how often other processes' changes are read (e.g. "250ms").
	PollInterval string `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty" env:"POLL_INTERVAL"`

	// Retention is how long change rows are kept (e.g. "1h").
	Retention string `json:"retention,omitempty" yaml:"retention,omitempty" env:"RETENTION"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty" env:"BUCKET"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty" env:"PREFIX"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty" env:"REGION"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"ENDPOINT"`

	// PathStyle addresses buckets as host/bucket, as most S3-compatible
	// servers require.
	PathStyle bool `json:"pathStyle,omitempty" yaml:"pathStyle,omitempty" env:"PATH_STYLE"`

	// Static credentials. When empty the AWS_* environment variables are used.
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty" env:"SECRET_ACCESS_KEY"`
}

// RelayConfig configures the change relay.
type RelayConfig struct {
	// URL is the hub to connect to (e.g. "ws://localhost:7070/ws").
	// Empty disables the relay client.
	URL string `json:"url,omitempty" yaml:"url,omitempty" env:"URL"`

	// Origin names this process to its peers. Random when empty.
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty" env:"ORIGIN"`

	// Listen is the address `prefsync relay` serves on.
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty" env:"LISTEN"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Enabled wraps the backend with instrumentation.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" env:"ENABLED"`

	// Namespace prefixes metric names.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" env:"NAMESPACE"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty" env:"LEVEL"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty" env:"FORMAT"`
}

// New creates a Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the first config file found in dir.
func Load(dir string) (*Config, error) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E121").
		WithDetail("No prefsync.json or prefsync.yaml found in " + dir).
		WithSuggestion("Create prefsync.yaml or pass --config")
}

// LoadFile reads configuration from path. The format follows the file
// extension: .yaml and .yml are YAML, anything else is JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E121").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E120").
				WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
				WithSuggestion("Check that the file is valid YAML")
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E120").
				WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
				WithSuggestion("Check that the file is valid JSON")
		}
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Resolve builds the effective configuration with Read and validates it.
func Resolve(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds the configuration without validating it: defaults, then
// the file (path if given, otherwise the first config file in the
// working directory, if any), then environment overrides. Callers that
// layer further overrides call Validate once they are applied.
func Read(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = LoadFile(path)
	} else {
		cfg, err = Load(".")
		if errors.CodeOf(err) == "E121" {
			cfg, err = New(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PREFSYNC_* environment variables.
// Unset variables leave fields unchanged.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.New("E122").
			WithDetail("Invalid environment override: " + err.Error())
	}
	c.applyDefaults()
	return nil
}

// Path returns the path the config was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	c.Backend = strings.ToLower(c.Backend)
	if c.File.Dir == "" {
		c.File.Dir = DefaultFileDir
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = DefaultSQLitePath
	}
	if c.SQLite.PollInterval == "" {
		c.SQLite.PollInterval = "250ms"
	}
	if c.SQLite.Retention == "" {
		c.SQLite.Retention = "1h"
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = DefaultRelayListen
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("E122").
				WithDetail("s3.bucket is required for the s3 backend").
				WithSuggestion("Set s3.bucket or PREFSYNC_S3_BUCKET")
		}
	default:
		return errors.New("E123").
			WithDetail("Unknown backend " + `"` + c.Backend + `"`).
			WithSuggestion("Use one of: memory, file, sqlite, s3")
	}

	if c.Relay.URL != "" && !validate.IsURL(c.Relay.URL) {
		return errors.New("E122").
			WithDetail("relay.url must be an absolute URL such as ws://localhost:7070/ws")
	}

	if _, err := c.SQLitePollInterval(); err != nil {
		return err
	}
	if _, err := c.SQLiteRetention(); err != nil {
		return err
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("E122").
			WithDetail("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("E122").
			WithDetail("log.format must be text or json")
	}
	return nil
}

// SQLitePollInterval parses SQLite.PollInterval.
func (c *Config) SQLitePollInterval() (time.Duration, error) {
	return parseDuration("sqlite.pollInterval", c.SQLite.PollInterval)
}

// SQLiteRetention parses SQLite.Retention.
func (c *Config) SQLiteRetention() (time.Duration, error) {
	return parseDuration("sqlite.retention", c.SQLite.Retention)
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errors.New("E122").
			WithDetail(field + " must be a positive duration such as \"250ms\" or \"1h\", got " + `"` + s + `"`)
	}
	return d, nil
}
