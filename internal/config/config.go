// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete fhirdoc configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Assembly AssemblyConfig `yaml:"assembly"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the public FHIR base used in fullUrl values. Empty derives it
	// from each request.
	BaseURL         string        `yaml:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Mode  string `yaml:"mode"` // development | production
	Level string `yaml:"level"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory | sqlite | postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// CacheConfig enables the redis read-through cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	// WriteGuard is how long a write blocks cache fills for its key.
	WriteGuard time.Duration `yaml:"write_guard"`
}

// ArchiveConfig selects where persisted documents go.
type ArchiveConfig struct {
	Driver string   `yaml:"driver"` // none | fs | memory | s3
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the S3 archive. Credentials come from the environment.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// AssemblyConfig tunes the graph assembler.
type AssemblyConfig struct {
	FetchConcurrency int    `yaml:"fetch_concurrency"`
	MaxRecords       int    `yaml:"max_records"`
	ReferenceMode    string `yaml:"reference_mode"` // document | all
}

// HooksConfig selects the built-in observers.
type HooksConfig struct {
	SuppressTypes []string `yaml:"suppress_types"`
	Audit         bool     `yaml:"audit"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout | otlp
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log:      LogConfig{Mode: "production", Level: "info"},
		Storage:  StorageConfig{Driver: "memory", SQLitePath: "fhirdoc.db"},
		Cache:    CacheConfig{TTL: 5 * time.Minute},
		Archive:  ArchiveConfig{Driver: "none", FSRoot: "./documents"},
		Assembly: AssemblyConfig{FetchConcurrency: 1, ReferenceMode: "document"},
		Tracing:  TracingConfig{Exporter: "stdout", SampleRatio: 1},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads path when non-empty, applies FHIRDOC_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch c.Archive.Driver {
	case "", "none", "fs", "memory":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required for the s3 archive")
		}
	default:
		return fmt.Errorf("archive.driver must be none, fs, memory or s3, got %q", c.Archive.Driver)
	}
	switch c.Assembly.ReferenceMode {
	case "", "document", "all":
	default:
		return fmt.Errorf("assembly.reference_mode must be document or all, got %q", c.Assembly.ReferenceMode)
	}
	if c.Assembly.FetchConcurrency < 1 {
		return fmt.Errorf("assembly.fetch_concurrency must be at least 1")
	}
	if c.Assembly.MaxRecords < 0 {
		return fmt.Errorf("assembly.max_records must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
		return fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter)
	}
	return nil
}

// ApplyEnv overrides fields from FHIRDOC_* variables. lookup is os.LookupEnv
// outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("FHIRDOC_ADDR", &c.Server.Addr)
	str("FHIRDOC_BASE_URL", &c.Server.BaseURL)
	list("FHIRDOC_CORS_ORIGINS", &c.Server.CORSOrigins)
	str("FHIRDOC_LOG_MODE", &c.Log.Mode)
	str("FHIRDOC_LOG_LEVEL", &c.Log.Level)
	str("FHIRDOC_STORAGE_DRIVER", &c.Storage.Driver)
	str("FHIRDOC_SQLITE_PATH", &c.Storage.SQLitePath)
	str("FHIRDOC_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("FHIRDOC_REDIS_ADDR", &c.Cache.RedisAddr)
	duration("FHIRDOC_CACHE_TTL", &c.Cache.TTL)
	duration("FHIRDOC_CACHE_WRITE_GUARD", &c.Cache.WriteGuard)
	str("FHIRDOC_ARCHIVE_DRIVER", &c.Archive.Driver)
	str("FHIRDOC_ARCHIVE_FS_ROOT", &c.Archive.FSRoot)
	str("FHIRDOC_S3_BUCKET", &c.Archive.S3.Bucket)
	str("FHIRDOC_S3_REGION", &c.Archive.S3.Region)
	str("FHIRDOC_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	boolean("FHIRDOC_S3_PATH_STYLE", &c.Archive.S3.PathStyle)
	integer("FHIRDOC_FETCH_CONCURRENCY", &c.Assembly.FetchConcurrency)
	integer("FHIRDOC_MAX_RECORDS", &c.Assembly.MaxRecords)
	str("FHIRDOC_REFERENCE_MODE", &c.Assembly.ReferenceMode)
	list("FHIRDOC_SUPPRESS_TYPES", &c.Hooks.SuppressTypes)
	boolean("FHIRDOC_AUDIT", &c.Hooks.Audit)
	boolean("FHIRDOC_TRACING_ENABLED", &c.Tracing.Enabled)
	str("FHIRDOC_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("FHIRDOC_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
