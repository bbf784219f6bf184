package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file.
type Config struct {
	Source    StoreConfig     `yaml:"source"`
	Target    StoreConfig     `yaml:"target"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Import    ImportConfig    `yaml:"import"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and configures a document store.
type StoreConfig struct {
	// Kind is couch, mongo, postgres or memory.
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Prefix is the mongo database prefix or the postgres table prefix.
	Prefix    string        `yaml:"prefix"`
	Timeout   time.Duration `yaml:"timeout"`
	Databases []string      `yaml:"databases"`
}

// ArchiveConfig says where archives are written and read.
type ArchiveConfig struct {
	// URI is a directory, s3://bucket/prefix or gs://bucket/prefix when
	// exporting, and the archive itself when importing.
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`

	// CacheDir enables the local archive cache for remote imports.
	CacheDir     string        `yaml:"cache_dir"`
	CacheMaxSize int64         `yaml:"cache_max_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`

	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	PathStyle    bool   `yaml:"path_style"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	RoleARN      string `yaml:"role_arn"`
	ExternalID   string `yaml:"external_id"`
}

type GCSConfig struct {
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentials_file"`
	APIKey          string `yaml:"api_key"`
}

type ImportConfig struct {
	BatchBytes   int64  `yaml:"batch_bytes"`
	Concurrency  int    `yaml:"concurrency"`
	SkipExisting bool   `yaml:"skip_existing"`
	SpoolDir     string `yaml:"spool_dir"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Events publishes transfer events through Redis.
	Events bool `yaml:"events"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

func defaultConfig() *Config {
	return &Config{
		Source:  StoreConfig{Kind: "couch", URL: "http://localhost:5984"},
		Target:  StoreConfig{Kind: "couch", URL: "http://localhost:5984"},
		Archive: ArchiveConfig{URI: ".", CacheTTL: 24 * time.Hour},
		Import:  ImportConfig{BatchBytes: 1 << 20, Concurrency: 1},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := decodeConfig(f, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return cfg.validate()
}

func (c *Config) validate() error {
	for _, sc := range []struct {
		name string
		cfg  StoreConfig
	}{{"source", c.Source}, {"target", c.Target}} {
		switch sc.cfg.Kind {
		case "couch", "mongo", "postgres":
			if sc.cfg.URL == "" {
				return fmt.Errorf("%s: url is required for %s", sc.name, sc.cfg.Kind)
			}
		case "memory":
		default:
			return fmt.Errorf("%s: unknown store kind %q", sc.name, sc.cfg.Kind)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger from the log block.
func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
