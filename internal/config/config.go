package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for the sync daemon.
//
// The S3 settings may be left empty: an unconfigured remote makes every
// sync attempt a trivial no-op rather than an error, so the player works
// offline-only out of the box.
type Config struct {
	// Remote store (S3-compatible) settings.
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	// RemoteDir is the directory within the bucket holding the sync blob.
	RemoteDir string `env:"REMOTE_DIR" envDefault:"neriplayer/sync"`

	// BinaryFormat selects the compact wire format for writes. Either
	// format stays readable regardless of this setting.
	BinaryFormat bool `env:"BINARY_FORMAT" envDefault:"false"`

	// SyncInterval is the periodic trigger interval.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`

	// DataDir holds the state and library databases.
	// Defaults to ~/.neripsync.
	DataDir string `env:"DATA_DIR"`

	// DeviceName identifies this device in snapshots and conflict
	// reports. Defaults to the system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// CoverBaseURL is the public base URL covers are served from. Local
	// cover paths are rewritten against it before entering a snapshot;
	// when empty, unresolvable local refs are dropped.
	CoverBaseURL string `env:"COVER_BASE_URL"`

	// RulesFile optionally points at a YAML file toggling which
	// collections participate in sync.
	RulesFile string `env:"RULES_FILE"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Rules toggles which collections participate in sync. All default on.
type Rules struct {
	Playlists   bool `yaml:"playlists"`
	Favorites   bool `yaml:"favorites"`
	RecentPlays bool `yaml:"recent_plays"`
}

// DefaultRules returns the all-collections-enabled rule set.
func DefaultRules() Rules {
	return Rules{Playlists: true, Favorites: true, RecentPlays: true}
}

// Load reads configuration from environment variables. It first attempts
// to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "neriplayer"
		}

		cfg.DeviceName = hostname
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.DataDir = filepath.Join(home, ".neripsync")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}

	// S3 settings are all-or-nothing. A partial credential is a
	// misconfiguration, not an unconfigured remote.
	configured := 0
	for _, v := range []string{c.S3Endpoint, c.S3Bucket, c.S3AccessKey, c.S3SecretKey} {
		if v != "" {
			configured++
		}
	}

	if configured != 0 && configured != 4 {
		return fmt.Errorf("S3_ENDPOINT, S3_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}

	return nil
}

// RemoteConfigured reports whether a complete remote credential is present.
func (c *Config) RemoteConfigured() bool {
	return c.S3Endpoint != "" && c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// StatePath returns the sync bookkeeping database path.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "sync.db")
}

// LibraryPath returns the local library database path.
func (c *Config) LibraryPath() string {
	return filepath.Join(c.DataDir, "library.db")
}

// LoadRules reads the collection-toggle rules file. A missing or
// unconfigured file yields the defaults (everything syncs).
func (c *Config) LoadRules() (Rules, error) {
	if c.RulesFile == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(c.RulesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), nil
		}

		return Rules{}, fmt.Errorf("reading rules file: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing rules file: %w", err)
	}

	return rules, nil
}
