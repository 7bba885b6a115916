package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by store.backend.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Layout LayoutConfig `mapstructure:"layout" yaml:"layout"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// StoreConfig selects and configures the field-store backend holding the
// shared model data.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Badger   BadgerConfig   `mapstructure:"badger" yaml:"badger"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// BadgerConfig configures the embedded durable backend.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// PostgresConfig configures the shared server-side backend.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SyncConfig tunes the synchronization engine's timing behavior.
type SyncConfig struct {
	// PublishDebounce is the quiet period between an accumulator change and
	// the snapshot publication it triggers.
	PublishDebounce time.Duration `mapstructure:"publish_debounce" yaml:"publish_debounce"`
	// EchoWindow is how long after a local write matching subscription
	// updates for the same record are treated as echoes and ignored.
	EchoWindow time.Duration `mapstructure:"echo_window" yaml:"echo_window"`
	// LayoutDebounce coalesces bursts of structural changes into one layout
	// pass.
	LayoutDebounce time.Duration `mapstructure:"layout_debounce" yaml:"layout_debounce"`
}

// LayoutConfig carries the geometry of the deterministic slice grid.
type LayoutConfig struct {
	SliceWidth float64 `mapstructure:"slice_width" yaml:"slice_width"`
	SliceGap   float64 `mapstructure:"slice_gap" yaml:"slice_gap"`
	RowHeight  float64 `mapstructure:"row_height" yaml:"row_height"`
	BaseY      float64 `mapstructure:"base_y" yaml:"base_y"`
	NodeWidth  float64 `mapstructure:"node_width" yaml:"node_width"`
	NodeHeight float64 `mapstructure:"node_height" yaml:"node_height"`
	// MinMove suppresses position writes below this distance, keeping
	// floating-point jitter out of the store and the undo history.
	MinMove float64 `mapstructure:"min_move" yaml:"min_move"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
	v.SetDefault("logger.compress", true)

	// -- Store --
	v.SetDefault("store.backend", BackendBadger)
	v.SetDefault("store.badger.dir", ".weavr/store")
	v.SetDefault("store.badger.in_memory", false)
	v.SetDefault("store.postgres.url", "")

	// -- Sync --
	v.SetDefault("sync.publish_debounce", 50*time.Millisecond)
	v.SetDefault("sync.echo_window", 2*time.Second)
	v.SetDefault("sync.layout_debounce", 50*time.Millisecond)

	// -- Layout --
	v.SetDefault("layout.slice_width", 1200.0)
	v.SetDefault("layout.slice_gap", 100.0)
	v.SetDefault("layout.row_height", 180.0)
	v.SetDefault("layout.base_y", 100.0)
	v.SetDefault("layout.node_width", 200.0)
	v.SetDefault("layout.node_height", 120.0)
	v.SetDefault("layout.min_move", 0.1)
}

// NewDefaultConfig returns a configuration populated with the defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper unmarshals and validates a configuration from a viper
// instance that already has defaults, file, and env bindings applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("store.postgres.url", "WEAVR_POSTGRES_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Store.Badger.Dir == "" && !c.Store.Badger.InMemory {
			return fmt.Errorf("store.badger.dir is required for the badger backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("store.postgres.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of %q, %q, %q", BackendMemory, BackendBadger, BackendPostgres)
	}

	if c.Sync.PublishDebounce <= 0 {
		return fmt.Errorf("sync.publish_debounce must be a positive duration")
	}
	if c.Sync.EchoWindow <= c.Sync.PublishDebounce {
		return fmt.Errorf("sync.echo_window must exceed sync.publish_debounce")
	}
	if c.Sync.LayoutDebounce <= 0 {
		return fmt.Errorf("sync.layout_debounce must be a positive duration")
	}

	if c.Layout.SliceWidth <= 0 || c.Layout.RowHeight <= 0 {
		return fmt.Errorf("layout.slice_width and layout.row_height must be positive")
	}
	if c.Layout.SliceGap < 0 {
		return fmt.Errorf("layout.slice_gap must not be negative")
	}
	if c.Layout.NodeWidth <= 0 || c.Layout.NodeHeight <= 0 {
		return fmt.Errorf("layout.node_width and layout.node_height must be positive")
	}
	if c.Layout.MinMove < 0 {
		return fmt.Errorf("layout.min_move must not be negative")
	}
	return nil
}
