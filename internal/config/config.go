// Package config loads archiver configuration from file, environment and
// defaults via Viper.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is built once at startup
// and passed down by value; there is no global accessor.
type Config struct {
	Discourse DiscourseConfig `mapstructure:"discourse"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Cursor    CursorConfig    `mapstructure:"cursor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DiscourseConfig identifies the forum instance being archived.
type DiscourseConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ArchiveConfig controls the on-disk archive and run pacing.
type ArchiveConfig struct {
	Dir           string        `mapstructure:"dir"`
	ResyncMargin  time.Duration `mapstructure:"resync_margin"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
	TopicDelay    time.Duration `mapstructure:"topic_delay"`
	BackfillDelay time.Duration `mapstructure:"backfill_delay"`
}

// FetchConfig controls HTTP client timeout and backoff behavior.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// CursorConfig tunes the windowed-cursor recovery used when the listing
// returns an empty page even though older posts exist.
type CursorConfig struct {
	Window     int64         `mapstructure:"window"`
	ProbeDelay time.Duration `mapstructure:"probe_delay"`
	MaxProbes  int           `mapstructure:"max_probes"`
}

// LoggingConfig toggles debug logging.
type LoggingConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from the given file (or the default search
// paths when empty), layered under environment overrides and defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.discourse-archive")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discourse.base_url", "https://discourse.slicer.org")

	v.SetDefault("archive.dir", "./archive")
	v.SetDefault("archive.resync_margin", "24h")
	v.SetDefault("archive.page_delay", "5s")
	v.SetDefault("archive.topic_delay", "300ms")
	v.SetDefault("archive.backfill_delay", "2s")

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.backoff_base", "3s")
	v.SetDefault("fetch.backoff_max", "256s")
	v.SetDefault("fetch.min_interval", "100ms")
	v.SetDefault("fetch.user_agent", "discourse-archive/1.0")
	v.SetDefault("fetch.respect_robots", true)

	v.SetDefault("cursor.window", 49)
	v.SetDefault("cursor.probe_delay", "1s")
	v.SetDefault("cursor.max_probes", 200)

	v.SetDefault("logging.debug", false)
}

func bindEnvVars(v *viper.Viper) {
	// Env names predate this tool and are kept for compatibility.
	v.BindEnv("discourse.base_url", "DISCOURSE_URL")
	v.BindEnv("archive.dir", "TARGET_DIR")
	v.BindEnv("logging.debug", "DEBUG")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Discourse.BaseURL == "" {
		return fmt.Errorf("discourse.base_url must be set")
	}
	if u, err := url.Parse(c.Discourse.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("discourse.base_url %q is not an absolute URL", c.Discourse.BaseURL)
	}
	if c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir must be set")
	}
	if c.Archive.ResyncMargin < 0 {
		return fmt.Errorf("archive.resync_margin must not be negative")
	}
	if c.Fetch.BackoffBase <= 0 {
		return fmt.Errorf("fetch.backoff_base must be positive")
	}
	if c.Fetch.BackoffMax <= c.Fetch.BackoffBase {
		return fmt.Errorf("fetch.backoff_max must exceed fetch.backoff_base")
	}
	if c.Cursor.Window <= 0 {
		return fmt.Errorf("cursor.window must be positive")
	}
	if c.Cursor.MaxProbes <= 0 {
		return fmt.Errorf("cursor.max_probes must be positive")
	}
	return nil
}
