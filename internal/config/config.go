// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Validation ValidationConfig `mapstructure:"validation"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Score      ScoreConfig      `mapstructure:"score"`
	Organize   OrganizeConfig   `mapstructure:"organize"`
	Store      StoreConfig      `mapstructure:"store"`
	Server     ServerConfig     `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig configures the HTTP probe.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
}

// ValidationConfig governs the link validation pool.
type ValidationConfig struct {
	Workers         int     `mapstructure:"workers"`
	IncludeArchived bool    `mapstructure:"include_archived"`
	ForceRecheck    bool    `mapstructure:"force_recheck"`
	PerDomainRPS    float64 `mapstructure:"per_domain_rps"`
	PerDomainBurst  int     `mapstructure:"per_domain_burst"`
}

// ExtractConfig governs the content extraction pool and thresholds.
type ExtractConfig struct {
	Workers      int `mapstructure:"workers"`
	MinBodyChars int `mapstructure:"min_body_chars"`
}

// ArchiveConfig governs snapshot recovery and the global request gate.
type ArchiveConfig struct {
	Workers        int    `mapstructure:"workers"`
	SpacingSeconds int    `mapstructure:"spacing_seconds"`
	MaxSnapshots   int    `mapstructure:"max_snapshots"`
	CDXEndpoint    string `mapstructure:"cdx_endpoint"`
	WaybackBase    string `mapstructure:"wayback_base"`
}

// ScoreConfig overrides parts of the default priority ruleset.
type ScoreConfig struct {
	TierCritical int `mapstructure:"tier_critical"`
	TierHigh     int `mapstructure:"tier_high"`
	TierMedium   int `mapstructure:"tier_medium"`
	TierLow      int `mapstructure:"tier_low"`
}

// OrganizeConfig sets where rendered documents and run artifacts land.
type OrganizeConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StoreConfig selects the article store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ServerConfig controls the optional status/search HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESCUE")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.user_agent", "pocket-rescue/0.1")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.max_body_bytes", 8<<20)
	v.SetDefault("validation.workers", 20)
	v.SetDefault("validation.include_archived", false)
	v.SetDefault("validation.force_recheck", false)
	v.SetDefault("validation.per_domain_rps", 2.0)
	v.SetDefault("validation.per_domain_burst", 1)
	v.SetDefault("extract.workers", 10)
	v.SetDefault("extract.min_body_chars", 100)
	v.SetDefault("archive.workers", 3)
	v.SetDefault("archive.spacing_seconds", 2)
	v.SetDefault("archive.max_snapshots", 5)
	v.SetDefault("archive.cdx_endpoint", "http://web.archive.org/cdx/search/cdx")
	v.SetDefault("archive.wayback_base", "http://web.archive.org/web")
	v.SetDefault("score.tier_critical", 100)
	v.SetDefault("score.tier_high", 50)
	v.SetDefault("score.tier_medium", 10)
	v.SetDefault("score.tier_low", 5)
	v.SetDefault("organize.base_dir", "saved_articles")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "saved_articles/articles.db")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Validation.Workers <= 0 {
		return fmt.Errorf("validation.workers must be > 0")
	}
	if c.Extract.Workers <= 0 {
		return fmt.Errorf("extract.workers must be > 0")
	}
	if c.Extract.MinBodyChars <= 0 {
		return fmt.Errorf("extract.min_body_chars must be > 0")
	}
	if c.Archive.Workers <= 0 {
		return fmt.Errorf("archive.workers must be > 0")
	}
	if c.Archive.SpacingSeconds < 0 {
		return fmt.Errorf("archive.spacing_seconds must be >= 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}
	if !(c.Score.TierCritical > c.Score.TierHigh && c.Score.TierHigh > c.Score.TierMedium && c.Score.TierMedium > c.Score.TierLow) {
		return fmt.Errorf("score tier thresholds must be strictly descending")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// FetchTimeout converts the configured timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ArchiveSpacing converts the configured gate spacing into a duration.
func (c Config) ArchiveSpacing() time.Duration {
	return time.Duration(c.Archive.SpacingSeconds) * time.Second
}
