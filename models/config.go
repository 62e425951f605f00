// Package models defines data structures for configuration, work units and results.
package models

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MinWorkers = 1
	MaxWorkers = 100

	DefaultWorkers          = 8
	DefaultPageTimeout      = 30 * time.Second
	DefaultSegmentTimeout   = 60 * time.Second
	DefaultMaxManifestDepth = 5
	DefaultMaxDetailLinks   = 100
	DefaultCacheTTL         = time.Hour
	DefaultOutputDir        = "picget-downloads"
	DefaultDBName           = "picget.db"
)

// Config holds runtime configuration. Values come from an optional YAML
// file first and are then overridden by CLI flags.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	Workers   int    `yaml:"workers"`

	// Delay is the fixed pause (seconds) a worker takes after each unit.
	// Jitter adds up to that many random seconds on top of it.
	Delay  float64 `yaml:"delay"`
	Jitter float64 `yaml:"jitter"`

	PageTimeout    time.Duration `yaml:"page_timeout"`
	SegmentTimeout time.Duration `yaml:"segment_timeout"`

	MaxManifestDepth int `yaml:"max_manifest_depth"`
	MaxDetailLinks   int `yaml:"max_detail_links"`

	// Site-specific markers.
	CategoryMarker string   `yaml:"category_marker"`
	SiteOrigin     string   `yaml:"site_origin"`
	LastPageLabel  string   `yaml:"last_page_label"`
	ObfuscationVar string   `yaml:"obfuscation_var"`
	PlayerSelector string   `yaml:"player_selector"`
	TitleEncodings []string `yaml:"title_encodings"`

	// RequireMultiPage turns an undetermined pagination result into an error.
	RequireMultiPage bool `yaml:"require_multi_page"`

	// UserAgent pins the User-Agent header instead of a random one per request.
	UserAgent string `yaml:"user_agent"`

	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	RedisURL string        `yaml:"redis_url"`
	DBPath   string        `yaml:"db_path"`
}

// DefaultConfig returns the configuration used when no file or flag overrides a value.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:        DefaultOutputDir,
		Workers:          DefaultWorkers,
		Delay:            0.5,
		Jitter:           1,
		PageTimeout:      DefaultPageTimeout,
		SegmentTimeout:   DefaultSegmentTimeout,
		MaxManifestDepth: DefaultMaxManifestDepth,
		MaxDetailLinks:   DefaultMaxDetailLinks,
		CategoryMarker:   "art",
		LastPageLabel:    "尾页",
		ObfuscationVar:   "_h",
		PlayerSelector:   "div#player.dplayer",
		TitleEncodings:   []string{"utf-8", "gbk", "gb18030"},
		CacheTTL:         DefaultCacheTTL,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every numeric knob. It never touches the network.
func (c *Config) Validate() error {
	if err := ValidateWorkers(c.Workers); err != nil {
		return err
	}
	if err := ValidateDelay("delay", c.Delay); err != nil {
		return err
	}
	if err := ValidateDelay("jitter", c.Jitter); err != nil {
		return err
	}
	if c.PageTimeout <= 0 {
		return &ValidationError{Field: "page_timeout", Value: c.PageTimeout.String(), Reason: "must be positive"}
	}
	if c.SegmentTimeout <= 0 {
		return &ValidationError{Field: "segment_timeout", Value: c.SegmentTimeout.String(), Reason: "must be positive"}
	}
	if c.MaxManifestDepth < 1 {
		return &ValidationError{Field: "max_manifest_depth", Value: fmt.Sprint(c.MaxManifestDepth), Reason: "must be >= 1"}
	}
	if c.MaxDetailLinks < 1 {
		return &ValidationError{Field: "max_detail_links", Value: fmt.Sprint(c.MaxDetailLinks), Reason: "must be >= 1"}
	}
	if c.OutputDir == "" {
		return &ValidationError{Field: "output_dir", Reason: "must not be empty"}
	}
	return nil
}

// ValidateWorkers rejects budgets outside [MinWorkers, MaxWorkers].
func ValidateWorkers(n int) error {
	if n < MinWorkers || n > MaxWorkers {
		return &ValidationError{
			Field:  "workers",
			Value:  fmt.Sprint(n),
			Reason: fmt.Sprintf("must be between %d and %d", MinWorkers, MaxWorkers),
		}
	}
	return nil
}

// ValidateDelay rejects negative, NaN and infinite second values.
func ValidateDelay(field string, seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return &ValidationError{Field: field, Value: fmt.Sprint(seconds), Reason: "must be a finite number >= 0"}
	}
	return nil
}

// Seconds converts a validated delay into a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
