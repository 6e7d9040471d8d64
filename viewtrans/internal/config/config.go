// Package config loads the viewtrans daemon configuration from a YAML or
// TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser" toml:"browser"`
	Pages      []PageConfig     `yaml:"pages" toml:"pages"`
	Tracker    TrackerConfig    `yaml:"tracker" toml:"tracker"`
	Batch      BatchConfig      `yaml:"batch" toml:"batch"`
	Translator TranslatorConfig `yaml:"translator" toml:"translator"`
	Settings   SettingsConfig   `yaml:"settings" toml:"settings"`
	Routes     RoutesConfig     `yaml:"routes" toml:"routes"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote" toml:"remote"`
	Stealth          string   `yaml:"stealth" toml:"stealth"` // headless | headful | plain
	MemoryLimit      int64    `yaml:"memory_limit" toml:"memory_limit"`
	RecycleInterval  Duration `yaml:"recycle_interval" toml:"recycle_interval"`
	ResourceBlocking []string `yaml:"resource_blocking" toml:"resource_blocking"`
	XvfbDisplay      string   `yaml:"xvfb_display" toml:"xvfb_display"`
}

// PageConfig is a tab opened at startup.
type PageConfig struct {
	ID        string `yaml:"id" toml:"id" json:"id"`
	URL       string `yaml:"url" toml:"url" json:"url"`
	AutoStart bool   `yaml:"auto_start" toml:"auto_start" json:"auto_start"`
}

// TrackerConfig is the visibility activation region.
type TrackerConfig struct {
	RootMargin string  `yaml:"root_margin" toml:"root_margin"`
	Threshold  float64 `yaml:"threshold" toml:"threshold"`
}

type BatchConfig struct {
	FlushDelay     Duration `yaml:"flush_delay" toml:"flush_delay"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// TranslatorConfig configures the local translate_batch service.
type TranslatorConfig struct {
	Endpoint     string            `yaml:"endpoint" toml:"endpoint"`
	TargetLang   string            `yaml:"target_lang" toml:"target_lang"`
	RequestDelay Duration          `yaml:"request_delay" toml:"request_delay"`
	Timeout      Duration          `yaml:"timeout" toml:"timeout"`
	Headers      map[string]string `yaml:"headers" toml:"headers"`
	Cache        bool              `yaml:"cache" toml:"cache"`
	// CacheDB is the SQLite file of the translation cache. Default: the
	// settings DB, else viewtrans.db.
	CacheDB string `yaml:"cache_db" toml:"cache_db"`
}

// SettingsConfig selects where display settings are read from. DB wins
// over File; both empty means built-in defaults.
type SettingsConfig struct {
	DB   string `yaml:"db" toml:"db"`
	File string `yaml:"file" toml:"file"`
}

// RoutesConfig enables the SQLite routes table. Empty DB keeps every
// service local.
type RoutesConfig struct {
	DB           string   `yaml:"db" toml:"db"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
	Retries      int      `yaml:"retries" toml:"retries"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoadFile reads a configuration file. Files ending in .toml are decoded as
// TOML, anything else as YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no pages.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Tracker.RootMargin == "" {
		c.Tracker.RootMargin = "200px"
	}
	if c.Tracker.Threshold <= 0 {
		c.Tracker.Threshold = 0.1
	}
	if c.Batch.FlushDelay <= 0 {
		c.Batch.FlushDelay = Duration(1500 * time.Millisecond)
	}
	if c.Batch.RequestTimeout <= 0 {
		c.Batch.RequestTimeout = Duration(60 * time.Second)
	}
	if c.Translator.TargetLang == "" {
		c.Translator.TargetLang = "en"
	}
	if c.Translator.RequestDelay < 0 {
		c.Translator.RequestDelay = 0
	}
	if c.Translator.Timeout <= 0 {
		c.Translator.Timeout = Duration(30 * time.Second)
	}
	if c.Translator.Cache && c.Translator.CacheDB == "" {
		c.Translator.CacheDB = c.Settings.DB
		if c.Translator.CacheDB == "" {
			c.Translator.CacheDB = "viewtrans.db"
		}
	}
	if c.Routes.PollInterval <= 0 {
		c.Routes.PollInterval = Duration(2 * time.Second)
	}
	if c.Routes.Retries <= 0 {
		c.Routes.Retries = 2
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8417"
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.ID == "" {
			return fmt.Errorf("config: pages[%d]: id is required", i)
		}
		if p.URL == "" {
			return fmt.Errorf("config: page %q: url is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if c.Tracker.Threshold > 1 {
		return fmt.Errorf("config: tracker.threshold %v out of range", c.Tracker.Threshold)
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("1500ms").
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
