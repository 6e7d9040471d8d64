package viewtrans

import (
	"github.com/hazyhaar/viewtrans/viewtrans/internal/config"
)

// Config is the daemon configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig is a tab opened at startup.
type PageConfig = config.PageConfig

// TranslatorConfig configures the local translate_batch service.
type TranslatorConfig = config.TranslatorConfig

// Duration is a config duration written as "1500ms".
type Duration = config.Duration

// LoadConfigFile reads a YAML or TOML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return config.Default()
}
