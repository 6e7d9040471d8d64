// CLAUDE:SUMMARY Per-session presentation and batching settings: defaults, validation, and the Reader implementations (static, SQLite, YAML file).
// Package settings is the read side of the user preferences consumed once
// at every session start: placeholder style and batch size.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Defaults.
const (
	DefaultStylePreset = "default"
	DefaultBatchSize   = 30
)

// CustomStyle holds the values of the "custom" preset.
type CustomStyle struct {
	FontSize string `yaml:"font_size" json:"font_size" validate:"omitempty,max=32"`
	Color    string `yaml:"color" json:"color" validate:"omitempty,max=64"`
}

// Settings is the configuration a session reads when it starts.
type Settings struct {
	StylePreset        string      `yaml:"style_preset" json:"style_preset" validate:"oneof=default subtle highlighted custom"`
	CustomStyle        CustomStyle `yaml:"custom_style" json:"custom_style"`
	MatchOriginalStyle bool        `yaml:"match_original_style" json:"match_original_style"`
	BatchSize          int         `yaml:"batch_size" json:"batch_size" validate:"min=1,max=500"`
}

// Default returns the documented defaults.
func Default() Settings {
	return Settings{StylePreset: DefaultStylePreset, BatchSize: DefaultBatchSize}
}

// applyDefaults fills zero values.
func (s *Settings) applyDefaults() {
	s.StylePreset = strings.ToLower(strings.TrimSpace(s.StylePreset))
	if s.StylePreset == "" {
		s.StylePreset = DefaultStylePreset
	}
	if s.BatchSize == 0 {
		s.BatchSize = DefaultBatchSize
	}
}

var validate = validator.New()

// Validate checks s after defaults are applied.
func (s Settings) Validate() error {
	s.applyDefaults()
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("settings: invalid: %w", err)
	}
	return nil
}

// Normalize applies defaults and validates.
func Normalize(s Settings) (Settings, error) {
	s.applyDefaults()
	if err := validate.Struct(s); err != nil {
		return Settings{}, fmt.Errorf("settings: invalid: %w", err)
	}
	return s, nil
}

// Reader loads the current settings.
type Reader interface {
	Load(ctx context.Context) (Settings, error)
}

// Static is a Reader returning fixed settings.
type Static Settings

// Load implements Reader.
func (s Static) Load(context.Context) (Settings, error) {
	return Normalize(Settings(s))
}
