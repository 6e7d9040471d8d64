// Package render owns the placeholders shown next to translated elements.
//
// One placeholder exists per distinct source text. It is inserted right
// after the first element carrying that text, shows a loading indicator
// until Update, then shows the translation or the failure.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/viewtrans/idgen"
	"github.com/hazyhaar/viewtrans/translator"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

// Declaration is one CSS property/value pair.
type Declaration = page.Declaration

// ErrNoPlaceholder is returned by Update for a text that has no placeholder.
var ErrNoPlaceholder = errors.New("render: no placeholder for text")

// Placeholder is the rendering record of one source text.
type Placeholder struct {
	ID       string
	Text     string
	AnchorID string
	State    page.State
}

// Config configures a Renderer.
type Config struct {
	Surface page.Surface
	Policy  Policy
	// IDs generates placeholder node IDs. Default: idgen.PlaceholderIDs().
	IDs    idgen.Generator
	Logger *slog.Logger
}

// Renderer is not safe for concurrent use; it belongs to one session loop.
type Renderer struct {
	cfg          Config
	placeholders map[string]*Placeholder
}

// New creates a Renderer with an empty placeholder map.
func New(cfg Config) *Renderer {
	if cfg.IDs == nil {
		cfg.IDs = idgen.PlaceholderIDs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Policy.Preset == "" {
		cfg.Policy.Preset = PresetDefault
	}
	return &Renderer{cfg: cfg, placeholders: make(map[string]*Placeholder)}
}

// Create inserts a loading placeholder after el unless one already exists
// for el's text. On insertion el is marked translated. It reports whether a
// placeholder was created.
func (r *Renderer) Create(ctx context.Context, el *page.Element) (bool, error) {
	if _, ok := r.placeholders[el.Text]; ok {
		return false, nil
	}

	id := r.cfg.IDs()
	if err := r.cfg.Surface.InsertPlaceholder(ctx, el.ID, id); err != nil {
		return false, fmt.Errorf("render: insert placeholder after %s: %w", el.ID, err)
	}
	el.MarkTranslated()
	r.placeholders[el.Text] = &Placeholder{
		ID:       id,
		Text:     el.Text,
		AnchorID: el.ID,
		State:    page.StateLoading,
	}
	return true, nil
}

// Update replaces the loading indicator of text's placeholder with result.
// Failure sentinels get the error style; otherwise the policy decides. The
// last update wins.
func (r *Renderer) Update(ctx context.Context, text, result string) (page.State, error) {
	ph, ok := r.placeholders[text]
	if !ok {
		return "", ErrNoPlaceholder
	}

	state := page.StateDone
	var style Style
	switch {
	case translator.IsFailure(result):
		state = page.StateError
		style = ErrorStyle()
	case r.cfg.Policy.MatchOriginal:
		style = r.matchStyle(ctx, ph)
	default:
		style = PresetStyle(r.cfg.Policy.Preset, r.cfg.Policy.Custom)
	}

	rendering := page.Rendering{
		// Assigned as textContent; markup-looking text stays literal.
		Text:  result,
		State: state,
		Style: style.Declarations(),
	}
	if err := r.cfg.Surface.Render(ctx, ph.ID, rendering); err != nil {
		return "", fmt.Errorf("render: update %s: %w", ph.ID, err)
	}
	ph.State = state
	return state, nil
}

func (r *Renderer) matchStyle(ctx context.Context, ph *Placeholder) Style {
	computed, err := r.cfg.Surface.ComputedStyle(ctx, ph.AnchorID, MatchedProperties)
	if err != nil {
		r.cfg.Logger.Warn("render: computed style unavailable, using preset",
			"anchor", ph.AnchorID, "error", err)
		return PresetStyle(r.cfg.Policy.Preset, r.cfg.Policy.Custom)
	}
	return MatchStyle(computed)
}

// Placeholder returns a copy of the placeholder for text.
func (r *Renderer) Placeholder(text string) (Placeholder, bool) {
	ph, ok := r.placeholders[text]
	if !ok {
		return Placeholder{}, false
	}
	return *ph, true
}

// Len returns the number of placeholders.
func (r *Renderer) Len() int { return len(r.placeholders) }
