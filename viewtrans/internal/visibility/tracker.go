// Package visibility decides which on-page elements are worth translating
// as they approach the viewport.
//
// A Tracker installs one observer over the selected elements, with an
// activation margin around the viewport so translations are fetched
// slightly ahead of the scroll. Each element is evaluated exactly once per
// session: the first report removes it from the observed set whatever the
// outcome.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

// ErrAlreadyObserving is returned by Observe when an observer is connected.
var ErrAlreadyObserving = errors.New("visibility: observer already connected")

// Config controls the activation region.
type Config struct {
	// RootMargin extends the viewport. Default: "200px".
	RootMargin string
	// Threshold is the minimum visible fraction. Default: 0.1.
	Threshold float64
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.RootMargin == "" {
		c.RootMargin = "200px"
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = 0.1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Tracker owns the tracked elements of one session. Report must be called
// from a single goroutine (the session loop); Observe and Disconnect must
// not run concurrently with it.
type Tracker struct {
	cfg     Config
	surface page.Surface

	elements  map[string]*page.Element
	observed  map[string]struct{}
	connected bool
}

// New creates a Tracker over surface.
func New(surface page.Surface, cfg Config) *Tracker {
	cfg.defaults()
	return &Tracker{
		cfg:      cfg,
		surface:  surface,
		elements: make(map[string]*page.Element),
		observed: make(map[string]struct{}),
	}
}

// Observe starts tracking candidates. onVisible receives raw reports from
// the surface, on any goroutine; the caller hands them back to Report on
// its own goroutine.
func (t *Tracker) Observe(ctx context.Context, candidates []page.Candidate, onVisible func([]page.Candidate)) error {
	if t.connected {
		return ErrAlreadyObserving
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, dup := t.elements[c.ID]; dup {
			continue
		}
		t.elements[c.ID] = page.NewElement(c.ID, c.Text)
		t.observed[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}

	opts := page.ObserveOptions{RootMargin: t.cfg.RootMargin, Threshold: t.cfg.Threshold}
	if err := t.surface.Observe(ctx, opts, ids, onVisible); err != nil {
		t.reset()
		return fmt.Errorf("visibility: observe: %w", err)
	}
	t.connected = true

	t.cfg.Logger.Debug("visibility: observing",
		"elements", len(ids), "root_margin", opts.RootMargin, "threshold", opts.Threshold)
	return nil
}

// Report evaluates elements that entered the activation region and returns
// the ones newly queued for translation, in report order. An element is
// queued when its trimmed text has at least page.MinTextLength characters
// and it was neither requested nor translated before; it is marked
// requested. Every reported element stops being observed.
func (t *Tracker) Report(hits []page.Candidate) []*page.Element {
	if !t.connected {
		return nil
	}

	var queued []*page.Element
	for _, h := range hits {
		if _, ok := t.observed[h.ID]; !ok {
			continue
		}
		delete(t.observed, h.ID)

		el := t.elements[h.ID]
		el.Text = strings.TrimSpace(h.Text)
		if !el.Eligible() {
			continue
		}
		el.MarkRequested()
		queued = append(queued, el)
	}
	return queued
}

// Disconnect stops observation and forgets every element. Safe to call
// when not connected.
func (t *Tracker) Disconnect(ctx context.Context) error {
	if !t.connected {
		return nil
	}
	t.connected = false
	t.reset()
	if err := t.surface.Disconnect(ctx); err != nil {
		return fmt.Errorf("visibility: disconnect: %w", err)
	}
	return nil
}

// Connected reports whether the observer is installed.
func (t *Tracker) Connected() bool { return t.connected }

// Observed returns how many elements are still awaiting their first report.
func (t *Tracker) Observed() int { return len(t.observed) }

// Element returns the tracked element with the given handle.
func (t *Tracker) Element(id string) (*page.Element, bool) {
	el, ok := t.elements[id]
	return el, ok
}

func (t *Tracker) reset() {
	t.elements = make(map[string]*page.Element)
	t.observed = make(map[string]struct{})
}
