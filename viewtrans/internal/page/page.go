// Package page defines the contract between the translation pipeline and
// the document it runs against: tracked elements, visibility reports and
// the DOM side effects (Surface) the pipeline is allowed to perform.
//
// The Rod-backed implementation lives in internal/browser. Tests use an
// in-memory fake.
package page

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/atom"
)

const (
	// AttrID is stamped on every selected element; its value is the
	// element handle used across the pipeline.
	AttrID = "data-viewtrans-id"
	// AttrTranslated marks an original element once a placeholder exists
	// for it. Selection skips marked elements.
	AttrTranslated = "data-viewtrans-translated"
	// PlaceholderClass is set on every inserted placeholder node.
	PlaceholderClass = "viewtrans-placeholder"
	// StylesheetID identifies the shared loading-indicator stylesheet.
	StylesheetID = "viewtrans-style"
	// MinTextLength is the minimum trimmed length, in characters, of a
	// text worth translating.
	MinTextLength = 4
)

// TextTags are the text-bearing elements selected at session start.
var TextTags = []atom.Atom{
	atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
	atom.Li, atom.Td, atom.Th, atom.Dt, atom.Dd,
	atom.Blockquote, atom.Figcaption, atom.Caption, atom.Summary, atom.Label,
}

// DefaultSelector returns the CSS selector matching TextTags, excluding
// elements already translated.
func DefaultSelector() string {
	parts := make([]string, len(TextTags))
	for i, a := range TextTags {
		parts[i] = a.String() + ":not([" + AttrTranslated + "])"
	}
	return strings.Join(parts, ", ")
}

// Candidate is an element as reported by the surface: its handle and its
// trimmed inner text at the time of the report.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Element is a tracked text-bearing node. Both flags are one-way: once set
// they stay set for the lifetime of the element.
type Element struct {
	ID   string
	Text string

	requested  bool
	translated bool
}

// NewElement creates an Element with the given handle and trimmed text.
func NewElement(id, text string) *Element {
	return &Element{ID: id, Text: strings.TrimSpace(text)}
}

// Requested reports whether the element has been queued for translation.
func (e *Element) Requested() bool { return e.requested }

// Translated reports whether a placeholder has been rendered for the element.
func (e *Element) Translated() bool { return e.translated }

// MarkRequested sets the requested flag. It returns false if it was
// already set.
func (e *Element) MarkRequested() bool {
	if e.requested {
		return false
	}
	e.requested = true
	return true
}

// MarkTranslated sets the translated flag. It returns false if it was
// already set.
func (e *Element) MarkTranslated() bool {
	if e.translated {
		return false
	}
	e.translated = true
	return true
}

// Eligible reports whether the element may still be queued: long enough
// and neither requested nor translated.
func (e *Element) Eligible() bool {
	return !e.requested && !e.translated && TextLongEnough(e.Text)
}

// TextLongEnough reports whether the trimmed text has at least
// MinTextLength characters.
func TextLongEnough(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= MinTextLength
}

// ObserveOptions configures the visibility observer installed on the page.
type ObserveOptions struct {
	// RootMargin extends the viewport (CSS margin syntax, e.g. "200px").
	RootMargin string `json:"root_margin"`
	// Threshold is the minimum visible fraction of an element, 0..1.
	Threshold float64 `json:"threshold"`
}

// State is the visual state of a placeholder.
type State string

const (
	StateLoading State = "loading"
	StateDone    State = "done"
	StateError   State = "error"
)

// Declaration is one CSS property/value pair.
type Declaration struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Rendering is what a placeholder shows after an update.
type Rendering struct {
	Text  string        `json:"text"`
	State State         `json:"state"`
	Style []Declaration `json:"style"`
}

// Surface is the set of DOM operations the pipeline performs. All methods
// may block on a round trip to the page.
type Surface interface {
	// Select stamps AttrID on every element matching selector and returns
	// them with their trimmed text.
	Select(ctx context.Context, selector string) ([]Candidate, error)

	// Observe installs one visibility observer over ids. onVisible is
	// called, from any goroutine, with the elements that entered the
	// activation region; each reported element is unobserved by the
	// surface before onVisible runs. Observe replaces a previous observer.
	Observe(ctx context.Context, opts ObserveOptions, ids []string, onVisible func([]Candidate)) error

	// Disconnect removes the observer. No onVisible call starts after it
	// returns. Disconnecting with no observer is a no-op.
	Disconnect(ctx context.Context) error

	// EnsureStylesheet injects css under the given element ID unless a
	// node with that ID already exists.
	EnsureStylesheet(ctx context.Context, id, css string) error

	// InsertPlaceholder inserts a loading placeholder with ID placeholderID
	// directly after the element anchorID and sets AttrTranslated on it.
	InsertPlaceholder(ctx context.Context, anchorID, placeholderID string) error

	// ComputedStyle returns the resolved values of props for element id.
	ComputedStyle(ctx context.Context, id string, props []string) (map[string]string, error)

	// Render replaces the placeholder content with r.
	Render(ctx context.Context, placeholderID string, r Rendering) error
}
