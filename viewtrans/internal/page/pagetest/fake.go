// Package pagetest provides an in-memory page.Surface for tests.
package pagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

// Placeholder is a node inserted by InsertPlaceholder.
type Placeholder struct {
	ID        string
	AnchorID  string
	Renders   int
	Rendering page.Rendering
}

// Fake records every Surface call. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	candidates   []page.Candidate
	observing    map[string]bool
	onVisible    func([]page.Candidate)
	observeCalls int
	disconnects  int
	connected    bool
	stylesheets  map[string]string
	placeholders map[string]*Placeholder
	order        []string
	marked       map[string]bool
	computed     map[string]map[string]string

	// Err, when set, is returned by the named operation.
	Err map[string]error
}

// New creates a Fake whose document holds the given candidates.
func New(candidates ...page.Candidate) *Fake {
	return &Fake{
		candidates:   candidates,
		observing:    make(map[string]bool),
		stylesheets:  make(map[string]string),
		placeholders: make(map[string]*Placeholder),
		marked:       make(map[string]bool),
		computed:     make(map[string]map[string]string),
		Err:          make(map[string]error),
	}
}

// SetComputedStyle sets the values ComputedStyle returns for id.
func (f *Fake) SetComputedStyle(id string, style map[string]string) {
	f.mu.Lock()
	f.computed[id] = style
	f.mu.Unlock()
}

// SetError makes op fail with err until cleared with a nil err.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.Err, op)
	} else {
		f.Err[op] = err
	}
	f.mu.Unlock()
}

func (f *Fake) fail(op string) error {
	return f.Err[op]
}

func (f *Fake) Select(_ context.Context, _ string) ([]page.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("select"); err != nil {
		return nil, err
	}
	var out []page.Candidate
	for _, c := range f.candidates {
		if f.marked[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) Observe(_ context.Context, _ page.ObserveOptions, ids []string, onVisible func([]page.Candidate)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("observe"); err != nil {
		return err
	}
	f.observeCalls++
	f.connected = true
	f.onVisible = onVisible
	f.observing = make(map[string]bool, len(ids))
	for _, id := range ids {
		f.observing[id] = true
	}
	return nil
}

func (f *Fake) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.disconnects++
	}
	f.connected = false
	f.onVisible = nil
	f.observing = make(map[string]bool)
	return f.fail("disconnect")
}

// Scroll simulates the given elements entering the activation region.
// Elements no longer observed are skipped, as a real observer would.
// It returns the number of elements reported.
func (f *Fake) Scroll(ids ...string) int {
	f.mu.Lock()
	var hits []page.Candidate
	for _, id := range ids {
		if !f.observing[id] {
			continue
		}
		delete(f.observing, id)
		for _, c := range f.candidates {
			if c.ID == id {
				hits = append(hits, c)
				break
			}
		}
	}
	fn := f.onVisible
	f.mu.Unlock()

	if fn != nil && len(hits) > 0 {
		fn(hits)
	}
	return len(hits)
}

// Report delivers hits to the observer callback as-is, bypassing the
// observed set. It simulates a misbehaving observer.
func (f *Fake) Report(hits ...page.Candidate) {
	f.mu.Lock()
	fn := f.onVisible
	f.mu.Unlock()
	if fn != nil {
		fn(hits)
	}
}

func (f *Fake) EnsureStylesheet(_ context.Context, id, css string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stylesheets[id]; !ok {
		f.stylesheets[id] = css
	}
	return f.fail("stylesheet")
}

func (f *Fake) InsertPlaceholder(_ context.Context, anchorID, placeholderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("insert"); err != nil {
		return err
	}
	if _, ok := f.placeholders[placeholderID]; ok {
		return errors.New("pagetest: duplicate placeholder id " + placeholderID)
	}
	f.placeholders[placeholderID] = &Placeholder{
		ID:        placeholderID,
		AnchorID:  anchorID,
		Rendering: page.Rendering{State: page.StateLoading},
	}
	f.order = append(f.order, placeholderID)
	f.marked[anchorID] = true
	return nil
}

func (f *Fake) ComputedStyle(_ context.Context, id string, props []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("computed"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(props))
	for _, p := range props {
		if v, ok := f.computed[id][p]; ok {
			out[p] = v
		}
	}
	return out, nil
}

func (f *Fake) Render(_ context.Context, placeholderID string, r page.Rendering) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("render"); err != nil {
		return err
	}
	p, ok := f.placeholders[placeholderID]
	if !ok {
		return errors.New("pagetest: unknown placeholder " + placeholderID)
	}
	p.Renders++
	p.Rendering = r
	return nil
}

// Connected reports whether an observer is installed.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// ActiveObservers is Observe calls minus Disconnects that removed one.
func (f *Fake) ActiveObservers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observeCalls - f.disconnects
}

// ObserveCalls returns how many times Observe succeeded.
func (f *Fake) ObserveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observeCalls
}

// Observing reports whether id is still observed.
func (f *Fake) Observing(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observing[id]
}

// Stylesheets returns the number of injected stylesheets.
func (f *Fake) Stylesheets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stylesheets)
}

// Placeholders returns copies of the inserted placeholders in insertion order.
func (f *Fake) Placeholders() []Placeholder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Placeholder, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.placeholders[id])
	}
	return out
}

// PlaceholderAfter returns the placeholder inserted after anchorID.
func (f *Fake) PlaceholderAfter(anchorID string) (Placeholder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if p := f.placeholders[id]; p.AnchorID == anchorID {
			return *p, true
		}
	}
	return Placeholder{}, false
}

// Marked reports whether AttrTranslated was set on id.
func (f *Fake) Marked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked[id]
}
