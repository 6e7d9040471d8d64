// CLAUDE:SUMMARY Per-tab translation session: Idle/Active state machine owning the tracker, accumulator, dispatcher and renderer on one event loop.
// Package viewtrans translates the text of browser tabs as it scrolls into
// view. A Session drives one tab; a Registry holds the sessions of a
// process and applies start/stop commands to them.
package viewtrans

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/viewtrans/idgen"
	"github.com/hazyhaar/viewtrans/settings"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/batch"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/dispatch"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/render"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/visibility"
)

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = Active
	case "idle":
		*s = Idle
	default:
		return fmt.Errorf("viewtrans: unknown state %q", b)
	}
	return nil
}

// SessionConfig configures a Session.
type SessionConfig struct {
	TabID      string
	URL        string
	Surface    page.Surface
	Settings   settings.Reader
	Translator dispatch.Translator

	// RootMargin and Threshold shape the activation region.
	RootMargin string
	Threshold  float64
	// FlushDelay is the quiet period before a partial batch is sent.
	FlushDelay time.Duration
	// RequestTimeout bounds one translate request.
	RequestTimeout time.Duration
	// PlaceholderIDs generates placeholder node IDs.
	PlaceholderIDs idgen.Generator
	Logger         *slog.Logger
}

// Stats is a snapshot of a Session. Counters accumulate across runs.
type Stats struct {
	TabID        string `json:"tab_id"`
	URL          string `json:"url,omitempty"`
	State        State  `json:"state"`
	Observed     int    `json:"observed"`
	Pending      int    `json:"pending"`
	Placeholders int    `json:"placeholders"`
	InFlight     int    `json:"in_flight"`
	Queued       int    `json:"queued"`
	Batches      int    `json:"batches"`
	Rendered     int    `json:"rendered"`
	Failed       int    `json:"failed"`
	Missing      int    `json:"missing"`
	Discarded    int    `json:"discarded"`
}

// Session is the per-tab Idle/Active state machine. Start and Stop may be
// called any number of times from any goroutine.
type Session struct {
	id  string
	cfg SessionConfig

	mu  sync.Mutex // serialises Start and Stop
	run *run

	// active mirrors run != nil for readers that must not wait on mu.
	active atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// NewSession creates an Idle session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Static(settings.Default())
	}
	s := &Session{id: idgen.SessionID(), cfg: cfg}
	s.cfg.Logger = cfg.Logger.With("tab", cfg.TabID, "session", s.id)
	s.stats.TabID = cfg.TabID
	s.stats.URL = cfg.URL
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// TabID returns the tab the session drives.
func (s *Session) TabID() string { return s.cfg.TabID }

// State returns the current state. It does not block on a Start or Stop
// in progress.
func (s *Session) State() State {
	if s.active.Load() {
		return Active
	}
	return Idle
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) updateStats(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// Start loads the settings, injects the stylesheet, selects the text
// elements of the page and starts observing them. Starting an Active
// session is a no-op. On error the session stays Idle with no observer.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		s.cfg.Logger.Info("viewtrans: already active")
		return nil
	}

	set, err := s.cfg.Settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("viewtrans: load settings: %w", err)
	}
	preset, err := render.ParsePreset(set.StylePreset)
	if err != nil {
		return fmt.Errorf("viewtrans: %w", err)
	}

	if err := s.cfg.Surface.EnsureStylesheet(ctx, page.StylesheetID, render.Stylesheet); err != nil {
		return fmt.Errorf("viewtrans: inject stylesheet: %w", err)
	}
	candidates, err := s.cfg.Surface.Select(ctx, page.DefaultSelector())
	if err != nil {
		return fmt.Errorf("viewtrans: select elements: %w", err)
	}

	r := s.newRun(ctx, set, preset)
	if err := r.tracker.Observe(ctx, candidates, r.onVisible); err != nil {
		r.cancel()
		return fmt.Errorf("viewtrans: %w", err)
	}
	// The tracker belongs to the loop once it runs.
	observed := r.tracker.Observed()
	r.active.Store(true)
	s.run = r
	s.active.Store(true)
	go r.loop()

	s.updateStats(func(st *Stats) {
		st.State = Active
		st.Observed = observed
		st.Pending, st.Placeholders, st.InFlight = 0, 0, 0
	})
	s.cfg.Logger.Info("viewtrans: started",
		"elements", len(candidates), "batch_size", set.BatchSize, "preset", preset,
		"match_original", set.MatchOriginalStyle)
	return nil
}

// Stop disconnects the observer, cancels the flush timer and drops the
// pending elements without sending them. Requests already sent run to
// completion; their responses are discarded when they arrive. Rendered translations stay on the page.
// Stopping an Idle session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	if r == nil {
		return nil
	}
	s.run = nil
	s.active.Store(false)

	r.active.Store(false)
	r.cancel()
	<-r.done

	err := r.tracker.Disconnect(ctx)
	dropped := r.acc.Discard()

	s.updateStats(func(st *Stats) {
		st.State = Idle
		st.Observed, st.Pending = 0, 0
		st.InFlight = r.dispatcher.InFlight()
	})
	s.cfg.Logger.Info("viewtrans: stopped", "dropped_pending", dropped, "in_flight", r.dispatcher.InFlight())
	if err != nil {
		return fmt.Errorf("viewtrans: %w", err)
	}
	return nil
}

// run is one Active period. Everything but active and the channels is
// owned by loop.
type run struct {
	s      *Session
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	active atomic.Bool

	visible chan []page.Candidate
	results chan dispatch.Result

	tracker    *visibility.Tracker
	acc        *batch.Accumulator
	renderer   *render.Renderer
	dispatcher *dispatch.Dispatcher
}

func (s *Session) newRun(ctx context.Context, set settings.Settings, preset render.Preset) *run {
	// A run outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		s:       s,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		visible: make(chan []page.Candidate, 64),
		results: make(chan dispatch.Result, 16),
	}

	r.tracker = visibility.New(s.cfg.Surface, visibility.Config{
		RootMargin: s.cfg.RootMargin,
		Threshold:  s.cfg.Threshold,
		Logger:     s.cfg.Logger,
	})
	r.renderer = render.New(render.Config{
		Surface: s.cfg.Surface,
		Policy: render.Policy{
			Preset:        preset,
			Custom:        render.CustomStyle{FontSize: set.CustomStyle.FontSize, Color: set.CustomStyle.Color},
			MatchOriginal: set.MatchOriginalStyle,
		},
		IDs:    s.cfg.PlaceholderIDs,
		Logger: s.cfg.Logger,
	})
	r.dispatcher = dispatch.New(dispatch.Config{
		Translator: s.cfg.Translator,
		Renderer:   r.renderer,
		Deliver:    r.deliver,
		Timeout:    s.cfg.RequestTimeout,
		Logger:     s.cfg.Logger,
	})
	r.acc = batch.New(batch.Config{MaxSize: set.BatchSize, FlushDelay: s.cfg.FlushDelay}, r.send)
	return r
}

// onVisible runs on the surface's goroutine.
func (r *run) onVisible(hits []page.Candidate) {
	select {
	case r.visible <- hits:
	case <-r.ctx.Done():
	}
}

// deliver runs on the request goroutine.
func (r *run) deliver(res dispatch.Result) {
	select {
	case r.results <- res:
	case <-r.ctx.Done():
		r.s.cfg.Logger.Debug("viewtrans: response dropped after stop", "seq", res.Seq)
	}
}

func (r *run) send(b []*page.Element) {
	if !r.active.Load() {
		return
	}
	r.dispatcher.Dispatch(r.ctx, b)
	r.s.updateStats(func(st *Stats) { st.Batches++ })
}

func (r *run) loop() {
	defer close(r.done)
	for {
		// Stop may already be waiting; nothing new is admitted or sent.
		if !r.active.Load() {
			return
		}
		select {
		case <-r.ctx.Done():
			return

		case hits := <-r.visible:
			queued := r.tracker.Report(hits)
			r.acc.Add(queued...)
			r.s.updateStats(func(st *Stats) { st.Queued += len(queued) })

		case <-r.acc.TimerC():
			r.acc.Flush()

		case res := <-r.results:
			out := r.dispatcher.Apply(r.ctx, res, r.active.Load())
			r.s.updateStats(func(st *Stats) {
				st.Rendered += out.Rendered
				st.Failed += out.Failed
				st.Missing += out.Missing
				if out.Discarded {
					st.Discarded++
				}
			})
		}

		r.s.updateStats(func(st *Stats) {
			st.Observed = r.tracker.Observed()
			st.Pending = r.acc.Pending()
			st.Placeholders = r.renderer.Len()
			st.InFlight = r.dispatcher.InFlight()
		})
	}
}
