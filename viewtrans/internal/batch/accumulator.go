// Package batch groups visible elements into translation batches.
//
// A batch is released as soon as MaxSize elements are pending, or when the
// flush window expires with no new arrival, whichever comes first.
package batch

import (
	"time"

	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

// Config controls batching.
type Config struct {
	// MaxSize is the full-batch size. Default: 30.
	MaxSize int
	// FlushDelay is the quiet period after which a partial batch is
	// released. Default: 1500ms.
	FlushDelay time.Duration
}

func (c *Config) defaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 30
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 1500 * time.Millisecond
	}
}

// Accumulator holds the pending set. It is not safe for concurrent use: the
// owner calls Add, Flush and Discard from one goroutine and selects on
// TimerC in the same loop.
type Accumulator struct {
	cfg      Config
	pending  []*page.Element
	index    map[string]struct{}
	timer    *time.Timer
	timerCh  <-chan time.Time
	dispatch func([]*page.Element)
}

// New creates an Accumulator that hands every released batch to dispatch.
func New(cfg Config, dispatch func([]*page.Element)) *Accumulator {
	cfg.defaults()
	return &Accumulator{
		cfg:      cfg,
		pending:  make([]*page.Element, 0, cfg.MaxSize),
		index:    make(map[string]struct{}),
		dispatch: dispatch,
	}
}

// Add admits elements in order. Every time the pending set reaches MaxSize
// the oldest MaxSize elements are dispatched immediately. If elements remain
// afterwards the flush timer is replaced with a fresh one; otherwise it is
// stopped. Elements already pending are ignored.
func (a *Accumulator) Add(els ...*page.Element) {
	if len(els) == 0 {
		return
	}
	for _, el := range els {
		if _, dup := a.index[el.ID]; dup {
			continue
		}
		a.index[el.ID] = struct{}{}
		a.pending = append(a.pending, el)

		for len(a.pending) >= a.cfg.MaxSize {
			a.cut(a.cfg.MaxSize)
		}
	}

	if len(a.pending) > 0 {
		a.resetTimer()
	} else {
		a.stopTimer()
	}
}

// TimerC returns the channel of the current flush timer, or nil when no
// flush is scheduled. A reset replaces the channel, so a receive on a
// channel obtained before the reset never happens.
func (a *Accumulator) TimerC() <-chan time.Time {
	return a.timerCh
}

// Flush dispatches everything pending as one final batch and clears the
// timer. Called when TimerC fires.
func (a *Accumulator) Flush() {
	a.stopTimer()
	if len(a.pending) == 0 {
		return
	}
	a.cut(len(a.pending))
}

// Discard cancels the flush timer and drops the pending set without
// dispatching it. It returns the number of elements dropped.
func (a *Accumulator) Discard() int {
	a.stopTimer()
	n := len(a.pending)
	a.pending = a.pending[:0]
	a.index = make(map[string]struct{})
	return n
}

// Pending returns the number of elements waiting for dispatch.
func (a *Accumulator) Pending() int { return len(a.pending) }

// MaxSize returns the effective full-batch size.
func (a *Accumulator) MaxSize() int { return a.cfg.MaxSize }

func (a *Accumulator) cut(n int) {
	out := make([]*page.Element, n)
	copy(out, a.pending[:n])

	rest := copy(a.pending, a.pending[n:])
	for i := rest; i < len(a.pending); i++ {
		a.pending[i] = nil
	}
	a.pending = a.pending[:rest]

	for _, el := range out {
		delete(a.index, el.ID)
	}
	a.dispatch(out)
}

func (a *Accumulator) resetTimer() {
	a.stopTimer()
	a.timer = time.NewTimer(a.cfg.FlushDelay)
	a.timerCh = a.timer.C
}

func (a *Accumulator) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerCh = nil
}
