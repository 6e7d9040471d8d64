// Package dispatch turns batches into translate requests and applies the
// responses to the placeholders.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/viewtrans/translator"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/render"
)

// Translator sends one batch of texts to the translation collaborator.
// *translator.Client implements it.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string) (translator.Map, error)
}

// Result is the outcome of one request, handed back to the session loop.
type Result struct {
	Seq   uint64
	Texts []string
	Map   translator.Map
	Err   error
}

// Outcome counts what Apply did with a Result.
type Outcome struct {
	Discarded bool
	Lookups   int
	Rendered  int
	Failed    int
	Missing   int
}

// Config configures a Dispatcher.
type Config struct {
	Translator Translator
	Renderer   *render.Renderer
	// Deliver receives every Result, from the request goroutine.
	Deliver func(Result)
	// Timeout bounds one request. Default: 60s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher is driven by one session loop: Dispatch and Apply run on that
// loop, only the translate call runs on its own goroutine.
type Dispatcher struct {
	cfg      Config
	seq      uint64
	inflight atomic.Int64
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg}
}

// Dispatch creates loading placeholders for the batch, then sends its texts,
// duplicates included, in one request without blocking. Once sent, the
// request is bounded only by Timeout: cancelling ctx does not abort it.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []*page.Element) uint64 {
	texts := make([]string, len(batch))
	for i, el := range batch {
		texts[i] = el.Text
	}

	for _, el := range batch {
		if _, err := d.cfg.Renderer.Create(ctx, el); err != nil {
			d.cfg.Logger.Warn("dispatch: placeholder not created", "element", el.ID, "error", err)
		}
	}

	d.seq++
	seq := d.seq
	d.inflight.Add(1)

	go func() {
		defer d.inflight.Add(-1)
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
		defer cancel()

		m, err := d.cfg.Translator.TranslateBatch(reqCtx, texts)
		d.cfg.Deliver(Result{Seq: seq, Texts: texts, Map: m, Err: err})
	}()

	d.cfg.Logger.Debug("dispatch: batch sent", "seq", seq, "texts", len(texts))
	return seq
}

// Apply renders a Result. When active is false the session stopped after
// the request was sent and the Result is dropped. On a transport failure
// every placeholder of the batch shows the error. Otherwise each text is
// looked up in the map: present keys are rendered, absent ones stay
// loading.
func (d *Dispatcher) Apply(ctx context.Context, res Result, active bool) Outcome {
	var out Outcome
	if !active {
		out.Discarded = true
		d.cfg.Logger.Debug("dispatch: result discarded, session stopped", "seq", res.Seq)
		return out
	}

	seen := make(map[string]struct{}, len(res.Texts))
	for _, text := range res.Texts {
		var result string
		if res.Err != nil {
			result = translator.Failure(res.Err.Error())
		} else {
			out.Lookups++
			v, ok := res.Map[text]
			if !ok {
				if _, dup := seen[text]; !dup {
					out.Missing++
					d.cfg.Logger.Debug("dispatch: no translation returned", "seq", res.Seq, "text_len", len(text))
				}
				seen[text] = struct{}{}
				continue
			}
			result = v
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}

		state, err := d.cfg.Renderer.Update(ctx, text, result)
		switch {
		case errors.Is(err, render.ErrNoPlaceholder):
			continue
		case err != nil:
			d.cfg.Logger.Warn("dispatch: render failed", "seq", res.Seq, "error", err)
			continue
		}
		if state == page.StateError {
			out.Failed++
		} else {
			out.Rendered++
		}
	}

	if res.Err != nil {
		d.cfg.Logger.Warn("dispatch: translate request failed", "seq", res.Seq, "texts", len(res.Texts), "error", res.Err)
	}
	return out
}

// InFlight returns the number of requests awaiting a response.
func (d *Dispatcher) InFlight() int { return int(d.inflight.Load()) }
