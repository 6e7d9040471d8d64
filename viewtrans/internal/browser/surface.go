package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

//go:embed viewtrans.js
var viewtransJS string

// bindingName is the Runtime binding the IntersectionObserver reports to.
const bindingName = "__viewtrans_visible"

var _ page.Surface = (*Surface)(nil)

// Surface implements page.Surface on a Rod page. Every operation is one
// Runtime.evaluate of viewtrans.js; visibility reports come back through a
// Runtime binding.
type Surface struct {
	p      *rod.Page
	prefix string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	bindOnce sync.Once
	bindErr  error

	// mu is held for reading while onVisible runs so Disconnect can wait
	// out an in-progress report.
	mu        sync.RWMutex
	onVisible func([]page.Candidate)
}

func newSurface(p *rod.Page, tabID string, logger *slog.Logger) *Surface {
	ctx, cancel := context.WithCancel(context.Background())
	return &Surface{
		p:      p,
		prefix: tabID + "-",
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

type jsResult struct {
	Error string            `json:"error"`
	Style map[string]string `json:"style"`
}

func (s *Surface) call(ctx context.Context, method string, out any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	res, err := s.p.Context(ctx).Eval(viewtransJS, method, args)
	if err != nil {
		return fmt.Errorf("browser: %s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), out); err != nil {
		return fmt.Errorf("browser: %s: decode result: %w", method, err)
	}
	if r, ok := out.(*jsResult); ok && r.Error != "" {
		return fmt.Errorf("browser: %s: %s", method, r.Error)
	}
	return nil
}

func (s *Surface) Select(ctx context.Context, selector string) ([]page.Candidate, error) {
	var out []page.Candidate
	if err := s.call(ctx, "select", &out, selector, s.prefix); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Surface) Observe(ctx context.Context, opts page.ObserveOptions, ids []string, onVisible func([]page.Candidate)) error {
	if err := s.bind(); err != nil {
		return err
	}

	s.mu.Lock()
	s.onVisible = onVisible
	s.mu.Unlock()

	if ids == nil {
		ids = []string{}
	}
	var n int
	if err := s.call(ctx, "observe", &n, opts, ids); err != nil {
		s.mu.Lock()
		s.onVisible = nil
		s.mu.Unlock()
		return err
	}
	s.logger.Debug("browser: observer installed", "requested", len(ids), "observed", n)
	return nil
}

func (s *Surface) Disconnect(ctx context.Context) error {
	err := s.call(ctx, "disconnect", nil)

	s.mu.Lock()
	s.onVisible = nil
	s.mu.Unlock()
	return err
}

func (s *Surface) EnsureStylesheet(ctx context.Context, id, css string) error {
	var injected bool
	if err := s.call(ctx, "ensureStyle", &injected, id, css); err != nil {
		return err
	}
	if injected {
		s.logger.Debug("browser: stylesheet injected", "id", id)
	}
	return nil
}

func (s *Surface) InsertPlaceholder(ctx context.Context, anchorID, placeholderID string) error {
	return s.call(ctx, "insert", &jsResult{}, anchorID, placeholderID)
}

func (s *Surface) ComputedStyle(ctx context.Context, id string, props []string) (map[string]string, error) {
	var r jsResult
	if err := s.call(ctx, "computed", &r, id, props); err != nil {
		return nil, err
	}
	return r.Style, nil
}

func (s *Surface) Render(ctx context.Context, placeholderID string, r page.Rendering) error {
	if r.Style == nil {
		r.Style = []page.Declaration{}
	}
	return s.call(ctx, "render", &jsResult{}, placeholderID, r)
}

// bind registers the Runtime binding and starts the listener once per tab.
func (s *Surface) bind() error {
	s.bindOnce.Do(func() {
		if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(s.p); err != nil {
			s.bindErr = fmt.Errorf("browser: add binding: %w", err)
			return
		}
		wait := s.p.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			if e.Name == bindingName {
				s.report(e.Payload)
			}
		})
		go wait()
	})
	return s.bindErr
}

func (s *Surface) report(payload string) {
	var hits []page.Candidate
	if err := json.Unmarshal([]byte(payload), &hits); err != nil {
		s.logger.Warn("browser: parse visibility payload", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.onVisible == nil || len(hits) == 0 {
		return
	}
	s.onVisible(hits)
}

func (s *Surface) close() {
	s.cancel()
	s.mu.Lock()
	s.onVisible = nil
	s.mu.Unlock()
}
