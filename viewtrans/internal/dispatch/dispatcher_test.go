package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/viewtrans/idgen"
	"github.com/hazyhaar/viewtrans/translator"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page/pagetest"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/render"
)

type fakeTranslator struct {
	mu       sync.Mutex
	requests [][]string
	reply    func([]string) (translator.Map, error)
}

func (f *fakeTranslator) TranslateBatch(_ context.Context, texts []string) (translator.Map, error) {
	f.mu.Lock()
	f.requests = append(f.requests, texts)
	f.mu.Unlock()
	return f.reply(texts)
}

func upper(texts []string) (translator.Map, error) {
	m := translator.Map{}
	for _, t := range texts {
		m[t] = strings.ToUpper(t)
	}
	return m, nil
}

type harness struct {
	fake    *pagetest.Fake
	tr      *fakeTranslator
	results chan Result
	d       *Dispatcher
}

func newHarness(reply func([]string) (translator.Map, error)) *harness {
	h := &harness{
		fake:    pagetest.New(),
		tr:      &fakeTranslator{reply: reply},
		results: make(chan Result, 8),
	}
	r := render.New(render.Config{Surface: h.fake, IDs: idgen.Sequence("ph-")})
	h.d = New(Config{
		Translator: h.tr,
		Renderer:   r,
		Deliver:    func(res Result) { h.results <- res },
	})
	return h
}

func (h *harness) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return Result{}
	}
}

func batch(texts ...string) []*page.Element {
	out := make([]*page.Element, len(texts))
	for i, t := range texts {
		out[i] = page.NewElement(string(rune('a'+i)), t)
	}
	return out
}

func TestDispatcher_PlaceholdersBeforeRequest(t *testing.T) {
	var h *harness
	h = newHarness(func(texts []string) (translator.Map, error) {
		if n := len(h.fake.Placeholders()); n != len(texts) {
			t.Errorf("placeholders at request time: got %d, want %d", n, len(texts))
		}
		return upper(texts)
	})

	h.d.Dispatch(context.Background(), batch("one two", "three four"))
	res := h.wait(t)
	out := h.d.Apply(context.Background(), res, true)

	if out.Rendered != 2 {
		t.Fatalf("Rendered: got %d, want 2", out.Rendered)
	}
	ph, _ := h.fake.PlaceholderAfter("a")
	if ph.Rendering.Text != "ONE TWO" || ph.Rendering.State != page.StateDone {
		t.Fatalf("placeholder a: got %+v", ph.Rendering)
	}
}

func TestDispatcher_TransportFailureMarksAllErrors(t *testing.T) {
	h := newHarness(func([]string) (translator.Map, error) {
		return nil, errors.New("receiving end does not exist")
	})

	h.d.Dispatch(context.Background(), batch("first text", "second text", "third text"))
	out := h.d.Apply(context.Background(), h.wait(t), true)

	if out.Failed != 3 {
		t.Fatalf("Failed: got %d, want 3", out.Failed)
	}
	for _, ph := range h.fake.Placeholders() {
		if ph.Rendering.State != page.StateError {
			t.Fatalf("placeholder %s: state %s, want error", ph.ID, ph.Rendering.State)
		}
		if !translator.IsFailure(ph.Rendering.Text) || !strings.Contains(ph.Rendering.Text, "receiving end does not exist") {
			t.Fatalf("placeholder %s: text %q", ph.ID, ph.Rendering.Text)
		}
	}
}

func TestDispatcher_DuplicateTextSharesPlaceholder(t *testing.T) {
	h := newHarness(upper)
	els := batch("same words", "same words")

	h.d.Dispatch(context.Background(), els)
	res := h.wait(t)
	if len(h.tr.requests) != 1 || len(h.tr.requests[0]) != 2 {
		t.Fatalf("request must carry duplicates: got %v", h.tr.requests)
	}
	h.d.Apply(context.Background(), res, true)

	phs := h.fake.Placeholders()
	if len(phs) != 1 || phs[0].Renders != 1 {
		t.Fatalf("placeholders: got %+v, want one rendered once", phs)
	}
	if _, ok := h.fake.PlaceholderAfter("b"); ok {
		t.Fatal("second element got its own placeholder")
	}
	if els[1].Translated() {
		t.Fatal("second element marked translated without a placeholder")
	}
}

func TestDispatcher_MissingKeysStayLoading(t *testing.T) {
	h := newHarness(func([]string) (translator.Map, error) {
		return translator.Map{"kept text": "ok"}, nil
	})

	h.d.Dispatch(context.Background(), batch("kept text", "dropped text"))
	out := h.d.Apply(context.Background(), h.wait(t), true)

	if out.Missing != 1 || out.Rendered != 1 {
		t.Fatalf("outcome: got %+v", out)
	}
	ph, _ := h.fake.PlaceholderAfter("b")
	if ph.Rendering.State != page.StateLoading || ph.Renders != 0 {
		t.Fatalf("missing key placeholder: got %+v", ph)
	}
}

func TestDispatcher_EveryTextLookedUp(t *testing.T) {
	h := newHarness(func([]string) (translator.Map, error) { return translator.Map{}, nil })
	texts := []string{"alpha text", "beta text", "alpha text", "gamma text"}

	h.d.Dispatch(context.Background(), batch(texts...))
	out := h.d.Apply(context.Background(), h.wait(t), true)
	if out.Lookups != len(texts) {
		t.Fatalf("Lookups: got %d, want %d", out.Lookups, len(texts))
	}
}

func TestDispatcher_InactiveDiscards(t *testing.T) {
	h := newHarness(upper)

	h.d.Dispatch(context.Background(), batch("some words"))
	out := h.d.Apply(context.Background(), h.wait(t), false)

	if !out.Discarded {
		t.Fatal("result not discarded")
	}
	ph, _ := h.fake.PlaceholderAfter("a")
	if ph.Renders != 0 {
		t.Fatal("discarded result was rendered")
	}
}

func TestDispatcher_InFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(func(texts []string) (translator.Map, error) {
		<-release
		return upper(texts)
	})

	h.d.Dispatch(context.Background(), batch("some words"))
	if h.d.InFlight() != 1 {
		t.Fatalf("InFlight: got %d, want 1", h.d.InFlight())
	}
	close(release)
	h.wait(t)
	deadline := time.Now().Add(time.Second)
	for h.d.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.d.InFlight() != 0 {
		t.Fatal("InFlight not decremented")
	}
}

type ctxTranslator struct {
	release chan struct{}
	err     chan error
}

func (c *ctxTranslator) TranslateBatch(ctx context.Context, texts []string) (translator.Map, error) {
	<-c.release
	c.err <- ctx.Err()
	return upper(texts)
}

func TestDispatcher_SentRequestOutlivesCancel(t *testing.T) {
	tr := &ctxTranslator{release: make(chan struct{}), err: make(chan error, 1)}
	results := make(chan Result, 1)
	d := New(Config{
		Translator: tr,
		Renderer:   render.New(render.Config{Surface: pagetest.New(), IDs: idgen.Sequence("ph-")}),
		Deliver:    func(res Result) { results <- res },
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, batch("some words"))
	cancel()
	close(tr.release)

	if err := <-tr.err; err != nil {
		t.Fatalf("request context: got %v, want live", err)
	}
	select {
	case res := <-results:
		if res.Err != nil || res.Map["some words"] != "SOME WORDS" {
			t.Fatalf("result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}
