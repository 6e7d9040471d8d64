package render

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hazyhaar/viewtrans/idgen"
	"github.com/hazyhaar/viewtrans/translator"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
	"github.com/hazyhaar/viewtrans/viewtrans/internal/page/pagetest"
)

func newRenderer(fake *pagetest.Fake, policy Policy) *Renderer {
	return New(Config{Surface: fake, Policy: policy, IDs: idgen.Sequence("ph-")})
}

func TestRenderer_CreateInsertsAndMarks(t *testing.T) {
	fake := pagetest.New()
	r := newRenderer(fake, Policy{})
	el := page.NewElement("e1", "Bonjour le monde")

	created, err := r.Create(context.Background(), el)
	if err != nil || !created {
		t.Fatalf("Create: created=%v err=%v", created, err)
	}
	if !el.Translated() || !fake.Marked("e1") {
		t.Fatal("original element not marked translated")
	}
	ph, ok := fake.PlaceholderAfter("e1")
	if !ok || ph.Rendering.State != page.StateLoading {
		t.Fatalf("placeholder: got %+v, want loading after e1", ph)
	}
}

func TestRenderer_CreateIdempotentPerText(t *testing.T) {
	fake := pagetest.New()
	r := newRenderer(fake, Policy{})
	a := page.NewElement("a", "same text")
	b := page.NewElement("b", "same text")

	r.Create(context.Background(), a)
	created, err := r.Create(context.Background(), b)
	if err != nil || created {
		t.Fatalf("second Create: created=%v err=%v", created, err)
	}
	if r.Len() != 1 || len(fake.Placeholders()) != 1 {
		t.Fatalf("placeholders: renderer %d, page %d, want 1", r.Len(), len(fake.Placeholders()))
	}
	if _, ok := fake.PlaceholderAfter("b"); ok {
		t.Fatal("duplicate text got its own placeholder")
	}
}

func TestRenderer_CreateFailureRecordsNothing(t *testing.T) {
	fake := pagetest.New()
	fake.SetError("insert", errors.New("node detached"))
	r := newRenderer(fake, Policy{})
	el := page.NewElement("a", "some text")

	if _, err := r.Create(context.Background(), el); err == nil {
		t.Fatal("expected error")
	}
	if el.Translated() || r.Len() != 0 {
		t.Fatal("failed insertion left state behind")
	}
}

func TestRenderer_UpdateLastWriteWins(t *testing.T) {
	fakeOnce := pagetest.New()
	once := newRenderer(fakeOnce, Policy{})
	once.Create(context.Background(), page.NewElement("a", "hello there"))
	once.Update(context.Background(), "hello there", "second")

	fakeTwice := pagetest.New()
	twice := newRenderer(fakeTwice, Policy{})
	twice.Create(context.Background(), page.NewElement("a", "hello there"))
	twice.Update(context.Background(), "hello there", "first")
	twice.Update(context.Background(), "hello there", "second")

	got := fakeTwice.Placeholders()
	want := fakeOnce.Placeholders()
	if len(got) != 1 || len(want) != 1 {
		t.Fatalf("placeholders: got %d and %d, want 1", len(got), len(want))
	}
	if !reflect.DeepEqual(got[0].Rendering, want[0].Rendering) {
		t.Fatalf("rendering: got %+v, want %+v", got[0].Rendering, want[0].Rendering)
	}
}

func TestRenderer_FailureGetsErrorStyle(t *testing.T) {
	fake := pagetest.New()
	r := newRenderer(fake, Policy{MatchOriginal: true, Preset: PresetHighlighted})
	r.Create(context.Background(), page.NewElement("a", "hello there"))

	state, err := r.Update(context.Background(), "hello there", translator.Failure("quota exceeded"))
	if err != nil {
		t.Fatal(err)
	}
	if state != page.StateError {
		t.Fatalf("state: got %s, want error", state)
	}
	ph, _ := fake.PlaceholderAfter("a")
	if !reflect.DeepEqual(ph.Rendering.Style, ErrorStyle().Declarations()) {
		t.Fatalf("style: got %v, want error style", ph.Rendering.Style)
	}
	if p, _ := r.Placeholder("hello there"); p.State != page.StateError {
		t.Fatalf("placeholder state: got %s", p.State)
	}
}

func TestRenderer_MatchOriginalCopiesComputedStyle(t *testing.T) {
	fake := pagetest.New()
	fake.SetComputedStyle("a", map[string]string{
		"font-family": "Georgia, serif",
		"font-size":   "18px",
		"color":       "rgb(10, 20, 30)",
		"text-align":  "justify",
	})
	r := newRenderer(fake, Policy{MatchOriginal: true})
	r.Create(context.Background(), page.NewElement("a", "hello there"))
	r.Update(context.Background(), "hello there", "salut")

	ph, _ := fake.PlaceholderAfter("a")
	decl := map[string]string{}
	for _, d := range ph.Rendering.Style {
		decl[d.Property] = d.Value
	}
	if decl["font-family"] != "Georgia, serif" || decl["font-size"] != "18px" || decl["text-align"] != "justify" {
		t.Fatalf("declarations: got %v", decl)
	}
	if decl["border-left"] != "2px solid rgba(10, 20, 30, 0.4)" {
		t.Fatalf("border-left: got %q", decl["border-left"])
	}
	if _, ok := decl["background"]; ok {
		t.Fatal("preset fields leaked into matched style")
	}
}

func TestRenderer_MatchOriginalFallsBackToPreset(t *testing.T) {
	fake := pagetest.New()
	fake.SetError("computed", errors.New("no node"))
	r := newRenderer(fake, Policy{MatchOriginal: true, Preset: PresetSubtle})
	r.Create(context.Background(), page.NewElement("a", "hello there"))

	if _, err := r.Update(context.Background(), "hello there", "salut"); err != nil {
		t.Fatal(err)
	}
	ph, _ := fake.PlaceholderAfter("a")
	if !reflect.DeepEqual(ph.Rendering.Style, PresetStyle(PresetSubtle, CustomStyle{}).Declarations()) {
		t.Fatalf("style: got %v, want subtle preset", ph.Rendering.Style)
	}
}

func TestRenderer_UpdateUnknownText(t *testing.T) {
	r := newRenderer(pagetest.New(), Policy{})
	if _, err := r.Update(context.Background(), "nope", "x"); !errors.Is(err, ErrNoPlaceholder) {
		t.Fatalf("got %v, want ErrNoPlaceholder", err)
	}
}

func TestRenderer_KeepsAngleBrackets(t *testing.T) {
	fake := pagetest.New()
	r := newRenderer(fake, Policy{})
	r.Create(context.Background(), page.NewElement("a", "hello there"))
	r.Create(context.Background(), page.NewElement("b", "second text"))

	const text = "Use a<b and c>d to compare Vec<String>"
	r.Update(context.Background(), "hello there", text)
	ph, _ := fake.PlaceholderAfter("a")
	if ph.Rendering.Text != text {
		t.Fatalf("text: got %q, want %q", ph.Rendering.Text, text)
	}

	failure := translator.Failure("unexpected token <EOF>")
	r.Update(context.Background(), "second text", failure)
	ph, _ = fake.PlaceholderAfter("b")
	if ph.Rendering.Text != failure || ph.Rendering.State != page.StateError {
		t.Fatalf("failure: got %+v", ph.Rendering)
	}
}
