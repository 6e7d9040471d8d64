package browser

import (
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewtrans/viewtrans/internal/page"
)

func TestParseStealth(t *testing.T) {
	tests := []struct {
		in   string
		want StealthLevel
	}{
		{"", LevelHeadless},
		{"headless", LevelHeadless},
		{"Headful", LevelHeadful},
		{" plain ", LevelPlain},
		{"none", LevelPlain},
	}
	for _, tt := range tests {
		got, err := ParseStealth(tt.in)
		if err != nil {
			t.Fatalf("ParseStealth(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseStealth(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseStealth("invisible"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestBlockList(t *testing.T) {
	bl := newBlockList([]string{"Images", "fonts", "ping", "bogus"})

	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypePing,
	} {
		if !bl.blocks(rt) {
			t.Errorf("%s should be blocked", rt)
		}
	}
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeDocument,
		proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeMedia,
		proto.NetworkResourceTypeStylesheet,
	} {
		if bl.blocks(rt) {
			t.Errorf("%s should not be blocked", rt)
		}
	}
}

func TestBlockList_Empty(t *testing.T) {
	if len(newBlockList(nil)) != 0 {
		t.Fatal("empty config should block nothing")
	}
	if blockResources(nil, []string{"unknown"}) != nil {
		t.Fatal("no router expected when nothing is blocked")
	}
}

func TestViewtransJS_Methods(t *testing.T) {
	for _, m := range []string{"select(", "observe(", "disconnect(", "ensureStyle(", "insert(", "computed(", "render("} {
		if !strings.Contains(viewtransJS, m) {
			t.Errorf("viewtrans.js missing %s", m)
		}
	}
	for _, c := range []string{page.AttrID, page.AttrTranslated, page.PlaceholderClass} {
		if !strings.Contains(viewtransJS, "'"+c+"'") {
			t.Errorf("viewtrans.js does not use %s", c)
		}
	}
	if !strings.Contains(viewtransJS, bindingName) {
		t.Errorf("viewtrans.js does not report to %s", bindingName)
	}
}

func TestManagerDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 {
		t.Errorf("MemoryLimit = %d", m.cfg.MemoryLimit)
	}
	if m.cfg.XvfbDisplay != ":99" || m.xvfb.display != ":99" {
		t.Errorf("display = %q", m.cfg.XvfbDisplay)
	}
	if m.Browser() != nil {
		t.Error("Browser before Start should be nil")
	}
	m.Close()
	if _, err := m.Start(t.Context()); err == nil {
		t.Fatal("Start after Close should fail")
	}
}
