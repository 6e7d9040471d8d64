package render

import "testing"

func TestParsePreset(t *testing.T) {
	tests := []struct {
		in      string
		want    Preset
		wantErr bool
	}{
		{"", PresetDefault, false},
		{"Subtle", PresetSubtle, false},
		{"highlighted", PresetHighlighted, false},
		{"custom", PresetCustom, false},
		{"neon", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePreset(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePreset(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestPresetStyle_Custom(t *testing.T) {
	s := PresetStyle(PresetCustom, CustomStyle{FontSize: "16px", Color: "#ff0000"})
	if s.FontSize != "16px" || s.Color != "#ff0000" || s.BorderLeft != "3px solid #ff0000" {
		t.Fatalf("custom: got %+v", s)
	}
	if s.Background != presets[PresetDefault].Background {
		t.Fatal("custom preset should keep the default background")
	}
}

func TestPresetStyle_UnknownFallsBack(t *testing.T) {
	if PresetStyle("neon", CustomStyle{}) != presets[PresetDefault] {
		t.Fatal("unknown preset did not fall back to default")
	}
}

func TestStyle_DeclarationsSkipEmpty(t *testing.T) {
	d := Style{Color: "red", Margin: "0"}.Declarations()
	if len(d) != 2 || d[0].Property != "color" || d[1].Property != "margin" {
		t.Fatalf("got %v", d)
	}
}

func TestAccentColor(t *testing.T) {
	tests := map[string]string{
		"rgb(0, 0, 0)":     "rgba(0, 0, 0, 0.4)",
		"rgb(255,128,1)":   "rgba(255, 128, 1, 0.4)",
		"#123456":          "#123456",
		"rgb(300, 0, 0)":   "rgb(300, 0, 0)",
		"rgba(1, 2, 3, 1)": "rgba(1, 2, 3, 1)",
		"":                 "",
	}
	for in, want := range tests {
		if got := accentColor(in); got != want {
			t.Errorf("accentColor(%q) = %q, want %q", in, got, want)
		}
	}
}
