package render

import (
	"fmt"
	"strconv"
	"strings"
)

// Preset names a built-in placeholder look.
type Preset string

const (
	PresetDefault     Preset = "default"
	PresetSubtle      Preset = "subtle"
	PresetHighlighted Preset = "highlighted"
	PresetCustom      Preset = "custom"
)

// ParsePreset validates a preset name. The empty string is PresetDefault.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetDefault, nil
	case PresetDefault, PresetSubtle, PresetHighlighted, PresetCustom:
		return p, nil
	default:
		return "", fmt.Errorf("render: unknown style preset %q", s)
	}
}

// CustomStyle holds the user-chosen values of PresetCustom.
type CustomStyle struct {
	FontSize string
	Color    string
}

// Policy selects how placeholders are styled.
type Policy struct {
	Preset        Preset
	Custom        CustomStyle
	MatchOriginal bool
}

// Style is the closed set of presentation fields a placeholder may carry.
// Empty fields are not applied.
type Style struct {
	FontFamily    string
	FontSize      string
	FontWeight    string
	FontStyle     string
	Color         string
	LineHeight    string
	TextAlign     string
	TextTransform string
	LetterSpacing string
	Background    string
	Border        string
	BorderLeft    string
	BorderRadius  string
	Padding       string
	Margin        string
}

// Declarations returns the non-empty fields as CSS declarations in a fixed
// order.
func (s Style) Declarations() []Declaration {
	fields := [...]struct {
		prop, val string
	}{
		{"font-family", s.FontFamily},
		{"font-size", s.FontSize},
		{"font-weight", s.FontWeight},
		{"font-style", s.FontStyle},
		{"color", s.Color},
		{"line-height", s.LineHeight},
		{"text-align", s.TextAlign},
		{"text-transform", s.TextTransform},
		{"letter-spacing", s.LetterSpacing},
		{"background", s.Background},
		{"border", s.Border},
		{"border-left", s.BorderLeft},
		{"border-radius", s.BorderRadius},
		{"padding", s.Padding},
		{"margin", s.Margin},
	}
	var out []Declaration
	for _, f := range fields {
		if f.val != "" {
			out = append(out, Declaration{Property: f.prop, Value: f.val})
		}
	}
	return out
}

var presets = map[Preset]Style{
	PresetDefault: {
		FontSize:     "0.95em",
		Color:        "#1f2937",
		Background:   "#f0f7ff",
		BorderLeft:   "3px solid #4a90d9",
		BorderRadius: "3px",
		Padding:      "4px 8px",
		Margin:       "4px 0",
	},
	PresetSubtle: {
		FontSize:  "0.9em",
		FontStyle: "italic",
		Color:     "#6b7280",
		Padding:   "2px 0",
		Margin:    "2px 0",
	},
	PresetHighlighted: {
		FontWeight:   "500",
		Color:        "#1f2328",
		Background:   "#fff8c5",
		BorderLeft:   "3px solid #e3b341",
		BorderRadius: "3px",
		Padding:      "4px 8px",
		Margin:       "4px 0",
	},
}

// PresetStyle returns the style of a preset. PresetCustom starts from the
// default look and applies the user font size and color; an unknown preset
// falls back to PresetDefault.
func PresetStyle(p Preset, custom CustomStyle) Style {
	if p == PresetCustom {
		s := presets[PresetDefault]
		if custom.FontSize != "" {
			s.FontSize = custom.FontSize
		}
		if custom.Color != "" {
			s.Color = custom.Color
			s.BorderLeft = "3px solid " + custom.Color
		}
		return s
	}
	if s, ok := presets[p]; ok {
		return s
	}
	return presets[PresetDefault]
}

// ErrorStyle is applied to failed translations whatever the policy.
func ErrorStyle() Style {
	return Style{
		FontSize:     "0.9em",
		Color:        "#b91c1c",
		Background:   "#fef2f2",
		Border:       "1px solid #fca5a5",
		BorderRadius: "3px",
		Padding:      "4px 8px",
		Margin:       "4px 0",
	}
}

// MatchedProperties are the computed properties copied from the original
// element under Policy.MatchOriginal.
var MatchedProperties = []string{
	"font-family",
	"font-size",
	"font-weight",
	"font-style",
	"color",
	"line-height",
	"text-align",
	"text-transform",
	"letter-spacing",
}

// MatchStyle builds a style from the computed values of the original
// element, with a left border accent derived from its text color.
func MatchStyle(computed map[string]string) Style {
	s := Style{
		FontFamily:    computed["font-family"],
		FontSize:      computed["font-size"],
		FontWeight:    computed["font-weight"],
		FontStyle:     computed["font-style"],
		Color:         computed["color"],
		LineHeight:    computed["line-height"],
		TextAlign:     computed["text-align"],
		TextTransform: computed["text-transform"],
		LetterSpacing: computed["letter-spacing"],
		Padding:       "2px 0 2px 8px",
		Margin:        "4px 0",
	}
	if accent := accentColor(s.Color); accent != "" {
		s.BorderLeft = "2px solid " + accent
	}
	return s
}

// accentColor turns a computed "rgb(r, g, b)" color into a translucent
// variant. Other syntaxes are returned unchanged.
func accentColor(color string) string {
	c := strings.TrimSpace(color)
	if !strings.HasPrefix(c, "rgb(") || !strings.HasSuffix(c, ")") {
		return c
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(c, "rgb("), ")"), ",")
	if len(parts) != 3 {
		return c
	}
	rgb := make([]string, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return c
		}
		rgb[i] = strconv.Itoa(n)
	}
	return "rgba(" + strings.Join(rgb, ", ") + ", 0.4)"
}

// Stylesheet is injected once per page for the loading indicator.
const Stylesheet = `.viewtrans-placeholder { display: block; }
.viewtrans-placeholder[data-state="loading"] { min-height: 1em; opacity: 0.7; }
.viewtrans-placeholder[data-state="loading"]::after {
  content: "";
  display: inline-block;
  width: 0.8em;
  height: 0.8em;
  border: 2px solid #c7d2fe;
  border-top-color: #4f46e5;
  border-radius: 50%;
  animation: viewtrans-spin 0.8s linear infinite;
}
@keyframes viewtrans-spin { to { transform: rotate(360deg); } }
`
