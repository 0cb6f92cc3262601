// Package insight holds the dashboard core: which panels a tab shows, and
// how a submitted question becomes one more turn of the transcript.
package insight

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// VISIBILITY CONTROLLER — tab id → panel styles
// ============================================================================
// Every call builds fresh Style values from an immutable base table. Nothing
// is shared between calls, so concurrent sessions never see each other's
// styles.
// ============================================================================

// Tab ids.
const (
	TabData    = "tab-data"
	TabInsight = "tab-data-insight"
	TabAbout   = "tab-about"
)

// Panel ids.
const (
	PanelData   = "data"
	PanelOutput = "output"
	PanelPrompt = "prompt"
	PanelSubmit = "submit-button"
	PanelMode   = "llm-radio"
)

// Tabs lists the tab ids in display order.
var Tabs = []string{TabData, TabInsight, TabAbout}

// Panels lists every panel id in display order.
var Panels = []string{PanelData, PanelOutput, PanelPrompt, PanelSubmit, PanelMode}

// Decl is one CSS declaration.
type Decl struct {
	Property string
	Value    string
}

// Style is an immutable set of CSS declarations. Methods that change a
// style return a new one.
type Style struct {
	decls []Decl
}

// NewStyle builds a style. Later declarations of a property win.
func NewStyle(decls ...Decl) Style {
	var s Style
	for _, d := range decls {
		s = s.With(d.Property, d.Value)
	}
	return s
}

// Get returns the value of property.
func (s Style) Get(property string) (string, bool) {
	for _, d := range s.decls {
		if d.Property == property {
			return d.Value, true
		}
	}
	return "", false
}

// With returns a copy of s with property set to value.
func (s Style) With(property, value string) Style {
	out := make([]Decl, 0, len(s.decls)+1)
	replaced := false
	for _, d := range s.decls {
		if d.Property == property {
			d.Value = value
			replaced = true
		}
		out = append(out, d)
	}
	if !replaced {
		out = append(out, Decl{Property: property, Value: value})
	}
	return Style{decls: out}
}

// Without returns a copy of s lacking property.
func (s Style) Without(property string) Style {
	out := make([]Decl, 0, len(s.decls))
	for _, d := range s.decls {
		if d.Property != property {
			out = append(out, d)
		}
	}
	return Style{decls: out}
}

// Hidden reports whether the style hides its panel.
func (s Style) Hidden() bool {
	v, ok := s.Get("display")
	return ok && v == "none"
}

// CSS renders an inline style attribute value.
func (s Style) CSS() string {
	parts := make([]string, len(s.decls))
	for i, d := range s.decls {
		parts[i] = d.Property + ": " + d.Value
	}
	return strings.Join(parts, "; ")
}

// Map returns the declarations as a fresh map.
func (s Style) Map() map[string]string {
	m := make(map[string]string, len(s.decls))
	for _, d := range s.decls {
		m[d.Property] = d.Value
	}
	return m
}

// MarshalJSON encodes the style as a property map.
func (s Style) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// VisibilityState maps panel ids to their styles.
type VisibilityState map[string]Style

// Shown lists the visible panels in display order.
func (v VisibilityState) Shown() []string {
	var out []string
	for _, p := range Panels {
		if st, ok := v[p]; ok && !st.Hidden() {
			out = append(out, p)
		}
	}
	return out
}

// baseStyles is the look of each panel when shown. Panels start hidden.
var baseStyles = map[string][]Decl{
	PanelData: {
		{"display", "none"}, {"margin", "20px"}, {"overflow-x", "auto"},
	},
	PanelOutput: {
		{"display", "none"}, {"margin", "20px"}, {"padding", "10px"},
		{"border", "1px solid #ddd"}, {"min-height", "200px"},
	},
	PanelPrompt: {
		{"display", "none"}, {"margin", "20px"}, {"width", "80%"},
	},
	PanelSubmit: {
		{"display", "none"}, {"margin", "0 20px"},
	},
	PanelMode: {
		{"display", "none"}, {"margin", "10px 20px"},
	},
}

var hiddenStyle = []Decl{{"display", "none"}}

// tabPanels names the panels each tab shows.
var tabPanels = map[string][]string{
	TabData:    {PanelData},
	TabInsight: {PanelOutput, PanelPrompt, PanelSubmit, PanelMode},
}

// ComputeVisibility returns the panel styles for tab and the reset value of
// the submit counter, which is always 0 so a tab switch never replays the
// last question.
func ComputeVisibility(tab string) (VisibilityState, int) {
	state := make(VisibilityState, len(Panels))
	for _, p := range Panels {
		state[p] = NewStyle(hiddenStyle...)
	}
	for _, p := range tabPanels[tab] {
		state[p] = NewStyle(baseStyles[p]...).Without("display")
	}
	return state, 0
}

// KnownTab reports whether tab is one of the three tab ids.
func KnownTab(tab string) bool {
	switch tab {
	case TabData, TabInsight, TabAbout:
		return true
	}
	return false
}
