// Package style holds the drawing style consumed by renderers: road layer
// order, per-classification road strokes and polygon fills.
package style

import (
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/NERVsystems/citymap/pkg/graph"
)

// RoadStyle is a two-pass stroke: the border is drawn first, then the fill.
type RoadStyle struct {
	Fill        Color   `yaml:"fill" json:"fill"`
	Border      Color   `yaml:"border" json:"border"`
	Width       float64 `yaml:"width" json:"width"`
	BorderWidth float64 `yaml:"borderWidth" json:"borderWidth"`
}

// Theme is the full render style.
type Theme struct {
	Background Color `yaml:"background"`
	Grid       Color `yaml:"grid"`
	Building   Color `yaml:"building"`

	// RoadOrder lists classifications bottom to top. Roads of other
	// classifications are not drawn.
	RoadOrder   []string             `yaml:"roadOrder"`
	Roads       map[string]RoadStyle `yaml:"roads"`
	DefaultRoad RoadStyle            `yaml:"defaultRoad"`

	// Areas maps a landuse (or, when absent, leisure) value to a fill.
	Areas       map[string]Color `yaml:"areas"`
	DefaultArea Color            `yaml:"defaultArea"`
}

// DefaultTheme returns the built-in style.
func DefaultTheme() *Theme {
	black := RGB(0, 0, 0)
	major := RoadStyle{Fill: RGB(255, 165, 0), Border: black, Width: 6, BorderWidth: 7}
	minor := RoadStyle{Fill: RGB(0xFF, 0xFF, 0xFF), Border: RGB(0x4A, 0x4A, 0x4A), Width: 1.9, BorderWidth: 2.0}
	foot := RoadStyle{Fill: Color{120, 200, 120, 140}, Border: RGB(50, 100, 50), Width: 1.0, BorderWidth: 1.8}

	return &Theme{
		Background: RGB(0xE0, 0xDF, 0xDF),
		Grid:       Float(0.2, 0.6, 0.8),
		Building:   Float(0.6, 0.6, 0.8),
		RoadOrder: []string{
			"footway", "path", "service", "residential", "unclassified",
			"tertiary", "secondary", "trunk", "primary", "highway", "motorway",
		},
		Roads: map[string]RoadStyle{
			"motorway":     {Fill: RGB(255, 208, 0), Border: black, Width: 6, BorderWidth: 7},
			"primary":      major,
			"highway":      major,
			"trunk":        major,
			"secondary":    {Fill: RGB(255, 220, 120), Border: black, Width: 6, BorderWidth: 7},
			"tertiary":     {Fill: RGB(255, 220, 120), Border: black, Width: 6, BorderWidth: 7.5},
			"residential":  minor,
			"unclassified": minor,
			"service":      minor,
			"footway":      foot,
			"path":         foot,
		},
		DefaultRoad: RoadStyle{Fill: black, Border: black, Width: 1.0, BorderWidth: 1.2},
		Areas: map[string]Color{
			"grass":       Float(0.8, 1, 0.8),
			"meadow":      Float(0.8, 1, 0.8),
			"forest":      Float(0.5, 0.8, 0.5),
			"cemetery":    Float(0.9, 0.9, 0.7),
			"residential": Float(0.95, 0.95, 0.9),
		},
		DefaultArea: Float(0.85, 0.85, 0.85),
	}
}

// LoadTheme reads YAML overrides on top of DefaultTheme. Map entries are
// replaced key by key, so a road entry must be complete; a roadOrder in the
// file replaces the default order.
func LoadTheme(r io.Reader) (*Theme, error) {
	t := DefaultTheme()
	if err := t.Apply(r); err != nil {
		return nil, err
	}
	return t, nil
}

// Apply decodes YAML overrides from r onto t with the same rules as LoadTheme.
func (t *Theme) Apply(r io.Reader) error {
	if err := yaml.NewDecoder(r).Decode(t); err != nil && err != io.EOF {
		return fmt.Errorf("decode theme: %w", err)
	}
	return nil
}

// Road returns the stroke for a classification.
func (t *Theme) Road(highway string) RoadStyle {
	if s, ok := t.Roads[highway]; ok {
		return s
	}
	return t.DefaultRoad
}

// AreaFill returns the fill for a land-use or generic polygon.
func (t *Theme) AreaFill(tags map[string]string) Color {
	kind, ok := tags["landuse"]
	if !ok {
		kind = tags["leisure"]
	}
	if c, ok := t.Areas[kind]; ok {
		return c
	}
	return t.DefaultArea
}

// Layer returns the draw layer of a classification, or -1 if it is not drawn.
func (t *Theme) Layer(highway string) int {
	return slices.Index(t.RoadOrder, highway)
}

// OrderRoads returns roads in draw order: grouped by layer bottom to top,
// keeping input order within a layer. Roads with fewer than two points or
// a classification outside RoadOrder are skipped.
func (t *Theme) OrderRoads(roads []graph.Road) []graph.Road {
	layers := make([][]graph.Road, len(t.RoadOrder))
	for _, r := range roads {
		if len(r.Points) < 2 {
			continue
		}
		if i := t.Layer(r.Type); i >= 0 {
			layers[i] = append(layers[i], r)
		}
	}

	var out []graph.Road
	for _, l := range layers {
		out = append(out, l...)
	}
	return out
}

// Drawable reports whether an area has enough points to fill.
func Drawable(a graph.PolygonArea) bool {
	return len(a.Points) >= 3
}
