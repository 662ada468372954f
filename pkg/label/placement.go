// Package label places road names along their polylines and sizes area labels.
package label

import (
	"math"

	"github.com/paulmach/orb"
)

// Metrics reports the rendered advance width of a single character under the
// current font and zoom.
type Metrics interface {
	Advance(r rune) float64
}

// MetricsFunc adapts a function to Metrics.
type MetricsFunc func(r rune) float64

// Advance calls f(r).
func (f MetricsFunc) Advance(r rune) float64 { return f(r) }

// FixedMetrics gives every character the same advance, for monospaced
// fonts and tests.
type FixedMetrics float64

// Advance returns the fixed width.
func (m FixedMetrics) Advance(rune) float64 { return float64(m) }

// Glyph is one placed character. Angle is in degrees, measured from the
// positive x axis toward positive y.
type Glyph struct {
	Position orb.Point `json:"position"`
	Angle    float64   `json:"angle"`
	Char     string    `json:"char"`
}

// PlaceAlongPath centers text along pts and returns one glyph per character
// in text order. It returns nil when the text is at least as long as the
// path or the path has fewer than two points.
//
// Segments are visited with a single forward cursor, so the cost is linear
// in segments plus characters.
func PlaceAlongPath(pts []orb.Point, text string, m Metrics) []Glyph {
	if len(pts) < 2 || text == "" {
		return nil
	}

	segLen := make([]float64, len(pts)-1)
	var arc float64
	for i := range segLen {
		segLen[i] = distance(pts[i], pts[i+1])
		arc += segLen[i]
	}

	runes := []rune(text)
	widths := make([]float64, len(runes))
	var textWidth float64
	for i, r := range runes {
		widths[i] = m.Advance(r)
		textWidth += widths[i]
	}

	if textWidth >= arc {
		return nil
	}

	glyphs := make([]Glyph, 0, len(runes))
	cursor := (arc - textWidth) / 2

	seg := 0
	segStart := 0.0 // arc length at the start of seg
	for i, r := range runes {
		mid := cursor + widths[i]/2
		cursor += widths[i]

		for seg < len(segLen) && segStart+segLen[seg] < mid {
			segStart += segLen[seg]
			seg++
		}
		if seg >= len(segLen) {
			break
		}

		a, b := pts[seg], pts[seg+1]
		var t float64
		if segLen[seg] > 0 {
			t = (mid - segStart) / segLen[seg]
		}
		dx, dy := b.X()-a.X(), b.Y()-a.Y()

		glyphs = append(glyphs, Glyph{
			Position: orb.Point{a.X() + dx*t, a.Y() + dy*t},
			Angle:    math.Atan2(dy, dx) * 180 / math.Pi,
			Char:     string(r),
		})
	}
	return glyphs
}

func distance(a, b orb.Point) float64 {
	return math.Hypot(b.X()-a.X(), b.Y()-a.Y())
}
