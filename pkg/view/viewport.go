// Package view maps normalized map coordinates to screen pixels.
package view

import (
	"github.com/paulmach/orb"

	"github.com/NERVsystems/citymap/pkg/graph"
)

// Zoom limits.
const (
	MinZoom = 0.9
	MaxZoom = 60.0
)

// Viewport is a zoom and pan over the normalized plane, shown in a
// Width x Height pixel window whose origin is the window center.
type Viewport struct {
	Zoom   float64 `json:"zoom"`
	PanX   float64 `json:"panX"`
	PanY   float64 `json:"panY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	// Map extent in normalized units, used to limit panning. Zero disables
	// the limit.
	MapWidth  float64 `json:"mapWidth"`
	MapHeight float64 `json:"mapHeight"`
}

// New returns a viewport at zoom 1 with no pan.
func New(width, height float64) *Viewport {
	return &Viewport{Zoom: 1, Width: width, Height: height}
}

// ToScreen maps a normalized point to window pixels.
func (v *Viewport) ToScreen(p orb.Point) orb.Point {
	return orb.Point{
		p.X()*v.Zoom + v.PanX*v.Zoom + v.Width/2,
		p.Y()*v.Zoom + v.PanY*v.Zoom + v.Height/2,
	}
}

// FromScreen is the inverse of ToScreen.
func (v *Viewport) FromScreen(p orb.Point) orb.Point {
	return orb.Point{
		(p.X()-v.Width/2)/v.Zoom - v.PanX,
		(p.Y()-v.Height/2)/v.Zoom - v.PanY,
	}
}

// CenterOn pans to the middle of the graph's normalized extent and records
// the extent for pan limits.
func (v *Viewport) CenterOn(g *graph.Graph) {
	v.MapWidth = g.CenterX * 2
	v.MapHeight = g.CenterY * 2
	v.PanX = -g.CenterX + v.Width/(2*v.Zoom)
	v.PanY = -g.CenterY + v.Height/(2*v.Zoom)
}

// ZoomAt scales zoom by factor, clamped to [MinZoom, MaxZoom], keeping the
// window position (x, y) fixed. y grows downward in window coordinates.
func (v *Viewport) ZoomAt(factor, x, y float64) {
	old := v.Zoom
	v.Zoom = clamp(v.Zoom*factor, MinZoom, MaxZoom)

	mx := x - v.Width/2
	my := v.Height/2 - y

	v.PanX -= mx * (1/old - 1/v.Zoom)
	v.PanY -= my * (1/old - 1/v.Zoom)
}

// Pan moves the view by a window-pixel drag and keeps the pan within the
// map extent when one is known.
func (v *Viewport) Pan(dx, dy float64) {
	v.PanX += dx / v.Zoom
	v.PanY -= dy / v.Zoom

	if v.MapWidth > 0 {
		v.PanX = clamp(v.PanX, -v.MapWidth, v.MapWidth)
	}
	if v.MapHeight > 0 {
		v.PanY = clamp(v.PanY, -v.MapHeight, v.MapHeight)
	}
}

// Visible returns the normalized rectangle covered by the window.
func (v *Viewport) Visible() orb.Bound {
	a := v.FromScreen(orb.Point{0, 0})
	b := v.FromScreen(orb.Point{v.Width, v.Height})
	return orb.Bound{Min: a, Max: a}.Extend(b)
}

func clamp(x, lo, hi float64) float64 {
	return min(max(x, lo), hi)
}
