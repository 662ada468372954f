package label

import (
	"github.com/paulmach/orb"

	"github.com/NERVsystems/citymap/pkg/graph"
)

// Approximate metres per degree, used to project area label centers.
const (
	MetresPerDegreeLon = 111320.0
	MetresPerDegreeLat = 110540.0
)

// MaxAreaLabelZoom is the highest zoom at which area labels are drawn.
const MaxAreaLabelZoom = 2.0

// ProjectLonLat projects a geographic label center onto a flat metre grid.
func ProjectLonLat(lon, lat float64) orb.Point {
	return orb.Point{lon * MetresPerDegreeLon, lat * MetresPerDegreeLat}
}

// AreaLabelSize returns the font point size for an area label at zoom.
func AreaLabelSize(zoom float64, major bool) float64 {
	if major {
		return clamp(zoom*10, 8, 30)
	}
	return clamp(zoom*6, 6, 18)
}

// AreaLabelsVisible reports whether area labels are drawn at zoom.
func AreaLabelsVisible(zoom float64) bool {
	return zoom <= MaxAreaLabelZoom
}

// PlacedArea is an area label ready to draw.
type PlacedArea struct {
	Name     string    `json:"name"`
	Position orb.Point `json:"position"`
	Size     float64   `json:"size"`
	Bold     bool      `json:"bold"`
}

// AreaLabels projects and sizes every area label for zoom. It returns nil when
// area labels are hidden at that zoom.
func AreaLabels(labels []graph.AreaLabel, zoom float64) []PlacedArea {
	if !AreaLabelsVisible(zoom) {
		return nil
	}
	out := make([]PlacedArea, 0, len(labels))
	for _, l := range labels {
		out = append(out, PlacedArea{
			Name:     l.Name,
			Position: ProjectLonLat(l.Center.Lon(), l.Center.Lat()),
			Size:     AreaLabelSize(zoom, l.IsMajor),
			Bold:     l.IsMajor,
		})
	}
	return out
}

// RoadLabel is the placement for one named road.
type RoadLabel struct {
	RoadID int64   `json:"roadId"`
	Name   string  `json:"name"`
	Glyphs []Glyph `json:"glyphs"`
}

// RoadLabels places the name of every named road that has at least two
// points. Roads whose name does not fit are omitted.
func RoadLabels(roads []graph.Road, m Metrics) []RoadLabel {
	var out []RoadLabel
	for _, r := range roads {
		if r.Name == "" || len(r.Points) < 2 {
			continue
		}
		glyphs := PlaceAlongPath(r.Points, r.Name, m)
		if len(glyphs) == 0 {
			continue
		}
		out = append(out, RoadLabel{RoadID: r.ID, Name: r.Name, Glyphs: glyphs})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
