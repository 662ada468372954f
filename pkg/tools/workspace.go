package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/NERVsystems/citymap/pkg/geo"
	"github.com/NERVsystems/citymap/pkg/graph"
	"github.com/NERVsystems/citymap/pkg/osm"
	"github.com/NERVsystems/citymap/pkg/spatial"
	"github.com/NERVsystems/citymap/pkg/style"
)

// Workspace is the map graph shared by every tool, together with the
// fetcher that feeds it and a spatial index over its current contents.
// All access is serialized.
type Workspace struct {
	mu sync.Mutex

	fetcher graph.Fetcher
	bbox    geo.BoundingBox
	theme   *style.Theme
	base    *slog.Logger
	logger  *slog.Logger
	observe IngestObserver

	graph   *graph.Graph
	index   *spatial.Index
	ingests int
}

// IngestObserver is told about every ingestion attempt. counts is the graph
// size afterwards and is nil when the attempt failed.
type IngestObserver func(s graph.Summary, counts *graph.Counts, err error)

// NewWorkspace returns an empty workspace. bbox is used by ingests that do not
// name one. A nil theme uses style.DefaultTheme.
func NewWorkspace(f graph.Fetcher, bbox geo.BoundingBox, theme *style.Theme, logger *slog.Logger) *Workspace {
	if theme == nil {
		theme = style.DefaultTheme()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := graph.New()
	return &Workspace{
		fetcher: f,
		bbox:    bbox,
		theme:   theme,
		base:    logger,
		logger:  logger.With("component", "workspace"),
		graph:   g,
		index:   spatial.NewIndex(g),
	}
}

// DefaultBBox returns the box used when an ingest names none.
func (w *Workspace) DefaultBBox() geo.BoundingBox {
	return w.bbox
}

// Theme returns the render style.
func (w *Workspace) Theme() *style.Theme {
	return w.theme
}

// SetIngestObserver installs fn, replacing any previous observer.
func (w *Workspace) SetIngestObserver(fn IngestObserver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observe = fn
}

// Ingest fetches the city query for bbox and appends the result.
func (w *Workspace) Ingest(ctx context.Context, bbox geo.BoundingBox) (graph.Summary, error) {
	if err := bbox.Validate(); err != nil {
		return graph.Summary{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Info("ingesting", "bbox", bbox.String())
	s, err := graph.Ingest(ctx, w.fetcher, osm.CityQuery(bbox), w.graph, w.base)
	return s, w.finish(s, err)
}

// Load appends an already fetched Overpass document.
func (w *Workspace) Load(ctx context.Context, data []byte) (graph.Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, err := graph.NewBuilder(w.graph, w.base).Load(ctx, data)
	return s, w.finish(s, err)
}

// Reset discards every loaded entity.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.graph = graph.New()
	w.index = spatial.NewIndex(w.graph)
	w.ingests = 0
}

// View calls fn with the graph and its index. fn must not retain either.
func (w *Workspace) View(fn func(g *graph.Graph, idx *spatial.Index) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.graph, w.index)
}

// Ingests returns the number of successful loads since the last reset.
func (w *Workspace) Ingests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ingests
}

// finish rebuilds the index after a successful load and notifies the
// observer. Callers hold mu.
func (w *Workspace) finish(s graph.Summary, err error) error {
	var counts *graph.Counts
	if err == nil {
		w.index = spatial.NewIndex(w.graph)
		w.ingests++
		c := w.graph.Counts()
		counts = &c
	}
	if w.observe != nil {
		w.observe(s, counts, err)
	}
	return err
}
