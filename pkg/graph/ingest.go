package graph

import (
	"context"
	"fmt"
	"log/slog"
)

// Fetcher delivers raw Overpass bytes for a query, or an error and no bytes.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]byte, error)
}

// Ingest fetches query and loads the result into g. When the fetch fails g
// is not modified.
func Ingest(ctx context.Context, f Fetcher, query string, g *Graph, logger *slog.Logger) (Summary, error) {
	data, err := f.Fetch(ctx, query)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch: %w", err)
	}
	return NewBuilder(g, logger).Load(ctx, data)
}
