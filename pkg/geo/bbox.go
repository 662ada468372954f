// Package geo provides geographic primitives shared by the transport and
// ingestion packages.
package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// BoundingBox is a geographic rectangle in decimal degrees.
type BoundingBox struct {
	MinLat float64 `json:"minLat" yaml:"minLat"`
	MinLon float64 `json:"minLon" yaml:"minLon"`
	MaxLat float64 `json:"maxLat" yaml:"maxLat"`
	MaxLon float64 `json:"maxLon" yaml:"maxLon"`
}

// Validate checks coordinate ranges and ordering.
func (b BoundingBox) Validate() error {
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude out of range: minLat=%f maxLat=%f (must be between -90 and 90)", b.MinLat, b.MaxLat)
	}
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude out of range: minLon=%f maxLon=%f (must be between -180 and 180)", b.MinLon, b.MaxLon)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("minLat (%f) must be less than maxLat (%f)", b.MinLat, b.MaxLat)
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("minLon (%f) must be less than maxLon (%f)", b.MinLon, b.MaxLon)
	}
	return nil
}

// String formats the box in Overpass order: south,west,north,east.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// ParseBoundingBox parses "south,west,north,east" and validates the result.
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box must have 4 comma separated values, got %d", len(parts))
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("invalid bounding box value %q: %w", p, err)
		}
		vals[i] = v
	}

	b := BoundingBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}
