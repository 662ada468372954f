package osm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/NERVsystems/citymap/pkg/geo"
)

// QueryBuilder provides a fluent interface for building Overpass QL queries
type QueryBuilder struct {
	timeout     int
	bbox        *geo.BoundingBox
	filters     []ElementFilter
	output      string
	recurseDown string
}

// TagFilter represents a tag filter for Overpass queries. With no values it
// matches on key presence; with several values it becomes an anchored regex.
type TagFilter struct {
	Key     string
	Values  []string
	Exclude bool
}

// ElementFilter is one statement inside the union block
type ElementFilter struct {
	ElementType string // "node", "way", "relation"
	Tags        []TagFilter
	BBox        *geo.BoundingBox
}

// NewQueryBuilder creates a builder with JSON output and a 25s timeout
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		timeout: 25,
		output:  "body",
	}
}

// WithTimeout sets the server side query timeout in seconds
func (b *QueryBuilder) WithTimeout(seconds int) *QueryBuilder {
	b.timeout = seconds
	return b
}

// WithBoundingBox applies a bbox to every filter added afterwards
func (b *QueryBuilder) WithBoundingBox(bbox geo.BoundingBox) *QueryBuilder {
	b.bbox = &bbox
	return b
}

// WithNode adds a node statement
func (b *QueryBuilder) WithNode(tags ...TagFilter) *QueryBuilder {
	return b.with(TypeNode, tags)
}

// WithWay adds a way statement
func (b *QueryBuilder) WithWay(tags ...TagFilter) *QueryBuilder {
	return b.with(TypeWay, tags)
}

// WithRelation adds a relation statement
func (b *QueryBuilder) WithRelation(tags ...TagFilter) *QueryBuilder {
	return b.with(TypeRelation, tags)
}

func (b *QueryBuilder) with(elementType string, tags []TagFilter) *QueryBuilder {
	b.filters = append(b.filters, ElementFilter{
		ElementType: elementType,
		Tags:        tags,
		BBox:        b.bbox,
	})
	return b
}

// WithOutput sets the verbosity of the main output statement ("body", "center", ...)
func (b *QueryBuilder) WithOutput(output string) *QueryBuilder {
	b.output = output
	return b
}

// WithRecurseDown appends ">;out <output>;" so member ways and nodes of the
// matched elements are returned as well
func (b *QueryBuilder) WithRecurseDown(output string) *QueryBuilder {
	b.recurseDown = output
	return b
}

// Tag creates a TagFilter for a key with optional values
func Tag(key string, values ...string) TagFilter {
	return TagFilter{Key: key, Values: values}
}

// NotTag creates an excluding TagFilter
func NotTag(key string, values ...string) TagFilter {
	return TagFilter{Key: key, Values: values, Exclude: true}
}

// Build generates the Overpass query string
func (b *QueryBuilder) Build() string {
	var q strings.Builder

	fmt.Fprintf(&q, "[out:json][timeout:%d];(", b.timeout)
	for _, f := range b.filters {
		q.WriteString(buildElementFilter(f))
	}
	fmt.Fprintf(&q, ");out %s;", b.output)

	if b.recurseDown != "" {
		fmt.Fprintf(&q, ">;out %s;", b.recurseDown)
	}
	return q.String()
}

func buildElementFilter(f ElementFilter) string {
	var s strings.Builder
	s.WriteString(f.ElementType)
	for _, tag := range f.Tags {
		s.WriteString(buildTagFilter(tag))
	}
	if f.BBox != nil {
		fmt.Fprintf(&s, "(%s)", f.BBox.String())
	}
	s.WriteString(";")
	return s.String()
}

func buildTagFilter(f TagFilter) string {
	switch {
	case len(f.Values) == 0 || (len(f.Values) == 1 && f.Values[0] == "*"):
		if f.Exclude {
			return fmt.Sprintf("[!%q]", f.Key)
		}
		return fmt.Sprintf("[%q]", f.Key)

	case len(f.Values) == 1:
		op := "="
		if f.Exclude {
			op = "!="
		}
		return fmt.Sprintf("[%q%s%q]", f.Key, op, f.Values[0])

	default:
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = regexp.QuoteMeta(v)
		}
		op := "~"
		if f.Exclude {
			op = "!~"
		}
		return fmt.Sprintf("[%q%s%q]", f.Key, op, "^("+strings.Join(quoted, "|")+")$")
	}
}

// CityQuery returns the query used to build a city map: place-name nodes,
// named residential and administrative areas, buildings, land use, leisure
// and every highway, followed by a recurse down so referenced nodes and
// member ways are included.
func CityQuery(bbox geo.BoundingBox) string {
	return NewQueryBuilder().
		WithBoundingBox(bbox).
		WithNode(Tag("place", "suburb", "neighbourhood", "quarter")).
		WithWay(Tag("landuse", "residential"), Tag("name")).
		WithRelation(Tag("landuse", "residential"), Tag("name")).
		WithRelation(Tag("boundary", "administrative"), Tag("name")).
		WithWay(Tag("building")).
		WithRelation(Tag("building")).
		WithWay(Tag("landuse")).
		WithWay(Tag("polygon")).
		WithWay(Tag("leisure")).
		WithWay(Tag("highway")).
		WithRecurseDown("skel qt").
		Build()
}
