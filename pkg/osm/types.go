// Package osm provides the Overpass wire format and a rate limited client for
// fetching raw query results.
package osm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Element types carried in the "type" discriminator.
const (
	TypeNode     = "node"
	TypeWay      = "way"
	TypeRelation = "relation"
)

// ErrMalformedDocument is returned when the top-level document is not a JSON
// object or has no elements array.
var ErrMalformedDocument = errors.New("malformed overpass document")

// Element is a single node, way or relation from an Overpass JSON result.
type Element struct {
	ID      int64             `json:"id"`
	Type    string            `json:"type"`
	Lat     float64           `json:"lat,omitempty"`
	Lon     float64           `json:"lon,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
	Nodes   []int64           `json:"nodes,omitempty"`   // ways
	Members []Member          `json:"members,omitempty"` // relations
}

// Member is a relation member reference.
type Member struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

// HasTag reports whether the key is present, regardless of its value.
func (e *Element) HasTag(key string) bool {
	_, ok := e.Tags[key]
	return ok
}

// Tag returns the value for key or "" when absent.
func (e *Element) Tag(key string) string {
	return e.Tags[key]
}

// Document is a decoded Overpass result.
type Document struct {
	Elements []Element
}

// DecodeDocument decodes an Overpass JSON result.
//
// Only the envelope is strict: the root must be an object with an "elements"
// array. Individual elements are decoded leniently; a field with the wrong
// JSON type is left at its zero value and an element that is not an object
// decodes to an Element with an empty Type.
func DecodeDocument(data []byte) (*Document, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	raw, ok := root["elements"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: missing elements array", ErrMalformedDocument)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: elements is not an array: %v", ErrMalformedDocument, err)
	}

	doc := &Document{Elements: make([]Element, len(items))}
	for i, item := range items {
		decodeElement(item, &doc.Elements[i])
	}
	return doc, nil
}

// decodeElement fills el from raw, keeping whatever decoded cleanly.
func decodeElement(raw json.RawMessage, el *Element) {
	err := json.Unmarshal(raw, el)
	if err == nil {
		return
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return
	}
	*el = Element{}
}
