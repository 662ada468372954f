package style

import (
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Color is an 8-bit RGBA colour. It implements image/color.Color.
type Color struct {
	R, G, B, A uint8
}

// RGB returns an opaque colour.
func RGB(r, g, b uint8) Color { return Color{r, g, b, 0xff} }

// Float returns an opaque colour from 0..1 components.
func Float(r, g, b float64) Color {
	return Color{unit(r), unit(g), unit(b), 0xff}
}

func unit(v float64) uint8 {
	v = min(max(v, 0), 1)
	return uint8(v*255 + 0.5)
}

// RGBA implements image/color.Color with alpha premultiplied.
func (c Color) RGBA() (r, g, b, a uint32) {
	a = uint32(c.A)
	r = uint32(c.R) * a / 0xff
	g = uint32(c.G) * a / 0xff
	b = uint32(c.B) * a / 0xff
	r |= r << 8
	g |= g << 8
	b |= b << 8
	a |= a << 8
	return
}

// Hex formats the colour as #RRGGBB, or #RRGGBBAA when not opaque.
func (c Color) Hex() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02X%02X%02X%02X", c.R, c.G, c.B, c.A)
}

// ParseHex parses #RGB, #RRGGBB or #RRGGBBAA.
func ParseHex(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 && len(h) != 8 {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	c := Color{b[0], b[1], b[2], 0xff}
	if len(b) == 4 {
		c.A = b[3]
	}
	return c, nil
}

// MarshalYAML writes the colour as a hex string.
func (c Color) MarshalYAML() (interface{}, error) {
	return c.Hex(), nil
}

// UnmarshalYAML accepts "#RRGGBB[AA]" or a sequence [r, g, b] / [r, g, b, a]
// of 0..255 integers.
func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseHex(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*c = parsed
		return nil

	case yaml.SequenceNode:
		var parts []uint8
		if err := node.Decode(&parts); err != nil {
			return fmt.Errorf("line %d: colour components must be 0..255: %w", node.Line, err)
		}
		switch len(parts) {
		case 3:
			*c = RGB(parts[0], parts[1], parts[2])
		case 4:
			*c = Color{parts[0], parts[1], parts[2], parts[3]}
		default:
			return fmt.Errorf("line %d: colour needs 3 or 4 components, got %d", node.Line, len(parts))
		}
		return nil
	}
	return fmt.Errorf("line %d: unsupported colour value", node.Line)
}
