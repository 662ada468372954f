// Package config loads citymap settings from YAML. Command-line flags are
// applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NERVsystems/citymap/pkg/geo"
	"github.com/NERVsystems/citymap/pkg/osm"
	"github.com/NERVsystems/citymap/pkg/style"
)

// DefaultBBox is the extent fetched when none is given (Gujranwala, Pakistan).
var DefaultBBox = geo.BoundingBox{MinLat: 32.09, MinLon: 74.13, MaxLat: 32.21, MaxLon: 74.24}

// Config is the full set of settings.
type Config struct {
	Debug bool `yaml:"debug"`

	BBox   geo.BoundingBox `yaml:"bbox"`
	Input  string          `yaml:"input"`
	Output string          `yaml:"output"`

	Overpass   Overpass   `yaml:"overpass"`
	Monitoring Monitoring `yaml:"monitoring"`

	// Style holds theme overrides, decoded on top of the default theme.
	Style yaml.Node `yaml:"style"`
}

// Overpass configures the transport.
type Overpass struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"userAgent"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Monitoring configures the metrics and health listener.
type Monitoring struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		BBox: DefaultBBox,
		Overpass: Overpass{
			URL:       osm.OverpassBaseURL,
			UserAgent: osm.DefaultUserAgent,
			RPS:       1,
			Burst:     1,
			CacheSize: osm.DefaultCacheSize,
			CacheTTL:  osm.DefaultCacheTTL,
			Timeout:   60 * time.Second,
		},
		Monitoring: Monitoring{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := c.BBox.Validate(); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if c.Overpass.URL == "" {
		return errors.New("overpass.url must not be empty")
	}
	if c.Overpass.RPS <= 0 {
		return fmt.Errorf("overpass.rps must be positive, got %v", c.Overpass.RPS)
	}
	if c.Overpass.Burst < 1 {
		return fmt.Errorf("overpass.burst must be at least 1, got %d", c.Overpass.Burst)
	}
	if c.Overpass.Timeout < 0 || c.Overpass.CacheTTL < 0 {
		return errors.New("overpass durations must not be negative")
	}
	return nil
}

// Theme returns the default theme with the style section applied.
func (c *Config) Theme() (*style.Theme, error) {
	t := style.DefaultTheme()
	if c.Style.Kind == 0 {
		return t, nil
	}
	if err := c.Style.Decode(t); err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	return t, nil
}

// ClientConfig converts the overpass section for osm.NewClient.
func (c *Config) ClientConfig() osm.Config {
	return osm.Config{
		BaseURL:   c.Overpass.URL,
		UserAgent: c.Overpass.UserAgent,
		RPS:       c.Overpass.RPS,
		Burst:     c.Overpass.Burst,
		CacheSize: c.Overpass.CacheSize,
		CacheTTL:  c.Overpass.CacheTTL,
	}
}
