package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/citymap/pkg/config"
	"github.com/NERVsystems/citymap/pkg/graph"
	"github.com/NERVsystems/citymap/pkg/label"
	"github.com/NERVsystems/citymap/pkg/monitoring"
	"github.com/NERVsystems/citymap/pkg/style"
	"github.com/NERVsystems/citymap/pkg/tools"
)

const fixture = `{"elements": [
	{"type": "node", "id": 1, "lat": 32.10, "lon": 74.10},
	{"type": "node", "id": 2, "lat": 32.10, "lon": 74.20},
	{"type": "node", "id": 3, "lat": 32.00, "lon": 74.20},
	{"type": "node", "id": 4, "lat": 32.00, "lon": 74.10},
	{"type": "way", "id": 10, "nodes": [1, 2, 3, 4], "tags": {"building": "yes"}},
	{"type": "way", "id": 20, "nodes": [4, 2, 99], "tags": {"highway": "primary", "name": "GT Road"}}
]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), opts.cfg)
	assert.False(t, opts.serve)
}

func TestParseFlags_OverrideConfigFile(t *testing.T) {
	path := writeFile(t, "citymap.yaml", `
overpass:
  rps: 3
  burst: 4
monitoring:
  addr: ":9999"
`)
	opts, err := parseFlags([]string{
		"-config", path,
		"-overpass-burst", "2",
		"-bbox", "31.4,74.2,31.6,74.4",
		"-enable-monitoring=false",
	}, io.Discard)
	require.NoError(t, err)

	cfg := opts.cfg
	assert.Equal(t, 3.0, cfg.Overpass.RPS, "file value kept when flag not given")
	assert.Equal(t, 2, cfg.Overpass.Burst, "explicit flag wins")
	assert.Equal(t, ":9999", cfg.Monitoring.Addr)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 31.4, cfg.BBox.MinLat)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := [][]string{
		{"-bbox", "1,2,3"},
		{"-overpass-rps", "0"},
		{"-config", "/does/not/exist.yaml"},
		{"stray"},
		{"-no-such-flag"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := parseFlags(args, io.Discard)
			assert.Error(t, err)
		})
	}

	_, err := parseFlags([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out, io.Discard))
	assert.Contains(t, out.String(), "citymap")
}

func TestRun_OneShotFromFile(t *testing.T) {
	input := writeFile(t, "city.json", fixture)
	dir := t.TempDir()
	output := filepath.Join(dir, "graph.json")
	labels := filepath.Join(dir, "labels.json")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-input", input,
		"-output", output,
		"-labels", labels,
		"-enable-monitoring=false",
	}, &out, io.Discard)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "6 elements")
	assert.Contains(t, text, "buildings  +1 (1 total)")
	assert.Contains(t, text, "dropped    1 node refs")
	assert.Contains(t, text, "normalized at scale")
	assert.Contains(t, text, "1 road labels written")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var g graph.Graph
	require.NoError(t, json.Unmarshal(data, &g))
	assert.Len(t, g.Buildings, 1)
	require.Len(t, g.Roads, 1)
	assert.Len(t, g.Roads[0].Points, 2)
	assert.InDelta(t, 500, g.CenterX, 1e-6)

	data, err = os.ReadFile(labels)
	require.NoError(t, err)
	var placed []label.RoadLabel
	require.NoError(t, json.Unmarshal(data, &placed))
	require.Len(t, placed, 1)
	assert.Len(t, placed[0].Glyphs, len("GT Road"))
}

func TestRun_OneShotFromOverpass(t *testing.T) {
	var queries int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fixture)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-overpass-url", srv.URL,
		"-overpass-rps", "100",
		"-enable-monitoring=false",
	}, &out, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1, queries)
	assert.Contains(t, out.String(), "roads      +1 (1 total)")
}

func TestRun_MalformedInput(t *testing.T) {
	input := writeFile(t, "bad.json", `{"elements": 3}`)
	err := run(context.Background(), []string{"-input", input, "-enable-monitoring=false"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, graph.ErrMalformedDocument)
}

func TestLoadTheme(t *testing.T) {
	cfg := config.Default()
	th, err := loadTheme(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, style.DefaultTheme(), th)

	path := writeFile(t, "style.yaml", "building: '#102030'\n")
	th, err = loadTheme(cfg, path)
	require.NoError(t, err)
	assert.Equal(t, style.RGB(0x10, 0x20, 0x30), th.Building)

	_, err = loadTheme(cfg, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, graph.Summary{
		IngestID: "abc",
		Elements: 12345,
		Added:    graph.Counts{Nodes: 1200},
		Total:    graph.Counts{Nodes: 1200},
		Duration: 1500 * time.Millisecond,
	})
	text := out.String()
	assert.Contains(t, text, "ingest abc: 12,345 elements in 1.5s")
	assert.Contains(t, text, "nodes      +1,200 (1,200 total)")
	assert.Contains(t, text, "not normalized")
	assert.NotContains(t, text, "dropped")
}

func TestObserveIngest(t *testing.T) {
	hc := monitoring.NewHealthChecker("test", "dev")
	ws := tools.NewWorkspace(nil, config.DefaultBBox, nil, nil)
	ws.SetIngestObserver(observeIngest(hc))

	s, err := ws.Load(context.Background(), []byte(fixture))
	require.NoError(t, err)

	h := hc.GetHealth()
	require.NotNil(t, h.LastIngest)
	assert.True(t, h.LastIngest.Success)
	assert.Equal(t, s.IngestID, h.LastIngest.ID)
	assert.Equal(t, 1, h.Entities[graph.KindBuildings])
	assert.Equal(t, 1, h.Entities[graph.KindRoads])
	assert.Equal(t, monitoring.StatusHealthy, h.Status)

	_, err = ws.Load(context.Background(), []byte(`{"elements": null}`))
	require.Error(t, err)

	h = hc.GetHealth()
	assert.False(t, h.LastIngest.Success)
	assert.Equal(t, 1, h.Entities[graph.KindBuildings], "a rejected document keeps the previous counts")
	assert.Equal(t, monitoring.StatusDegraded, h.Status)
}
