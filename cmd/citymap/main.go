// Command citymap builds a render-ready city map graph from OpenStreetMap
// data. It either ingests once and prints a summary, or serves the map tools
// over MCP stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/citymap/pkg/config"
	"github.com/NERVsystems/citymap/pkg/core"
	"github.com/NERVsystems/citymap/pkg/geo"
	"github.com/NERVsystems/citymap/pkg/graph"
	"github.com/NERVsystems/citymap/pkg/label"
	"github.com/NERVsystems/citymap/pkg/monitoring"
	"github.com/NERVsystems/citymap/pkg/osm"
	"github.com/NERVsystems/citymap/pkg/server"
	"github.com/NERVsystems/citymap/pkg/spatial"
	"github.com/NERVsystems/citymap/pkg/style"
	"github.com/NERVsystems/citymap/pkg/tools"
	"github.com/NERVsystems/citymap/pkg/tracing"
	ver "github.com/NERVsystems/citymap/pkg/version"
)

type options struct {
	showVersion bool
	configPath  string
	stylePath   string
	serve       bool
	labelsPath  string
	advance     float64

	fs  *flag.FlagSet
	cfg *config.Config
}

// flags holds values that may override the config file.
type flags struct {
	debug            bool
	bbox             string
	input            string
	output           string
	overpassURL      string
	overpassRPS      float64
	overpassBurst    int
	userAgent        string
	enableMonitoring bool
	monitoringAddr   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "citymap: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	def := config.Default()
	opts := &options{fs: flag.NewFlagSet("citymap", flag.ContinueOnError)}
	var f flags

	fs := opts.fs
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.showVersion, "version", false, "Display version information")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.stylePath, "style", "", "YAML style file applied over the configured style")
	fs.BoolVar(&opts.serve, "serve", false, "Serve the map tools over MCP stdio instead of ingesting once")
	fs.StringVar(&opts.labelsPath, "labels", "", "Write placed road labels as JSON to this file")
	fs.Float64Var(&opts.advance, "advance", tools.DefaultAdvance, "Glyph advance for -labels, in normalized map units")

	fs.BoolVar(&f.debug, "debug", def.Debug, "Enable debug logging")
	fs.StringVar(&f.bbox, "bbox", def.BBox.String(), "Bounding box to ingest as south,west,north,east")
	fs.StringVar(&f.input, "input", def.Input, "Read an Overpass JSON document from this file instead of fetching")
	fs.StringVar(&f.output, "output", def.Output, "Write the map graph as JSON to this file")
	fs.StringVar(&f.overpassURL, "overpass-url", def.Overpass.URL, "Overpass interpreter URL")
	fs.Float64Var(&f.overpassRPS, "overpass-rps", def.Overpass.RPS, "Overpass rate limit in requests per second")
	fs.IntVar(&f.overpassBurst, "overpass-burst", def.Overpass.Burst, "Overpass rate limit burst size")
	fs.StringVar(&f.userAgent, "user-agent", def.Overpass.UserAgent, "User-Agent string for Overpass requests")
	fs.BoolVar(&f.enableMonitoring, "enable-monitoring", def.Monitoring.Enabled, "Enable Prometheus metrics and health endpoints")
	fs.StringVar(&f.monitoringAddr, "monitoring-addr", def.Monitoring.Addr, "Monitoring server address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.showVersion {
		return opts, nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(fs, &f, cfg); err != nil {
		return nil, err
	}
	opts.cfg = cfg
	return opts, nil
}

// applyFlags copies flags given on the command line over cfg.
func applyFlags(fs *flag.FlagSet, f *flags, cfg *config.Config) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "debug":
			cfg.Debug = f.debug
		case "bbox":
			var b geo.BoundingBox
			if b, err = geo.ParseBoundingBox(f.bbox); err == nil {
				cfg.BBox = b
			}
		case "input":
			cfg.Input = f.input
		case "output":
			cfg.Output = f.output
		case "overpass-url":
			cfg.Overpass.URL = f.overpassURL
		case "overpass-rps":
			cfg.Overpass.RPS = f.overpassRPS
		case "overpass-burst":
			cfg.Overpass.Burst = f.overpassBurst
		case "user-agent":
			cfg.Overpass.UserAgent = f.userAgent
		case "enable-monitoring":
			cfg.Monitoring.Enabled = f.enableMonitoring
		case "monitoring-addr":
			cfg.Monitoring.Addr = f.monitoringAddr
		}
	})
	if err != nil {
		return fmt.Errorf("-bbox: %w", err)
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, ver.String())
		return nil
	}
	cfg := opts.cfg

	// Configure logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry tracing
	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
	}

	theme, err := loadTheme(cfg, opts.stylePath)
	if err != nil {
		return err
	}

	logger.Info("starting citymap",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"bbox", cfg.BBox.String(),
		"overpass_url", cfg.Overpass.URL,
		"overpass_rps", cfg.Overpass.RPS,
		"overpass_burst", cfg.Overpass.Burst,
		"monitoring_enabled", cfg.Monitoring.Enabled,
		"serve", opts.serve)

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = logger
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Overpass.Timeout, Transport: core.DefaultClient.Transport}
	ws := tools.NewWorkspace(osm.NewClient(clientCfg), cfg.BBox, theme, logger)

	if cfg.Monitoring.Enabled {
		stopMonitoring := startMonitoring(ctx, cfg.Monitoring.Addr, ws, logger)
		defer stopMonitoring()
	}

	if opts.serve {
		s, err := server.NewServer(logger, tools.NewRegistry(logger, ws))
		if err != nil {
			return err
		}
		s.WatchParent = true
		return s.RunWithContext(ctx)
	}

	return ingestOnce(ctx, ws, cfg, opts, stdout)
}

func loadTheme(cfg *config.Config, path string) (*style.Theme, error) {
	theme, err := cfg.Theme()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return theme, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open style: %w", err)
	}
	defer f.Close()

	if err := theme.Apply(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return theme, nil
}

// startMonitoring wires Overpass traffic into metrics and health, and serves
// them until the returned function is called.
func startMonitoring(ctx context.Context, addr string, ws *tools.Workspace, logger *slog.Logger) func() {
	healthChecker := monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
	ws.SetIngestObserver(observeIngest(healthChecker))

	osm.SetMonitoringHooks(&osm.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
			healthChecker.ObserveResponse(service, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
		},
		OnCache: func(service string, hit bool) {
			monitoring.RecordCache(service, hit)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", healthChecker.HealthHandler())
	mux.Handle("/live", healthChecker.LivenessHandler())

	monitoringServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Info("starting monitoring server", "addr", addr)
		if err := monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := monitoringServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
		osm.SetMonitoringHooks(nil)
		ws.SetIngestObserver(nil)
	}
}

// observeIngest feeds workspace ingestions into the health checker.
func observeIngest(hc *monitoring.HealthChecker) tools.IngestObserver {
	return func(s graph.Summary, counts *graph.Counts, err error) {
		var entities map[string]int
		if counts != nil {
			entities = map[string]int{
				graph.KindNodes:     counts.Nodes,
				graph.KindRoads:     counts.Roads,
				graph.KindEdges:     counts.Edges,
				graph.KindBuildings: counts.Buildings,
				graph.KindPolygons:  counts.Polygons,
				graph.KindLabels:    counts.Labels,
			}
		}
		hc.ObserveIngest(s.IngestID, entities, err)
	}
}

func ingestOnce(ctx context.Context, ws *tools.Workspace, cfg *config.Config, opts *options, stdout io.Writer) error {
	if cfg.Overpass.Timeout > 0 && cfg.Input == "" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Overpass.Timeout)
		defer cancel()
	}

	var (
		summary graph.Summary
		err     error
	)
	if cfg.Input != "" {
		data, readErr := os.ReadFile(cfg.Input)
		if readErr != nil {
			return fmt.Errorf("read input: %w", readErr)
		}
		summary, err = ws.Load(ctx, data)
	} else {
		summary, err = ws.Ingest(ctx, cfg.BBox)
	}
	if err != nil {
		return err
	}

	printSummary(stdout, summary)

	return ws.View(func(g *graph.Graph, _ *spatial.Index) error {
		if cfg.Output != "" {
			if err := writeJSON(cfg.Output, g); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "graph written to %s\n", cfg.Output)
		}
		if opts.labelsPath != "" {
			labels := label.RoadLabels(g.Roads, label.FixedMetrics(opts.advance))
			if err := writeJSON(opts.labelsPath, labels); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s road labels written to %s\n", humanize.Comma(int64(len(labels))), opts.labelsPath)
		}
		return nil
	})
}

func printSummary(w io.Writer, s graph.Summary) {
	fmt.Fprintf(w, "ingest %s: %s elements in %s\n", s.IngestID, humanize.Comma(int64(s.Elements)), s.Duration.Round(time.Millisecond))
	rows := []struct {
		kind         string
		added, total int
	}{
		{graph.KindNodes, s.Added.Nodes, s.Total.Nodes},
		{graph.KindRoads, s.Added.Roads, s.Total.Roads},
		{graph.KindEdges, s.Added.Edges, s.Total.Edges},
		{graph.KindBuildings, s.Added.Buildings, s.Total.Buildings},
		{graph.KindPolygons, s.Added.Polygons, s.Total.Polygons},
		{graph.KindLabels, s.Added.Labels, s.Total.Labels},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-10s +%s (%s total)\n", r.kind, humanize.Comma(int64(r.added)), humanize.Comma(int64(r.total)))
	}
	if s.DroppedRefs > 0 || s.DroppedMembers > 0 {
		fmt.Fprintf(w, "  dropped    %s node refs, %s relation members\n", humanize.Comma(int64(s.DroppedRefs)), humanize.Comma(int64(s.DroppedMembers)))
	}
	if s.Normalized {
		fmt.Fprintf(w, "  normalized at scale %s\n", humanize.Ftoa(s.Scale))
	} else {
		fmt.Fprintln(w, "  not normalized: no buildings")
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
