package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/NERVsystems/citymap/pkg/version"
)

// Health states reported on /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// UnhealthyAfter is the number of consecutive upstream failures after which
// an empty graph makes the service unhealthy.
const UnhealthyAfter = 3

// ServiceHealth is the body served on /health.
type ServiceHealth struct {
	Service       string                    `json:"service"`
	Version       string                    `json:"version"`
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	StartTime     time.Time                 `json:"start_time"`
	Upstreams     map[string]UpstreamStatus `json:"upstreams"`
	LastIngest    *IngestStatus             `json:"last_ingest,omitempty"`
	Entities      map[string]int            `json:"entities"`
}

// UpstreamStatus is what real traffic has shown about one upstream.
type UpstreamStatus struct {
	Reachable           bool      `json:"reachable"`
	LatencyMs           int64     `json:"latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// IngestStatus describes the most recent ingestion attempt.
type IngestStatus struct {
	ID      string    `json:"id,omitempty"`
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// HealthChecker derives service health from Overpass traffic and ingestion
// outcomes. It is fed by hooks and never probes anything itself.
type HealthChecker struct {
	serviceName string
	version     string
	startTime   time.Time

	mu         sync.RWMutex
	upstreams  map[string]*UpstreamStatus
	lastIngest *IngestStatus
	entities   map[string]int
}

// NewHealthChecker returns a checker with no observations, which reports healthy.
func NewHealthChecker(serviceName, ver string) *HealthChecker {
	info := version.Info()
	SystemInfo.WithLabelValues(info["version"], info["go_version"], info["commit"], info["build_date"]).Set(1)

	return &HealthChecker{
		serviceName: serviceName,
		version:     ver,
		startTime:   time.Now(),
		upstreams:   make(map[string]*UpstreamStatus),
		entities:    make(map[string]int),
	}
}

// ObserveResponse is an osm.MonitoringHooks.OnResponse compatible callback.
func (h *HealthChecker) ObserveResponse(service string, d time.Duration, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	u, ok := h.upstreams[service]
	if !ok {
		u = &UpstreamStatus{}
		h.upstreams[service] = u
	}
	u.LatencyMs = d.Milliseconds()
	u.Reachable = success
	if success {
		u.ConsecutiveFailures = 0
		u.LastSuccess = time.Now()
		UpstreamUp.WithLabelValues(service).Set(1)
		return
	}
	u.ConsecutiveFailures++
	u.LastFailure = time.Now()
	UpstreamUp.WithLabelValues(service).Set(0)
}

// ObserveIngest records an ingestion outcome. entities is the graph size
// after the attempt, by kind; a failed attempt leaves the graph as it was, so
// a nil map keeps the previous counts.
func (h *HealthChecker) ObserveIngest(id string, entities map[string]int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := &IngestStatus{ID: id, At: time.Now(), Success: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	h.lastIngest = st

	if entities == nil {
		return
	}
	h.entities = make(map[string]int, len(entities))
	for kind, n := range entities {
		h.entities[kind] = n
		GraphEntities.WithLabelValues(kind).Set(float64(n))
	}
}

// GetHealth returns the current health.
//
// An upstream failing UnhealthyAfter times in a row with nothing loaded is
// unhealthy: there is neither fresh data nor a graph to serve. Any failing
// upstream or a failed last ingest is degraded.
func (h *HealthChecker) GetHealth() ServiceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	loaded := 0
	for _, n := range h.entities {
		loaded += n
	}

	status := StatusHealthy
	if h.lastIngest != nil && !h.lastIngest.Success {
		status = StatusDegraded
	}

	upstreams := make(map[string]UpstreamStatus, len(h.upstreams))
	names := make([]string, 0, len(h.upstreams))
	for name, u := range h.upstreams {
		upstreams[name] = *u
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u := upstreams[name]
		if u.Reachable {
			continue
		}
		if u.ConsecutiveFailures >= UnhealthyAfter && loaded == 0 {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	entities := make(map[string]int, len(h.entities))
	for k, v := range h.entities {
		entities[k] = v
	}

	var last *IngestStatus
	if h.lastIngest != nil {
		c := *h.lastIngest
		last = &c
	}

	return ServiceHealth{
		Service:       h.serviceName,
		Version:       h.version,
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		StartTime:     h.startTime,
		Upstreams:     upstreams,
		LastIngest:    last,
		Entities:      entities,
	}
}

// HealthHandler serves GetHealth as JSON, with 503 when unhealthy.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode health response: %v", err), http.StatusInternalServerError)
		}
	}
}

// LivenessHandler reports that the process is up, regardless of upstreams.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Round(time.Second).String(),
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode liveness response: %v", err), http.StatusInternalServerError)
		}
	}
}
