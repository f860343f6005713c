// Package server holds the process plumbing shared by the codelens binaries:
// health probes and ordered shutdown.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	}
	return 0
}

// HealthCheck is the outcome of one named check.
type HealthCheck struct {
	Name      string            `json:"name"`
	Status    HealthStatus      `json:"status"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	LatencyMS int64             `json:"latency_ms"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker performs one check. It must honor ctx cancellation.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthConfig configures the health server.
type HealthConfig struct {
	Version      string
	CheckTimeout time.Duration // per check, default 5s
}

// HealthServer aggregates checks behind liveness and readiness probes.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	timeout time.Duration
	ready   bool
	live    bool
}

// NewHealthServer creates a health server that is live but not yet ready.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks:  make(map[string]HealthChecker),
		timeout: 5 * time.Second,
		live:    true,
	}
	if config != nil {
		s.version = config.Version
		if config.CheckTimeout > 0 {
			s.timeout = config.CheckTimeout
		}
	}
	return s
}

// RegisterCheck adds or replaces a named check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the server as ready to accept traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the server as live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Ready reports the readiness flag.
func (s *HealthServer) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *HealthServer) isLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Check runs every registered check concurrently, each under its own
// timeout. Results are ordered by name and the worst status wins.
func (s *HealthServer) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checkers := make([]HealthChecker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = s.checks[name]
	}
	version, timeout := s.version, s.timeout
	s.mu.RUnlock()

	results := make([]HealthCheck, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			check := checkers[i](cctx)
			check.Name = name
			check.LatencyMS = time.Since(start).Milliseconds()
			results[i] = check
			return nil
		})
	}
	g.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    results,
	}
	for _, c := range results {
		if c.Status.rank() > resp.Status.rank() {
			resp.Status = c.Status
		}
	}
	return resp
}

// Handler serves /health, /ready and /live plus their Kubernetes "z" aliases.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, p := range []string{"/health", "/healthz"} {
		mux.HandleFunc(p, s.handleHealth)
	}
	for _, p := range []string{"/ready", "/readyz"} {
		mux.HandleFunc(p, probe(s.Ready))
	}
	for _, p := range []string{"/live", "/livez"} {
		mux.HandleFunc(p, probe(s.isLive))
	}
	return mux
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func probe(flag func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
		code := http.StatusOK
		if !flag() {
			resp.Status = HealthStatusUnhealthy
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func result(status HealthStatus, msg string, details map[string]string) HealthCheck {
	return HealthCheck{Status: status, Message: msg, Details: details}
}

// PingHealthChecker turns a connectivity probe into a check: any error marks
// the component unhealthy.
func PingHealthChecker(component string, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return result(HealthStatusUnhealthy, component+" unreachable: "+err.Error(), nil)
		}
		return result(HealthStatusHealthy, component+" OK", nil)
	}
}

// GraphStoreHealthChecker checks the graph database.
func GraphStoreHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return PingHealthChecker("Graph store", ping)
}

// MetricsServiceHealthChecker probes the analysis service. An unreachable
// service only degrades health: graphs still build from empty defaults.
func MetricsServiceHealthChecker(baseURL string, client *http.Client) HealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"url": baseURL}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return result(HealthStatusUnhealthy, "Invalid metrics URL: "+err.Error(), details)
		}
		resp, err := client.Do(req)
		if err != nil {
			return result(HealthStatusDegraded, "Metrics service unreachable: "+err.Error(), details)
		}
		resp.Body.Close()
		details["status"] = strconv.Itoa(resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError {
			return result(HealthStatusDegraded, "Metrics service error", details)
		}
		return result(HealthStatusHealthy, "Metrics service OK", details)
	}
}

// MetricsDirHealthChecker verifies that a directory of saved metric payloads
// is readable and reports how many repositories it holds.
func MetricsDirHealthChecker(path string) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"path": path}
		entries, err := os.ReadDir(path)
		if err != nil {
			return result(HealthStatusUnhealthy, "Metrics directory unavailable: "+err.Error(), details)
		}
		repos := 0
		for _, e := range entries {
			if e.IsDir() {
				repos++
			}
		}
		details["repos"] = strconv.Itoa(repos)
		return result(HealthStatusHealthy, "Metrics directory OK", details)
	}
}

// MemoryHealthChecker reports degraded health once the live heap exceeds
// maxHeapBytes. View sessions hold full graphs, so this is the first thing
// to grow.
func MemoryHealthChecker(maxHeapBytes uint64) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		details := map[string]string{
			"heap_alloc": strconv.FormatUint(m.HeapAlloc, 10),
			"limit":      strconv.FormatUint(maxHeapBytes, 10),
			"goroutines": strconv.Itoa(runtime.NumGoroutine()),
		}
		if maxHeapBytes > 0 && m.HeapAlloc > maxHeapBytes {
			return result(HealthStatusDegraded, "Heap usage above limit", details)
		}
		return result(HealthStatusHealthy, "Memory usage OK", details)
	}
}
