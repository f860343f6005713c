package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// collector is anything the registry can render in Prometheus text format.
type collector interface {
	collect(w io.Writer)
}

// MetricsRegistry renders its collectors in name order.
type MetricsRegistry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{collectors: make(map[string]collector)}
}

func (r *MetricsRegistry) register(name string, c collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[name] = c
}

// sample is one float series behind a mutex. Counters and gauges differ
// only in the methods they expose.
type sample struct {
	name   string
	help   string
	kind   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

func (s *sample) add(v float64) {
	s.mu.Lock()
	s.value += v
	s.mu.Unlock()
}

func (s *sample) get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *sample) collect(w io.Writer) {
	writeHeader(w, s.name, s.kind, s.help)
	writeSeries(w, s.name, s.labels, formatFloat(s.get()))
}

// Counter is a monotonically increasing metric.
type Counter struct{ s sample }

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.s.add(1) }

// Add adds v, which must not be negative.
func (c *Counter) Add(v float64) { c.s.add(v) }

// Value returns the counter value.
func (c *Counter) Value() float64 { return c.s.get() }

func (c *Counter) collect(w io.Writer) { c.s.collect(w) }

// Gauge is a metric that can go up or down.
type Gauge struct{ s sample }

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.s.mu.Lock()
	g.s.value = v
	g.s.mu.Unlock()
}

func (g *Gauge) Inc()                { g.s.add(1) }
func (g *Gauge) Dec()                { g.s.add(-1) }
func (g *Gauge) Add(v float64)       { g.s.add(v) }
func (g *Gauge) Value() float64      { return g.s.get() }
func (g *Gauge) collect(w io.Writer) { g.s.collect(w) }

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	c := &Counter{s: sample{name: name, help: help, kind: "counter", labels: labels}}
	r.register(name, c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	g := &Gauge{s: sample{name: name, help: help, kind: "gauge", labels: labels}}
	r.register(name, g)
	return g
}

// CounterVec is a family of counters split by one label, created on first
// use of each label value.
type CounterVec struct {
	name  string
	help  string
	label string

	mu       sync.Mutex
	counters map[string]*Counter
}

// NewCounterVec creates and registers a counter family.
func (r *MetricsRegistry) NewCounterVec(name, help, label string) *CounterVec {
	v := &CounterVec{name: name, help: help, label: label, counters: make(map[string]*Counter)}
	r.register(name, v)
	return v
}

// With returns the counter for one label value.
func (v *CounterVec) With(value string) *Counter {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.counters[value]
	if !ok {
		c = &Counter{s: sample{name: v.name, labels: map[string]string{v.label: value}}}
		v.counters[value] = c
	}
	return c
}

// Total sums every series of the family.
func (v *CounterVec) Total() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var sum float64
	for _, c := range v.counters {
		sum += c.Value()
	}
	return sum
}

func (v *CounterVec) collect(w io.Writer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	writeHeader(w, v.name, "counter", v.help)
	for _, value := range sortedNames(v.counters) {
		c := v.counters[value]
		writeSeries(w, v.name, c.s.labels, formatFloat(c.Value()))
	}
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // cumulative
	sum    float64
	count  uint64
}

// NewHistogram creates and registers a histogram; nil buckets means
// DefaultBuckets.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.register(name, h)
	return h
}

// DefaultBuckets spans 1ms to 10s, which covers both a single metric
// request and a full graph build.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i := sort.SearchFloat64s(h.buckets, v); i < len(h.buckets); i++ {
		h.counts[i]++
	}
}

// ObserveDuration records the time elapsed since start, in seconds.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) collect(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeHeader(w, h.name, "histogram", h.help)
	for i, bound := range h.buckets {
		writeSeries(w, h.name+"_bucket", withLabel(h.labels, "le", formatFloat(bound)), formatUint(h.counts[i]))
	}
	writeSeries(w, h.name+"_bucket", withLabel(h.labels, "le", "+Inf"), formatUint(h.count))
	writeSeries(w, h.name+"_sum", h.labels, formatFloat(h.sum))
	writeSeries(w, h.name+"_count", h.labels, formatUint(h.count))
}

// Handler returns an HTTP handler for Prometheus scraping.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes every metric in Prometheus text format.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range sortedNames(r.collectors) {
		r.collectors[name].collect(w)
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func writeHeader(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeSeries(w io.Writer, name string, labels map[string]string, value string) {
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), value)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedNames(labels) {
		parts = append(parts, k+"="+strconv.Quote(labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// CodelensMetrics contains the service's own metrics.
type CodelensMetrics struct {
	Registry *MetricsRegistry

	// Metric fetch
	FetchRequestsTotal *Counter
	FetchFailuresTotal *CounterVec // by metric name
	FetchDuration      *Histogram

	// Graph builds
	GraphBuildsTotal   *Counter
	GraphBuildFailures *Counter
	GraphCacheHits     *Counter
	GraphBuildDuration *Histogram
	GraphNodes         *Gauge
	GraphLinks         *Gauge
	UnresolvedSymbols  *Counter

	// Views
	ViewSessions         *Gauge
	ViewTransitionsTotal *Counter

	// Persistence
	PersistFailuresTotal *Counter
}

// NewCodelensMetrics creates the codelens metric set on a fresh registry.
func NewCodelensMetrics() *CodelensMetrics {
	r := NewMetricsRegistry()

	return &CodelensMetrics{
		Registry: r,

		FetchRequestsTotal: r.NewCounter("codelens_fetch_requests_total", "Total metric requests to the analysis service", nil),
		FetchFailuresTotal: r.NewCounterVec("codelens_fetch_failures_total", "Metric requests replaced by an empty default", "metric"),
		FetchDuration:      r.NewHistogram("codelens_fetch_duration_seconds", "Metric request duration", nil, nil),

		GraphBuildsTotal:   r.NewCounter("codelens_graph_builds_total", "Total graph assemblies", nil),
		GraphBuildFailures: r.NewCounter("codelens_graph_build_failures_total", "Graph builds rejected for an empty scan", nil),
		GraphCacheHits:     r.NewCounter("codelens_graph_cache_hits_total", "Graph requests served from cache", nil),
		GraphBuildDuration: r.NewHistogram("codelens_graph_build_duration_seconds", "Fetch plus assembly duration", nil, nil),
		GraphNodes:         r.NewGauge("codelens_graph_nodes", "Nodes in the most recently built graph", nil),
		GraphLinks:         r.NewGauge("codelens_graph_links", "Links in the most recently built graph", nil),
		UnresolvedSymbols:  r.NewCounter("codelens_unresolved_symbols_total", "Coupling references skipped as unresolvable", nil),

		ViewSessions:         r.NewGauge("codelens_view_sessions", "Open view sessions", nil),
		ViewTransitionsTotal: r.NewCounter("codelens_view_transitions_total", "Expand, collapse and pin operations", nil),

		PersistFailuresTotal: r.NewCounter("codelens_persist_failures_total", "Graphs that could not be stored", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *CodelensMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordFetch records one metric request.
func (m *CodelensMetrics) RecordFetch(metric string, duration time.Duration, err error) {
	m.FetchRequestsTotal.Inc()
	m.FetchDuration.Observe(duration.Seconds())
	if err != nil {
		m.FetchFailuresTotal.With(metric).Inc()
	}
}

// RecordBuild records a completed graph build.
func (m *CodelensMetrics) RecordBuild(duration time.Duration, nodes, links, unresolved int) {
	m.GraphBuildsTotal.Inc()
	m.GraphBuildDuration.Observe(duration.Seconds())
	m.GraphNodes.Set(float64(nodes))
	m.GraphLinks.Set(float64(links))
	m.UnresolvedSymbols.Add(float64(unresolved))
}

var (
	globalMetrics *CodelensMetrics
	metricsOnce   sync.Once
)

// Metrics returns the global metrics instance.
func Metrics() *CodelensMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewCodelensMetrics()
	})
	return globalMetrics
}
