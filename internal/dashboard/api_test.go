package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
	"github.com/efebarandurmaz/codelens/internal/qualitygate"
	"github.com/efebarandurmaz/codelens/internal/server"
)

type stubBuilder struct {
	graph   *depgraph.Graph
	err     error
	refresh bool
}

func (s *stubBuilder) Build(ctx context.Context, repoID string, refresh bool) (*depgraph.Graph, error) {
	s.refresh = refresh
	if s.err != nil {
		return nil, s.err
	}
	return s.graph, nil
}

func testGraph(t *testing.T) *depgraph.Graph {
	t.Helper()
	b := metrics.NewBundle("repo-1")
	payloads := map[metrics.Name]string{
		metrics.MetricFiles:          `["src/a.ts", "src/b.ts", "main.ts"]`,
		metrics.MetricClassesPerFile: `{"result": {"src/a.ts": {"A": [{"key": {"name": "run"}}]}}}`,
		metrics.MetricDependencies:   `{"graph": {"main.ts": ["src/a.ts"], "src/a.ts": ["src/b.ts"]}}`,
	}
	for name, raw := range payloads {
		if err := b.Decode(name, []byte(raw)); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
	}
	return depgraph.Assemble(b, depgraph.Options{})
}

func newTestServer(t *testing.T, builder GraphBuilder, mutate func(*config.DashboardConfig, *Deps)) (*Dashboard, http.Handler) {
	t.Helper()
	cfg := config.DashboardConfig{LayoutTicks: 5, MaxViews: 8}
	deps := Deps{Builder: builder}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	d := New(cfg)
	srv := d.Mount(deps)
	return d, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) viewResponse {
	t.Helper()
	var v viewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Expected view JSON, got %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPI_GraphFormats(t *testing.T) {
	builder := &stubBuilder{graph: testGraph(t)}
	_, h := newTestServer(t, builder, nil)

	rec := do(t, h, http.MethodGet, "/api/repos/repo-1/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var g depgraph.Graph
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("Expected graph JSON: %v", err)
	}
	if len(g.Nodes) != len(builder.graph.Nodes) {
		t.Errorf("Expected %d nodes, got %d", len(builder.graph.Nodes), len(g.Nodes))
	}

	rec = do(t, h, http.MethodGet, "/api/repos/repo-1/graph?format=dot", "")
	if !strings.Contains(rec.Body.String(), "digraph codelens") {
		t.Errorf("Expected DOT output, got %q", rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/api/repos/repo-1/graph?format=mermaid&level=file", "")
	if !strings.HasPrefix(rec.Body.String(), "graph LR") {
		t.Errorf("Expected Mermaid output, got %q", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/repos/repo-1/graph?format=svg", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/repos/repo-1/graph?level=module", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown level, got %d", rec.Code)
	}
}

func TestAPI_GraphRefresh(t *testing.T) {
	builder := &stubBuilder{graph: testGraph(t)}
	_, h := newTestServer(t, builder, nil)

	do(t, h, http.MethodGet, "/api/repos/repo-1/graph?refresh=1", "")
	if !builder.refresh {
		t.Error("Expected refresh to be forwarded to the builder")
	}
	do(t, h, http.MethodGet, "/api/repos/repo-1/graph", "")
	if builder.refresh {
		t.Error("Expected refresh to default to false")
	}
}

func TestAPI_BuildErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("repository r: %w", pipeline.ErrEmptyScan), http.StatusUnprocessableEntity},
		{errors.New("connection refused"), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		_, h := newTestServer(t, &stubBuilder{err: tt.err}, nil)
		rec := do(t, h, http.MethodGet, "/api/repos/r/graph", "")
		if rec.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Errorf("Expected JSON error body, got %q", rec.Body.String())
		}
	}
}

func TestAPI_Stats(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)

	rec := do(t, h, http.MethodGet, "/api/repos/repo-1/stats", "")
	var body struct {
		RepoID string         `json:"repoId"`
		Stats  depgraph.Stats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected stats JSON: %v", err)
	}
	if body.RepoID != "repo-1" || body.Stats.FileCount != 3 {
		t.Errorf("Unexpected stats: %+v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/repos/repo-1/stats?format=text", "")
	if !strings.Contains(rec.Body.String(), "Code Graph Statistics") {
		t.Errorf("Expected text stats, got %q", rec.Body.String())
	}
}

func TestAPI_ViewLifecycle(t *testing.T) {
	d, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)

	rec := do(t, h, http.MethodPost, "/api/repos/repo-1/views", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	v := decodeView(t, rec)
	if v.ID == "" || v.RepoID != "repo-1" {
		t.Fatalf("Expected session id and repo, got %+v", v)
	}
	if len(v.Nodes) != 2 {
		t.Errorf("Expected roots main.ts and src, got %d nodes", len(v.Nodes))
	}
	base := "/api/views/" + v.ID

	rec = do(t, h, http.MethodPost, base+"/expand", `{"node": "src"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on expand, got %d: %s", rec.Code, rec.Body.String())
	}
	v = decodeView(t, rec)
	if len(v.Nodes) != 3 || len(v.Expanded) != 1 || v.Expanded[0] != "src" {
		t.Errorf("Expected src expanded with 3 visible nodes, got %+v", v)
	}
	if len(v.Links) != 2 {
		t.Errorf("Expected 2 visible dependency links, got %+v", v.Links)
	}
	if len(v.Enclosures) != 1 {
		t.Errorf("Expected an enclosure for src, got %+v", v.Enclosures)
	}

	rec = do(t, h, http.MethodPost, base+"/pin", `{"node": "main.ts", "x": 10, "y": -4}`)
	v = decodeView(t, rec)
	for _, n := range v.Nodes {
		if n.ID == "main.ts" && (!n.Pinned || n.X != 10 || n.Y != -4) {
			t.Errorf("Expected main.ts pinned at (10,-4), got %+v", n)
		}
	}

	if rec := do(t, h, http.MethodGet, base+"?ticks=3", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 on get, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, base+"?ticks=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad ticks, got %d", rec.Code)
	}

	if d.Server.Sessions().Len() != 1 {
		t.Errorf("Expected 1 open session, got %d", d.Server.Sessions().Len())
	}
	if rec := do(t, h, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestAPI_ViewTransitionErrors(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)
	v := decodeView(t, do(t, h, http.MethodPost, "/api/repos/repo-1/views", ""))
	base := "/api/views/" + v.ID

	tests := []struct {
		path, body string
		want       int
	}{
		{"/collapse", `{"node": "src"}`, http.StatusConflict},             // not expanded
		{"/expand", `{"node": "main.ts"}`, http.StatusUnprocessableEntity}, // no children
		{"/expand", `{"node": "nope.ts"}`, http.StatusNotFound},
		{"/expand", `{"node": "src/a.ts"}`, http.StatusConflict}, // not visible yet
		{"/expand", `{not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, base+tt.path, tt.body)
		if rec.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d: %s", tt.path, tt.body, tt.want, rec.Code, rec.Body.String())
		}
	}

	if rec := do(t, h, http.MethodPost, "/api/views/unknown/expand", `{"node": "src"}`); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown view, got %d", rec.Code)
	}
}

func TestAPI_ExpandAllCollapseAll(t *testing.T) {
	g := testGraph(t)
	_, h := newTestServer(t, &stubBuilder{graph: g}, nil)
	v := decodeView(t, do(t, h, http.MethodPost, "/api/repos/repo-1/views", ""))

	v = decodeView(t, do(t, h, http.MethodPost, "/api/views/"+v.ID+"/expand-all", ""))
	// Every leaf is visible once every container is expanded.
	leaves := 0
	for _, n := range g.Nodes {
		if !n.IsContainer() {
			leaves++
		}
	}
	if len(v.Nodes) != leaves {
		t.Errorf("Expected %d leaves visible, got %d", leaves, len(v.Nodes))
	}

	v = decodeView(t, do(t, h, http.MethodPost, "/api/views/"+v.ID+"/collapse-all", ""))
	if len(v.Nodes) != 2 || len(v.Expanded) != 0 {
		t.Errorf("Expected roots only after collapse-all, got %+v", v.Nodes)
	}
}

func TestAPI_ViewEviction(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, func(c *config.DashboardConfig, _ *Deps) {
		c.MaxViews = 1
	})
	first := decodeView(t, do(t, h, http.MethodPost, "/api/repos/repo-1/views", ""))
	time.Sleep(time.Millisecond)
	second := decodeView(t, do(t, h, http.MethodPost, "/api/repos/repo-1/views", ""))

	if rec := do(t, h, http.MethodGet, "/api/views/"+first.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected first view evicted, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/views/"+second.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected second view alive, got %d", rec.Code)
	}
}

func TestAPI_Neighbors(t *testing.T) {
	g := testGraph(t)
	_, h := newTestServer(t, &stubBuilder{graph: g}, nil)

	rec := do(t, h, http.MethodGet, "/api/repos/repo-1/neighbors?node=src/a.ts", "")
	var got []graph.Neighbor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Expected neighbors JSON, got %q", rec.Body.String())
	}
	if len(got) != 2 {
		t.Errorf("Expected main.ts and src/b.ts, got %+v", got)
	}

	if rec := do(t, h, http.MethodGet, "/api/repos/repo-1/neighbors", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without node, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/repos/repo-1/neighbors?node=zzz", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown node, got %d", rec.Code)
	}
}

func TestAPI_NeighborsFromRepository(t *testing.T) {
	g := testGraph(t)
	repo := graph.NewMemoryRepository()
	if err := repo.StoreGraph(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	builder := &stubBuilder{err: errors.New("builder should not be called")}
	_, h := newTestServer(t, builder, func(_ *config.DashboardConfig, d *Deps) { d.Graphs = repo })

	rec := do(t, h, http.MethodGet, "/api/repos/repo-1/neighbors?node=main.ts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from stored graph, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_NeighborsUnknownNodeWithRepository(t *testing.T) {
	g := testGraph(t)
	repo := graph.NewMemoryRepository()
	if err := repo.StoreGraph(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	_, h := newTestServer(t, &stubBuilder{graph: g}, func(_ *config.DashboardConfig, d *Deps) { d.Graphs = repo })

	if rec := do(t, h, http.MethodGet, "/api/repos/repo-1/neighbors?node=zzz", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown node, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_Gates(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)

	rec := do(t, h, http.MethodGet, "/api/repos/repo-1/gates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result qualitygate.PipelineResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Expected gate result JSON: %v", err)
	}
	if len(result.Gates) == 0 {
		t.Error("Expected gate results")
	}

	// Every metric but the three decoded ones is missing.
	strict := &qualitygate.GateConfig{MaxMissing: 0, MissingSeverity: "critical", MaxUnresolved: -1, MaxCycles: -1, MaxFanOut: -1, MaxAmbiguous: -1}
	_, h = newTestServer(t, &stubBuilder{graph: testGraph(t)}, func(_ *config.DashboardConfig, d *Deps) { d.Gates = strict })
	rec = do(t, h, http.MethodGet, "/api/repos/repo-1/gates?format=text", "")
	if !strings.Contains(rec.Body.String(), "Result: FAILED") {
		t.Errorf("Expected failing report, got %q", rec.Body.String())
	}
}

func TestAPI_BuildsLogsSummary(t *testing.T) {
	d, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)
	d.Emitter.GraphBuilt("repo-1", testGraph(t), time.Second)
	d.Emitter.MetricFailed("repo-1", metrics.MetricFunctionCoupling, errors.New("boom"))
	do(t, h, http.MethodPost, "/api/repos/repo-1/views", "")

	var builds []BuildRun
	json.Unmarshal(do(t, h, http.MethodGet, "/api/builds?repo=repo-1", "").Body.Bytes(), &builds)
	if len(builds) != 1 {
		t.Fatalf("Expected 1 build, got %d", len(builds))
	}
	if rec := do(t, h, http.MethodGet, "/api/builds/"+builds[0].ID, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected build detail, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/builds/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown build, got %d", rec.Code)
	}

	var logs []LogEntry
	json.Unmarshal(do(t, h, http.MethodGet, "/api/logs?repo=repo-1", "").Body.Bytes(), &logs)
	if len(logs) != 1 || logs[0].Metric != "function-coupling" {
		t.Errorf("Expected one metric log, got %+v", logs)
	}

	var summary DashboardStats
	json.Unmarshal(do(t, h, http.MethodGet, "/api/summary", "").Body.Bytes(), &summary)
	if summary.TotalBuilds != 1 || summary.ActiveViews != 1 || summary.MetricFailures != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{graph: testGraph(t)}, nil)
	v := decodeView(t, do(t, h, http.MethodPost, "/api/repos/repo-1/views", ""))
	do(t, h, http.MethodPost, "/api/views/"+v.ID+"/expand", `{"node": "src"}`)

	body := do(t, h, http.MethodGet, "/metrics", "").Body.String()
	if !strings.Contains(body, "codelens_view_transitions_total 1") {
		t.Errorf("Expected one view transition, got:\n%s", body)
	}
	if !strings.Contains(body, "codelens_view_sessions 1") {
		t.Errorf("Expected one view session, got:\n%s", body)
	}
}

func TestAPI_Health(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{}, nil)
	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("Expected plain ok health, got %d %s", rec.Code, rec.Body.String())
	}

	hs := server.NewHealthServer(&server.HealthConfig{Version: "test"})
	hs.RegisterCheck("graph_store", server.GraphStoreHealthChecker(func(ctx context.Context) error {
		return errors.New("down")
	}))
	_, h = newTestServer(t, &stubBuilder{}, func(_ *config.DashboardConfig, d *Deps) { d.Health = hs })

	rec = do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with failing check, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/livez", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected live probe 200, got %d", rec.Code)
	}
}

func TestAPI_StaticAndCORS(t *testing.T) {
	_, h := newTestServer(t, &stubBuilder{}, nil)

	rec := do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>codelens</title>") {
		t.Errorf("Expected index page, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodOptions, "/api/views/x/expand", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS preflight, got %d %v", rec.Code, rec.Header())
	}
}

func TestAPI_EventStream(t *testing.T) {
	d, h := newTestServer(t, &stubBuilder{}, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Expected event stream, got %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		t.Helper()
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		// Skip the data line and the blank separator.
		reader.ReadString('\n')
		reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	if got := readEvent(); got != "event: connected" {
		t.Fatalf("Expected connected event, got %q", got)
	}

	for d.Hub.Count() == 0 {
		time.Sleep(time.Millisecond)
	}
	d.Emitter.MetricFailed("repo-1", metrics.MetricFiles, errors.New("boom"))
	if got := readEvent(); got != "event: metric.failed" {
		t.Errorf("Expected metric.failed event, got %q", got)
	}
}
