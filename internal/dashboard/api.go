package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
	"github.com/efebarandurmaz/codelens/internal/layout"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
	"github.com/efebarandurmaz/codelens/internal/qualitygate"
	"github.com/efebarandurmaz/codelens/internal/server"
	"github.com/efebarandurmaz/codelens/internal/view"
)

//go:embed static
var staticFS embed.FS

// maxTicks bounds the layout work a single request can ask for.
const maxTicks = 2000

// GraphBuilder yields the assembled graph of a repository.
type GraphBuilder interface {
	Build(ctx context.Context, repoID string, refresh bool) (*depgraph.Graph, error)
}

// Deps are the collaborators the HTTP API serves from.
type Deps struct {
	Builder GraphBuilder
	Graphs  graph.Repository        // optional; neighbor queries fall back to the built graph
	Metrics *observability.CodelensMetrics
	Health  *server.HealthServer    // optional
	Gates   *qualitygate.GateConfig // nil uses qualitygate.DefaultConfig
	Layout  layout.Config
}

// Server is the dashboard HTTP server.
type Server struct {
	config   config.DashboardConfig
	deps     Deps
	store    *Store
	hub      *Hub
	emitter  *Emitter
	sessions *Sessions
	router   *mux.Router
	server   *http.Server
}

// NewServer creates a new dashboard server.
func NewServer(cfg config.DashboardConfig, store *Store, hub *Hub, emitter *Emitter, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewCodelensMetrics()
	}
	s := &Server{
		config:   cfg,
		deps:     deps,
		store:    store,
		hub:      hub,
		emitter:  emitter,
		sessions: NewSessions(cfg.MaxViews),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events streams for the lifetime of the page.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/repos/{repo}/graph", s.handleGraph).Methods(http.MethodGet)
	api.HandleFunc("/repos/{repo}/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/repos/{repo}/neighbors", s.handleNeighbors).Methods(http.MethodGet)
	api.HandleFunc("/repos/{repo}/gates", s.handleGates).Methods(http.MethodGet)
	api.HandleFunc("/repos/{repo}/views", s.handleCreateView).Methods(http.MethodPost)

	api.HandleFunc("/views/{view}", s.handleGetView).Methods(http.MethodGet)
	api.HandleFunc("/views/{view}", s.handleDeleteView).Methods(http.MethodDelete)
	api.HandleFunc("/views/{view}/expand", s.viewOp("expand", expandOp)).Methods(http.MethodPost)
	api.HandleFunc("/views/{view}/collapse", s.viewOp("collapse", collapseOp)).Methods(http.MethodPost)
	api.HandleFunc("/views/{view}/expand-all", s.viewOp("expand-all", expandAllOp)).Methods(http.MethodPost)
	api.HandleFunc("/views/{view}/collapse-all", s.viewOp("collapse-all", collapseAllOp)).Methods(http.MethodPost)
	api.HandleFunc("/views/{view}/pin", s.viewOp("pin", pinOp)).Methods(http.MethodPost)
	api.HandleFunc("/views/{view}/unpin", s.viewOp("unpin", unpinOp)).Methods(http.MethodPost)

	api.HandleFunc("/builds", s.handleBuilds).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}", s.handleBuild).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleSSE).Methods(http.MethodGet)

	if s.deps.Health != nil {
		h := s.deps.Health.Handler()
		api.Handle("/health", http.StripPrefix("/api", h)).Methods(http.MethodGet)
		for _, p := range []string{"/healthz", "/readyz", "/livez"} {
			r.Handle(p, h).Methods(http.MethodGet)
		}
	} else {
		api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	}
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		slog.Error("Failed to access static files", "error", err)
		return
	}
	r.PathPrefix("/").Handler(http.FileServer(http.FS(static))).Methods(http.MethodGet)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(loggingMiddleware(s.router))
}

// Sessions exposes the view session table.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Start begins serving the dashboard.
func (s *Server) Start() error {
	slog.Info("Starting dashboard server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping dashboard server")
	// Event streams never finish on their own.
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// handleGraph handles GET /api/repos/{repo}/graph?format=json|dot|mermaid&level=&refresh=1
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := s.buildGraph(w, r)
	if !ok {
		return
	}

	level, err := parseLevel(r.URL.Query().Get("level"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		respondJSON(w, http.StatusOK, g)
	case "dot":
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		io.WriteString(w, depgraph.ExportDOT(g, level))
	case "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, depgraph.ExportMermaid(g, level))
	default:
		respondError(w, http.StatusBadRequest, "unknown format "+strconv.Quote(format))
	}
}

// handleStats handles GET /api/repos/{repo}/stats[?format=text]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	g, ok := s.buildGraph(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, depgraph.FormatStats(g))
		return
	}
	respondJSON(w, http.StatusOK, struct {
		RepoID  string         `json:"repoId"`
		Stats   depgraph.Stats `json:"stats"`
		Missing []string       `json:"missing,omitempty"`
	}{g.RepoID, g.Stats, g.Missing})
}

// handleNeighbors handles GET /api/repos/{repo}/neighbors?node=ID
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	repoID := mux.Vars(r)["repo"]
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		respondError(w, http.StatusBadRequest, "node is required")
		return
	}

	// The repository answers without a build. An empty answer is ambiguous
	// between an isolated node and an unknown one, so the graph decides.
	var stored []graph.Neighbor
	if s.deps.Graphs != nil {
		neighbors, err := s.deps.Graphs.QueryNeighbors(r.Context(), repoID, nodeID)
		switch {
		case err == nil && len(neighbors) > 0:
			respondJSON(w, http.StatusOK, neighbors)
			return
		case err == nil:
			stored = []graph.Neighbor{}
		case !errors.Is(err, graph.ErrNotFound):
			respondErr(w, err)
			return
		}
	}

	g, ok := s.buildGraph(w, r)
	if !ok {
		return
	}
	if !g.Registry().Has(nodeID) {
		respondError(w, http.StatusNotFound, "unknown node "+strconv.Quote(nodeID))
		return
	}
	if stored != nil {
		respondJSON(w, http.StatusOK, stored)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(graph.Neighbors(g, nodeID)))
}

// handleGates handles GET /api/repos/{repo}/gates[?format=text]
func (s *Server) handleGates(w http.ResponseWriter, r *http.Request) {
	g, ok := s.buildGraph(w, r)
	if !ok {
		return
	}
	cfg := s.deps.Gates
	if cfg == nil {
		cfg = qualitygate.DefaultConfig()
	}
	result := qualitygate.BuildPipeline(cfg).Run(&qualitygate.EvalContext{Graph: g})
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, qualitygate.FormatReport(result))
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// viewResponse is a snapshot tagged with its session.
type viewResponse struct {
	ID     string `json:"id"`
	RepoID string `json:"repoId"`
	view.Snapshot
}

// handleCreateView handles POST /api/repos/{repo}/views[?refresh=1]
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	g, ok := s.buildGraph(w, r)
	if !ok {
		return
	}

	ctrl := view.NewController(g, s.deps.Layout)
	if err := ctrl.Tick(r.Context(), s.config.LayoutTicks); err != nil {
		respondErr(w, err)
		return
	}

	sess, evicted := s.sessions.Create(g.RepoID, ctrl)
	for _, old := range evicted {
		s.emitter.ViewClosed(old.ID, old.RepoID)
	}
	s.deps.Metrics.ViewSessions.Set(float64(s.sessions.Len()))

	respondJSON(w, http.StatusCreated, viewResponse{ID: sess.ID, RepoID: sess.RepoID, Snapshot: ctrl.Snapshot()})
}

// handleGetView handles GET /api/views/{view}?ticks=N
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["view"])
	if err != nil {
		respondErr(w, err)
		return
	}
	ticks, err := parseTicks(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.Controller.Tick(r.Context(), ticks); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewResponse{ID: sess.ID, RepoID: sess.RepoID, Snapshot: sess.Controller.Snapshot()})
}

// handleDeleteView handles DELETE /api/views/{view}
func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Delete(mux.Vars(r)["view"])
	if err != nil {
		respondErr(w, err)
		return
	}
	s.deps.Metrics.ViewSessions.Set(float64(s.sessions.Len()))
	s.emitter.ViewClosed(sess.ID, sess.RepoID)
	w.WriteHeader(http.StatusNoContent)
}

// nodeRequest is the body of the view transition endpoints.
type nodeRequest struct {
	Node string   `json:"node"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
}

type viewFunc func(c *view.Controller, req nodeRequest) error

func expandOp(c *view.Controller, req nodeRequest) error   { return c.Expand(req.Node) }
func collapseOp(c *view.Controller, req nodeRequest) error { return c.Collapse(req.Node) }
func unpinOp(c *view.Controller, req nodeRequest) error    { return c.Unpin(req.Node) }

func expandAllOp(c *view.Controller, _ nodeRequest) error {
	c.ExpandAll()
	return nil
}

func collapseAllOp(c *view.Controller, _ nodeRequest) error {
	c.CollapseAll()
	return nil
}

// pinOp pins at the given coordinates, or where the node currently is.
func pinOp(c *view.Controller, req nodeRequest) error {
	p, _ := c.Position(req.Node)
	if req.X != nil {
		p.X = *req.X
	}
	if req.Y != nil {
		p.Y = *req.Y
	}
	return c.Pin(req.Node, p.X, p.Y)
}

// viewOp wraps a controller transition: decode, apply, settle the layout and
// answer with the new snapshot.
func (s *Server) viewOp(op string, fn viewFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewID := mux.Vars(r)["view"]
		sess, err := s.sessions.Get(viewID)
		if err != nil {
			respondErr(w, err)
			return
		}

		var req nodeRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
		}
		ticks, err := parseTicks(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, span := observability.StartViewSpan(r.Context(), viewID, op, req.Node)
		defer span.End()

		if err := fn(sess.Controller, req); err != nil {
			observability.RecordError(span, err)
			respondErr(w, err)
			return
		}
		s.deps.Metrics.ViewTransitionsTotal.Inc()

		if ticks == 0 {
			ticks = s.config.LayoutTicks
		}
		if err := sess.Controller.Tick(ctx, ticks); err != nil {
			respondErr(w, err)
			return
		}

		snap := sess.Controller.Snapshot()
		observability.RecordViewResult(span, len(snap.Nodes), len(snap.Links))
		s.emitter.ViewUpdated(sess.ID, sess.RepoID, op, req.Node, len(snap.Nodes), len(snap.Links), snap.Expanded)
		respondJSON(w, http.StatusOK, viewResponse{ID: sess.ID, RepoID: sess.RepoID, Snapshot: snap})
	}
}

// handleBuilds handles GET /api/builds[?repo=]
func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.ListBuilds(r.URL.Query().Get("repo")))
}

// handleBuild handles GET /api/builds/{id}
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	run, ok := s.store.GetBuild(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "build not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleLogs handles GET /api/logs[?repo=&limit=]
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondJSON(w, http.StatusOK, nonNil(s.store.GetLogs(r.URL.Query().Get("repo"), limit)))
}

// handleSummary handles GET /api/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats := s.store.GetStats()
	stats.ActiveViews = s.sessions.Len()
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleSSE handles GET /api/events (Server-Sent Events)
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	client, err := NewClient(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.Register(client)
	defer s.hub.Unregister(client)
	slog.Debug("SSE client connected", "clients", s.hub.Count())

	data, _ := json.Marshal(&Event{Type: EventConnected, Timestamp: time.Now()})
	client.send(EventConnected, data)

	go client.KeepAlive(30 * time.Second)

	select {
	case <-r.Context().Done():
	case <-client.done:
	}
	slog.Debug("SSE client disconnected")
}

// buildGraph builds (or fetches from cache) the graph named by the {repo}
// route variable and writes the error response on failure.
func (s *Server) buildGraph(w http.ResponseWriter, r *http.Request) (*depgraph.Graph, bool) {
	repoID := mux.Vars(r)["repo"]
	refresh := parseBool(r.URL.Query().Get("refresh"))
	g, err := s.deps.Builder.Build(r.Context(), repoID, refresh)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return g, true
}

func parseLevel(v string) (depgraph.Level, error) {
	switch l := depgraph.Level(v); l {
	case "":
		return depgraph.LevelFile, nil
	case depgraph.LevelMethod, depgraph.LevelFunction, depgraph.LevelClass, depgraph.LevelFile:
		return l, nil
	}
	return "", fmt.Errorf("unknown level %q", v)
}

func parseTicks(r *http.Request) (int, error) {
	v := r.URL.Query().Get("ticks")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid ticks %q", v)
	}
	return min(n, maxTicks), nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognized
// came from the analysis service or the graph store.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrViewNotFound),
		errors.Is(err, view.ErrUnknownNode),
		errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, view.ErrNotExpanded),
		errors.Is(err, view.ErrNotVisible):
		return http.StatusConflict
	case errors.Is(err, view.ErrNoChildren),
		errors.Is(err, pipeline.ErrEmptyScan):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
