package dashboard

import (
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
)

// Emitter records pipeline and view events in the store and forwards them to
// SSE subscribers. It is safe to use from multiple goroutines.
type Emitter struct {
	store *Store
	hub   *Hub
	now   func() time.Time
}

// NewEmitter creates a new event emitter.
func NewEmitter(store *Store, hub *Hub) *Emitter {
	return &Emitter{store: store, hub: hub, now: time.Now}
}

// GraphBuilt records a completed build and broadcasts "graph.built".
func (e *Emitter) GraphBuilt(repoID string, g *depgraph.Graph, elapsed time.Duration) {
	now := e.now()
	run := &BuildRun{
		ID:          uuid.NewString(),
		RepoID:      repoID,
		Status:      StatusCompleted,
		StartedAt:   now.Add(-elapsed),
		CompletedAt: &now,
		Duration:    elapsed,
		Nodes:       len(g.Nodes),
		Links:       len(g.Links),
		Unresolved:  g.Stats.UnresolvedSymbols,
		Missing:     g.Missing,
	}
	e.store.AddBuild(run)
	e.hub.Broadcast(&Event{Type: EventGraphBuilt, Timestamp: now, RepoID: repoID, Data: run})
}

// BuildFailed records a failed build and broadcasts "graph.failed".
func (e *Emitter) BuildFailed(repoID string, err error) {
	now := e.now()
	run := &BuildRun{
		ID:          uuid.NewString(),
		RepoID:      repoID,
		Status:      StatusFailed,
		StartedAt:   now,
		CompletedAt: &now,
	}
	if err != nil {
		run.Error = err.Error()
	}
	e.store.AddBuild(run)
	e.hub.Broadcast(&Event{Type: EventBuildFailed, Timestamp: now, RepoID: repoID, Data: run})
}

// MetricFailed logs a metric that fell back to its empty default and
// broadcasts "metric.failed". Its signature matches fetch.FailureFunc.
func (e *Emitter) MetricFailed(repoID string, metric metrics.Name, err error) {
	entry := LogEntry{
		Timestamp: e.now(),
		Level:     "warn",
		Message:   "metric unavailable, using empty default",
		RepoID:    repoID,
		Metric:    string(metric),
	}
	if err != nil {
		entry.Message += ": " + err.Error()
	}
	e.store.AddLog(entry)
	e.hub.Broadcast(&Event{Type: EventMetricFailed, Timestamp: entry.Timestamp, RepoID: repoID, Data: entry})
}

// viewUpdate is the payload of "view.updated"; clients refetch the snapshot.
type viewUpdate struct {
	Op       string   `json:"op"`
	Node     string   `json:"node,omitempty"`
	Visible  int      `json:"visible"`
	Links    int      `json:"links"`
	Expanded []string `json:"expanded"`
}

// ViewUpdated broadcasts a view transition.
func (e *Emitter) ViewUpdated(viewID, repoID, op, node string, visible, links int, expanded []string) {
	e.hub.Broadcast(&Event{
		Type:      EventViewUpdated,
		Timestamp: e.now(),
		RepoID:    repoID,
		ViewID:    viewID,
		Data:      viewUpdate{Op: op, Node: node, Visible: visible, Links: links, Expanded: expanded},
	})
}

// ViewClosed broadcasts that a session was discarded or evicted.
func (e *Emitter) ViewClosed(viewID, repoID string) {
	e.hub.Broadcast(&Event{Type: EventViewClosed, Timestamp: e.now(), RepoID: repoID, ViewID: viewID})
}

var _ pipeline.Observer = (*Emitter)(nil)
