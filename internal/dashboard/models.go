package dashboard

import "time"

// BuildStatus represents the state of a graph build.
type BuildStatus string

const (
	StatusRunning   BuildStatus = "running"
	StatusCompleted BuildStatus = "completed"
	StatusFailed    BuildStatus = "failed"
)

// BuildRun records one graph assembly for a repository.
type BuildRun struct {
	ID          string        `json:"id"`
	RepoID      string        `json:"repo_id"`
	Status      BuildStatus   `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
	Nodes       int           `json:"nodes"`
	Links       int           `json:"links"`
	Unresolved  int           `json:"unresolved"`
	Missing     []string      `json:"missing,omitempty"`
}

// DashboardStats holds aggregate statistics.
type DashboardStats struct {
	TotalBuilds     int     `json:"total_builds"`
	CompletedBuilds int     `json:"completed_builds"`
	FailedBuilds    int     `json:"failed_builds"`
	Repos           int     `json:"repos"`
	ActiveViews     int     `json:"active_views"`
	MetricFailures  int     `json:"metric_failures"`
	AvgDuration     float64 `json:"avg_duration_seconds"`
	SuccessRate     float64 `json:"success_rate"`
}

// Event types broadcast over SSE.
const (
	EventConnected    = "connected"
	EventGraphBuilt   = "graph.built"
	EventBuildFailed  = "graph.failed"
	EventMetricFailed = "metric.failed"
	EventViewUpdated  = "view.updated"
	EventViewClosed   = "view.closed"
)

// Event represents a real-time dashboard event.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RepoID    string    `json:"repo_id,omitempty"`
	ViewID    string    `json:"view_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// LogEntry represents a log line attached to a repository.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RepoID    string    `json:"repo_id"`
	Metric    string    `json:"metric,omitempty"`
}
