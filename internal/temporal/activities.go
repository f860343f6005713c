package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
)

const errTypeEmptyScan = "EmptyScan"

var errNoDependencies = errors.New("activity dependencies not configured")

// AssembleResult is the serializable result of graph assembly. The graph
// travels as JSON so the registry is rebuilt on the other side.
type AssembleResult struct {
	GraphJSON  string
	Nodes      int
	Links      int
	Files      int
	Unresolved int
	Missing    []string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Fetcher    pipeline.BundleFetcher
	Repository graph.Repository // optional
	Assemble   depgraph.Options
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// FetchMetricsActivity fetches every metric payload of a repository. A
// repository without any scan data fails without retry.
func FetchMetricsActivity(ctx context.Context, repoID string) (*metrics.Bundle, error) {
	if deps == nil || deps.Fetcher == nil {
		return nil, errNoDependencies
	}
	bundle, err := deps.Fetcher.FetchBundle(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("fetching metrics for %s: %w", repoID, err)
	}
	if !bundle.HasScan() {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("repository %s: %v", repoID, pipeline.ErrEmptyScan), errTypeEmptyScan, nil)
	}
	if len(bundle.Missing) > 0 {
		activity.GetLogger(ctx).Warn("Metrics fell back to defaults", "repo", repoID, "missing", bundle.Missing)
	}
	return bundle, nil
}

// AssembleGraphActivity builds the hierarchical graph from a bundle.
func AssembleGraphActivity(ctx context.Context, bundle *metrics.Bundle) (AssembleResult, error) {
	var opts depgraph.Options
	if deps != nil {
		opts = deps.Assemble
	}

	_, span := observability.StartAssembleSpan(ctx, bundle.RepoID)
	defer span.End()

	g := depgraph.Assemble(bundle, opts)
	observability.RecordAssembleResult(span, len(g.Nodes), len(g.Links), g.Stats.UnresolvedSymbols, len(g.Missing))

	out, err := depgraph.ExportJSON(g)
	if err != nil {
		observability.RecordError(span, err)
		return AssembleResult{}, fmt.Errorf("marshal graph: %w", err)
	}
	return AssembleResult{
		GraphJSON:  string(out),
		Nodes:      len(g.Nodes),
		Links:      len(g.Links),
		Files:      g.Stats.FileCount,
		Unresolved: g.Stats.UnresolvedSymbols,
		Missing:    g.Missing,
	}, nil
}

// StoreGraphActivity persists an assembled graph. It reports false when no
// repository is configured.
func StoreGraphActivity(ctx context.Context, graphJSON string) (bool, error) {
	if deps == nil || deps.Repository == nil {
		return false, nil
	}
	var g depgraph.Graph
	if err := json.Unmarshal([]byte(graphJSON), &g); err != nil {
		return false, temporal.NewNonRetryableApplicationError("decode graph", "DecodeGraph", err)
	}

	ctx, span := observability.StartPersistSpan(ctx, g.RepoID, "store")
	defer span.End()
	if err := deps.Repository.StoreGraph(ctx, &g); err != nil {
		observability.RecordError(span, err)
		return false, fmt.Errorf("storing graph %s: %w", g.RepoID, err)
	}
	return true, nil
}
