package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// RefreshInput holds the workflow parameters.
type RefreshInput struct {
	RepoID string
	// Interval re-runs the refresh as a new workflow run after sleeping.
	// Zero refreshes once.
	Interval time.Duration
}

// RefreshOutput summarizes the assembled graph.
type RefreshOutput struct {
	Nodes      int
	Links      int
	Files      int
	Unresolved int
	Missing    []string
	Stored     bool
}

// RefreshGraphWorkflow fetches the metric payloads of one repository,
// assembles its graph and persists it.
func RefreshGraphWorkflow(ctx workflow.Context, input RefreshInput) (*RefreshOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errTypeEmptyScan},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var bundle metrics.Bundle
	if err := workflow.ExecuteActivity(ctx, FetchMetricsActivity, input.RepoID).Get(ctx, &bundle); err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}

	var assembled AssembleResult
	if err := workflow.ExecuteActivity(ctx, AssembleGraphActivity, &bundle).Get(ctx, &assembled); err != nil {
		return nil, fmt.Errorf("assemble graph: %w", err)
	}

	var stored bool
	if err := workflow.ExecuteActivity(ctx, StoreGraphActivity, assembled.GraphJSON).Get(ctx, &stored); err != nil {
		return nil, fmt.Errorf("store graph: %w", err)
	}

	logger.Info("Refreshed graph", "repo", input.RepoID, "nodes", assembled.Nodes, "links", assembled.Links, "stored", stored)

	if input.Interval > 0 {
		if err := workflow.Sleep(ctx, input.Interval); err != nil {
			return nil, err
		}
		return nil, workflow.NewContinueAsNewError(ctx, RefreshGraphWorkflow, input)
	}

	return &RefreshOutput{
		Nodes:      assembled.Nodes,
		Links:      assembled.Links,
		Files:      assembled.Files,
		Unresolved: assembled.Unresolved,
		Missing:    assembled.Missing,
		Stored:     stored,
	}, nil
}
