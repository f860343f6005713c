package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker.
func StartWorker(c client.Client, taskQueue string) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(RefreshGraphWorkflow)
	w.RegisterActivity(FetchMetricsActivity)
	w.RegisterActivity(AssembleGraphActivity)
	w.RegisterActivity(StoreGraphActivity)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// WorkflowID returns the id used for a repository's refresh workflow, so a
// second refresh of the same repository is rejected while one is running.
func WorkflowID(repoID string) string {
	return "refresh-" + repoID
}
