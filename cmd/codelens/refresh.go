package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	temporalmod "github.com/efebarandurmaz/codelens/internal/temporal"
)

func newRefreshCmd(configPath *string) *cobra.Command {
	var (
		repo     string
		interval time.Duration
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Start the background refresh workflow for a repository on the Temporal worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(*configPath, "")
			if err != nil {
				return err
			}

			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.Host,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
				ID:        temporalmod.WorkflowID(repo),
				TaskQueue: cfg.Temporal.TaskQueue,
			}, temporalmod.RefreshGraphWorkflow, temporalmod.RefreshInput{RepoID: repo, Interval: interval})
			if err != nil {
				return fmt.Errorf("starting refresh: %w", err)
			}
			fmt.Printf("Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
			if !wait || interval > 0 {
				return nil
			}

			var out temporalmod.RefreshOutput
			if err := run.Get(ctx, &out); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			fmt.Printf("Refreshed %s: %d nodes, %d links, %d files, stored=%t\n", repo, out.Nodes, out.Links, out.Files, out.Stored)
			if len(out.Missing) > 0 {
				fmt.Printf("Missing metrics: %v\n", out.Missing)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Repository id")
	cmd.Flags().DurationVar(&interval, "every", 0, "Keep refreshing at this interval")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for a single refresh to finish")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
