package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/codelens/internal/layout"
	"github.com/efebarandurmaz/codelens/internal/view"
)

type viewOptions struct {
	repo     string
	dir      string
	expand   []string
	collapse []string
	ticks    int
	json     bool
}

func newViewCmd(configPath *string) *cobra.Command {
	var opts viewOptions
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Walk a repository graph through expand and collapse steps and print what is visible",
		Long: `Starts from the root nodes, expands every --expand id in order, then
collapses every --collapse id. "all" expands or collapses everything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(*configPath, opts.dir)
			if err != nil {
				return err
			}
			g, err := assembleOnce(ctx, cfg, opts.repo, false)
			if err != nil {
				return err
			}
			ctrl := view.NewController(g, layout.DefaultConfig())
			if err := walk(ctx, ctrl, opts); err != nil {
				return err
			}
			return printSnapshot(os.Stdout, ctrl.Snapshot(), opts.json)
		},
	}
	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository id")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Read metric payloads from this directory")
	cmd.Flags().StringSliceVar(&opts.expand, "expand", nil, "Node ids to expand, in order")
	cmd.Flags().StringSliceVar(&opts.collapse, "collapse", nil, "Node ids to collapse, in order")
	cmd.Flags().IntVar(&opts.ticks, "ticks", 300, "Layout ticks to run before printing")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the snapshot as JSON")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func walk(ctx context.Context, ctrl *view.Controller, opts viewOptions) error {
	for _, id := range opts.expand {
		if id == "all" {
			ctrl.ExpandAll()
			continue
		}
		if err := ctrl.Expand(id); err != nil {
			return fmt.Errorf("expand %s: %w", id, err)
		}
	}
	for _, id := range opts.collapse {
		if id == "all" {
			ctrl.CollapseAll()
			continue
		}
		if err := ctrl.Collapse(id); err != nil {
			return fmt.Errorf("collapse %s: %w", id, err)
		}
	}
	if opts.ticks > 0 {
		return ctrl.Tick(ctx, opts.ticks)
	}
	return nil
}

func printSnapshot(w io.Writer, snap view.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Expanded: %s\n", strings.Join(snap.Expanded, ", "))
	fmt.Fprintf(&b, "\nNodes (%d):\n", len(snap.Nodes))
	for _, n := range snap.Nodes {
		marker := " "
		if n.HasChildren {
			marker = "+"
		}
		fmt.Fprintf(&b, "  %s %-9s %-40s (%7.1f, %7.1f)\n", marker, n.Type, n.ID, n.X, n.Y)
	}
	fmt.Fprintf(&b, "\nLinks (%d):\n", len(snap.Links))
	for _, l := range snap.Links {
		fmt.Fprintf(&b, "  %s -> %s [%s x%d]\n", l.Source, l.Target, l.Type, l.Value)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
