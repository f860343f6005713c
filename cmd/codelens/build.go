package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
	"github.com/efebarandurmaz/codelens/internal/qualitygate"
	"github.com/efebarandurmaz/codelens/internal/snapshot"
)

type buildOptions struct {
	repo     string
	dir      string
	format   string
	level    string
	output   string
	persist  bool
	gates    bool
	snapshot string
	tag      string
}

func newBuildCmd(configPath *string) *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Fetch metrics, assemble the graph of one repository and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), *configPath, opts)
		},
	}
	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository id")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Read metric payloads from this directory")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, dot, mermaid or stats")
	cmd.Flags().StringVar(&opts.level, "level", "file", "Edge level for dot and mermaid: method, function, class or file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "Store the graph in the configured graph store")
	cmd.Flags().BoolVar(&opts.gates, "gates", false, "Check the graph against the configured quality gates and fail when they fail")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Also save the graph into the snapshot store at this directory")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "Tag for the saved snapshot")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// assembleOnce builds a repository graph without the dashboard's cache.
func assembleOnce(ctx context.Context, cfg *config.Config, repoID string, persist bool) (*depgraph.Graph, error) {
	logger := observability.SetupLogging(cfg.Log)

	fetcher := newFetcher(cfg.Metrics, logger, nil, nil)
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if persist {
		store, err := openGraphStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, fmt.Errorf("--persist needs graph.uri to be configured")
		}
		defer store.Close(context.WithoutCancel(ctx))
		opts = append(opts, pipeline.WithRepository(store))
	}
	return pipeline.NewBuilder(fetcher, opts...).Build(ctx, repoID, true)
}

func runBuild(ctx context.Context, configPath string, opts buildOptions) error {
	level, err := parseLevel(opts.level)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath, opts.dir)
	if err != nil {
		return err
	}
	g, err := assembleOnce(ctx, cfg, opts.repo, opts.persist)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeGraph(out, g, opts.format, level); err != nil {
		return err
	}
	if opts.snapshot != "" {
		store, err := snapshot.NewStore(opts.snapshot)
		if err != nil {
			return err
		}
		snap, err := store.Save(g, opts.tag)
		if err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Saved snapshot %s\n", snap.ID)
	}
	if opts.gates {
		return checkGates(os.Stderr, g, &cfg.Gates)
	}
	return nil
}

var errGatesFailed = errors.New("quality gates failed")

func checkGates(w io.Writer, g *depgraph.Graph, cfg *qualitygate.GateConfig) error {
	result := qualitygate.BuildPipeline(cfg).Run(&qualitygate.EvalContext{Graph: g})
	if _, err := io.WriteString(w, qualitygate.FormatReport(result)); err != nil {
		return err
	}
	if result.Status == qualitygate.GateFailed {
		return errGatesFailed
	}
	return nil
}

func writeGraph(w io.Writer, g *depgraph.Graph, format string, level depgraph.Level) error {
	switch format {
	case "json":
		data, err := depgraph.ExportJSON(g)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "dot":
		_, err := io.WriteString(w, depgraph.ExportDOT(g, level))
		return err
	case "mermaid":
		_, err := io.WriteString(w, depgraph.ExportMermaid(g, level))
		return err
	case "stats":
		_, err := io.WriteString(w, depgraph.FormatStats(g))
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

func parseLevel(v string) (depgraph.Level, error) {
	switch l := depgraph.Level(v); l {
	case depgraph.LevelMethod, depgraph.LevelFunction, depgraph.LevelClass, depgraph.LevelFile:
		return l, nil
	}
	return "", fmt.Errorf("unknown level %q", v)
}
