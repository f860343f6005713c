package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/codelens/internal/dashboard"
	"github.com/efebarandurmaz/codelens/internal/layout"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/pipeline"
	"github.com/efebarandurmaz/codelens/internal/server"
)

// maxHeapBytes is where the memory health check turns degraded.
const maxHeapBytes = 2 << 30

func newServeCmd(configPath *string) *cobra.Command {
	var (
		addr string
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, addr, dir)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides dashboard.listen_addr)")
	cmd.Flags().StringVar(&dir, "dir", "", "Read metric payloads from this directory instead of the analysis service")
	return cmd
}

func runServe(configPath, addr, dir string) error {
	cfg, err := loadConfig(configPath, dir)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Dashboard.ListenAddr = addr
	}
	logger := observability.SetupLogging(cfg.Log)

	ctx := context.Background()
	tp, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	gs := server.NewGracefulServer(&server.HealthConfig{Version: version}, server.DefaultShutdownConfig())
	gs.Register(server.TracingShutdownHook(tp.Shutdown))

	stats := observability.Metrics()
	d := dashboard.New(cfg.Dashboard)
	fetcher := newFetcher(cfg.Metrics, logger, stats, d.Emitter.MetricFailed)

	if cfg.Metrics.Dir != "" {
		gs.Health.RegisterCheck("metrics_dir", server.MetricsDirHealthChecker(cfg.Metrics.Dir))
	} else {
		gs.Health.RegisterCheck("metrics_service", server.MetricsServiceHealthChecker(cfg.Metrics.BaseURL, nil))
	}
	gs.Health.RegisterCheck("memory", server.MemoryHealthChecker(maxHeapBytes))

	opts := []pipeline.Option{
		pipeline.WithTTL(cfg.Dashboard.CacheTTL),
		pipeline.WithObserver(d.Emitter),
		pipeline.WithMetrics(stats),
		pipeline.WithLogger(logger),
	}
	store, err := openGraphStore(ctx, cfg)
	if err != nil {
		// Persistence is optional; keep serving from memory.
		logger.Warn("Graph store unavailable, graphs will not be persisted", "error", err)
	}
	if store != nil {
		opts = append(opts, pipeline.WithRepository(store))
		gs.Health.RegisterCheck("graph_store", server.GraphStoreHealthChecker(store.Ping))
		gs.Register(server.GraphStoreShutdownHook(store.Close))
	}
	builder := pipeline.NewBuilder(fetcher, opts...)

	srv := d.Mount(dashboard.Deps{
		Builder: builder,
		Graphs:  asRepository(store),
		Metrics: stats,
		Health:  gs.Health,
		Gates:   &cfg.Gates,
		Layout:  layout.DefaultConfig(),
	})
	gs.Register(
		server.HTTPServerShutdownHook("dashboard", srv.Stop),
		server.ViewSessionsShutdownHook(srv.Sessions().Clear),
	)

	if err := gs.Run(srv.Start); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}
