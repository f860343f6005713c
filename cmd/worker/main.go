package main

import (
	"context"
	"log/slog"
	"os"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/fetch"
	"github.com/efebarandurmaz/codelens/internal/graph"
	graphneo4j "github.com/efebarandurmaz/codelens/internal/graph/neo4j"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/secrets"
	"github.com/efebarandurmaz/codelens/internal/server"
	temporalmod "github.com/efebarandurmaz/codelens/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.SetupLogging(cfg.Log)
	ctx := context.Background()
	shutdown := server.NewShutdownHandler(nil)

	var src fetch.Source = fetch.NewHTTPSource(cfg.Metrics, nil)
	if cfg.Metrics.Dir != "" {
		src = fetch.DirSource{Root: cfg.Metrics.Dir}
	}
	fetcher := fetch.New(src,
		fetch.WithConcurrency(cfg.Metrics.Concurrency),
		fetch.WithMetrics(observability.Metrics()),
		fetch.WithLogger(logger),
	)

	var repo graph.Repository
	if cfg.Graph.URI != "" {
		sm, err := secrets.NewManager(&secrets.Config{Provider: cfg.Secrets.Provider, Path: cfg.Secrets.Path})
		if err != nil {
			logger.Error("Failed to set up secrets", "error", err)
			os.Exit(1)
		}
		store, err := graphneo4j.NewNeo4j(ctx, cfg.Graph.URI,
			sm.Resolve(ctx, cfg.Graph.Username, secrets.SecretGraphUsername),
			sm.Resolve(ctx, cfg.Graph.Password, secrets.SecretGraphPassword))
		if err != nil {
			logger.Error("Failed to connect to graph store", "error", err)
			os.Exit(1)
		}
		repo = store
		shutdown.Register(server.GraphStoreShutdownHook(store.Close))
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Fetcher:    fetcher,
		Repository: repo,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		logger.Error("Failed to create temporal client", "error", err)
		os.Exit(1)
	}
	shutdown.Register(server.ShutdownHook{
		Name:     "temporal-client",
		Priority: server.PriorityStore,
		Fn:       func(context.Context) error { c.Close(); return nil },
	})

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		logger.Error("Failed to start worker", "error", err)
		os.Exit(1)
	}

	shutdown.Register(server.TemporalWorkerShutdownHook(w.Stop))
	logger.Info("Worker started", "task_queue", cfg.Temporal.TaskQueue, "persist", repo != nil)

	shutdown.Start()
	shutdown.Wait()
	if err := shutdown.Err(); err != nil {
		logger.Error("Worker stopped with errors", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
