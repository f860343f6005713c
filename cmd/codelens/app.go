package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/fetch"
	"github.com/efebarandurmaz/codelens/internal/graph"
	graphneo4j "github.com/efebarandurmaz/codelens/internal/graph/neo4j"
	"github.com/efebarandurmaz/codelens/internal/observability"
	"github.com/efebarandurmaz/codelens/internal/secrets"
)

// loadConfig reads the config file and applies the --dir override.
func loadConfig(path, dir string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		cfg.Metrics.Dir = dir
	}
	return cfg, nil
}

// newSource picks saved payload files when a directory is configured and the
// analysis service otherwise.
func newSource(cfg config.MetricsConfig) fetch.Source {
	if cfg.Dir != "" {
		return fetch.DirSource{Root: cfg.Dir}
	}
	return fetch.NewHTTPSource(cfg, &http.Client{Timeout: cfg.Timeout})
}

func newFetcher(cfg config.MetricsConfig, logger *slog.Logger, stats *observability.CodelensMetrics, onFailure fetch.FailureFunc) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithConcurrency(cfg.Concurrency),
		fetch.WithLogger(logger),
	}
	if stats != nil {
		opts = append(opts, fetch.WithMetrics(stats))
	}
	if onFailure != nil {
		opts = append(opts, fetch.OnFailure(onFailure))
	}
	return fetch.New(newSource(cfg), opts...)
}

// openGraphStore connects to Neo4j when a URI is configured. It returns nil
// without error when persistence is disabled. Credentials missing from the
// config are looked up in the secrets backend.
func openGraphStore(ctx context.Context, cfg *config.Config) (*graphneo4j.Neo4jRepository, error) {
	if cfg.Graph.URI == "" {
		return nil, nil
	}
	sm, err := secrets.NewManager(&secrets.Config{Provider: cfg.Secrets.Provider, Path: cfg.Secrets.Path})
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	username := sm.Resolve(ctx, cfg.Graph.Username, secrets.SecretGraphUsername)
	password := sm.Resolve(ctx, cfg.Graph.Password, secrets.SecretGraphPassword)

	repo, err := graphneo4j.NewNeo4j(ctx, cfg.Graph.URI, username, password)
	if err != nil {
		return nil, fmt.Errorf("connecting to graph store: %w", err)
	}
	return repo, nil
}

// asRepository avoids handing a typed nil to interface-typed options.
func asRepository(r *graphneo4j.Neo4jRepository) graph.Repository {
	if r == nil {
		return nil
	}
	return r
}

func initTracing(ctx context.Context, cfg config.TracingConfig) (*observability.TracerProvider, error) {
	tc := observability.DefaultTracingConfig()
	tc.ServiceVersion = version
	tc.OTLPEndpoint = cfg.OTLPEndpoint
	if cfg.ServiceName != "" {
		tc.ServiceName = cfg.ServiceName
	}
	if cfg.SampleRate > 0 {
		tc.SampleRate = cfg.SampleRate
	}
	return observability.InitTracing(ctx, tc)
}
