// Package pipeline turns a repository id into an assembled code graph:
// fetch every metric, assemble, cache and optionally persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/observability"
)

// ErrEmptyScan is returned when a scan has no files and no class or function
// listings, which means the top-level scan result was missing or malformed.
var ErrEmptyScan = errors.New("scan result is empty")

// BundleFetcher yields the metric bundle of one repository scan.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, repoID string) (*metrics.Bundle, error)
}

// Observer is told about finished builds.
type Observer interface {
	GraphBuilt(repoID string, g *depgraph.Graph, elapsed time.Duration)
	BuildFailed(repoID string, err error)
}

type cacheEntry struct {
	graph   *depgraph.Graph
	builtAt time.Time
}

// Builder builds graphs and caches them per repository.
type Builder struct {
	fetcher  BundleFetcher
	repo     graph.Repository
	ttl      time.Duration
	assemble depgraph.Options
	stats    *observability.CodelensMetrics
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Builder.
type Option func(*Builder)

// WithRepository persists every built graph and serves stored graphs on a
// cold cache.
func WithRepository(r graph.Repository) Option {
	return func(b *Builder) { b.repo = r }
}

// WithTTL sets how long a built graph is served from cache (0 = until
// invalidated).
func WithTTL(d time.Duration) Option {
	return func(b *Builder) { b.ttl = d }
}

func WithObserver(o Observer) Option {
	return func(b *Builder) { b.observer = o }
}

func WithMetrics(m *observability.CodelensMetrics) Option {
	return func(b *Builder) { b.stats = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithAssembleOptions overrides graph assembly options such as the
// method classifier.
func WithAssembleOptions(o depgraph.Options) Option {
	return func(b *Builder) { b.assemble = o }
}

// NewBuilder creates a Builder over a bundle fetcher.
func NewBuilder(f BundleFetcher, opts ...Option) *Builder {
	b := &Builder{
		fetcher: f,
		logger:  slog.Default(),
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.assemble.Logger == nil {
		b.assemble.Logger = b.logger
	}
	return b
}

// Build returns the graph of repoID. Unless refresh is set, a cached graph
// younger than the TTL is returned as is. Concurrent builds of the same
// repository share one fetch, which keeps running when the caller that
// started it goes away.
func (b *Builder) Build(ctx context.Context, repoID string, refresh bool) (*depgraph.Graph, error) {
	if !refresh {
		if g, ok := b.cached(repoID); ok {
			if b.stats != nil {
				b.stats.GraphCacheHits.Inc()
			}
			return g, nil
		}
		if g, ok := b.loadStored(ctx, repoID); ok {
			return g, nil
		}
	}

	// The shared build outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := b.group.DoChan(repoID, func() (any, error) {
		return b.build(context.WithoutCancel(ctx), repoID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*depgraph.Graph), nil
	}
}

// Cached returns the cached graph of repoID regardless of its age.
func (b *Builder) Cached(repoID string) (*depgraph.Graph, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.cache[repoID]
	return e.graph, ok
}

// Invalidate drops the cached graph of repoID.
func (b *Builder) Invalidate(repoID string) {
	b.mu.Lock()
	delete(b.cache, repoID)
	b.mu.Unlock()
}

func (b *Builder) cached(repoID string) (*depgraph.Graph, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.cache[repoID]
	if !ok {
		return nil, false
	}
	if b.ttl > 0 && b.now().Sub(e.builtAt) > b.ttl {
		return nil, false
	}
	return e.graph, true
}

// loadStored serves a persisted graph only when nothing was ever cached for
// repoID, so an expired entry always triggers a fresh fetch.
func (b *Builder) loadStored(ctx context.Context, repoID string) (*depgraph.Graph, bool) {
	if b.repo == nil {
		return nil, false
	}
	if _, seen := b.Cached(repoID); seen {
		return nil, false
	}

	ctx, span := observability.StartPersistSpan(ctx, repoID, "load")
	defer span.End()
	g, err := b.repo.LoadGraph(ctx, repoID)
	if err != nil {
		if !errors.Is(err, graph.ErrNotFound) {
			observability.RecordError(span, err)
			b.logger.Warn("Failed to load stored graph", "repo", repoID, "error", err)
		}
		return nil, false
	}
	b.store(repoID, g)
	b.logger.Debug("Serving stored graph", "repo", repoID, "nodes", len(g.Nodes))
	return g, true
}

func (b *Builder) store(repoID string, g *depgraph.Graph) {
	b.mu.Lock()
	b.cache[repoID] = cacheEntry{graph: g, builtAt: b.now()}
	b.mu.Unlock()
}

func (b *Builder) build(ctx context.Context, repoID string) (*depgraph.Graph, error) {
	start := time.Now()
	ctx, span := observability.StartAssembleSpan(ctx, repoID)
	defer span.End()

	bundle, err := b.fetcher.FetchBundle(ctx, repoID)
	if err != nil {
		observability.RecordError(span, err)
		b.fail(repoID, err)
		return nil, fmt.Errorf("fetching metrics for %s: %w", repoID, err)
	}
	if !bundle.HasScan() {
		err := fmt.Errorf("repository %s: %w", repoID, ErrEmptyScan)
		observability.RecordError(span, err)
		b.fail(repoID, err)
		return nil, err
	}

	g := depgraph.Assemble(bundle, b.assemble)
	observability.RecordAssembleResult(span, len(g.Nodes), len(g.Links), g.Stats.UnresolvedSymbols, len(g.Missing))
	b.store(repoID, g)

	elapsed := time.Since(start)
	if b.stats != nil {
		b.stats.RecordBuild(elapsed, len(g.Nodes), len(g.Links), g.Stats.UnresolvedSymbols)
	}
	b.logger.Info("Assembled graph",
		"repo", repoID,
		"nodes", len(g.Nodes),
		"links", len(g.Links),
		"missing", g.Missing,
		"duration", elapsed,
	)

	b.persist(ctx, g)
	if b.observer != nil {
		b.observer.GraphBuilt(repoID, g, elapsed)
	}
	return g, nil
}

// persist failures are logged; the built graph is still served.
func (b *Builder) persist(ctx context.Context, g *depgraph.Graph) {
	if b.repo == nil {
		return
	}
	ctx, span := observability.StartPersistSpan(ctx, g.RepoID, "store")
	defer span.End()
	if err := b.repo.StoreGraph(ctx, g); err != nil {
		observability.RecordError(span, err)
		if b.stats != nil {
			b.stats.PersistFailuresTotal.Inc()
		}
		b.logger.Warn("Failed to persist graph", "repo", g.RepoID, "error", err)
	}
}

func (b *Builder) fail(repoID string, err error) {
	if b.stats != nil {
		b.stats.GraphBuildFailures.Inc()
	}
	b.logger.Error("Graph build failed", "repo", repoID, "error", err)
	if b.observer != nil {
		b.observer.BuildFailed(repoID, err)
	}
}
