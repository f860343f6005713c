package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/graph"
	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/observability"
)

type stubFetcher struct {
	calls   int32
	files   []string
	err     error
	release chan struct{}
}

func (s *stubFetcher) FetchBundle(ctx context.Context, repoID string) (*metrics.Bundle, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	b := metrics.NewBundle(repoID)
	b.Files = s.files
	b.Dependencies = metrics.DependencyGraph{"src/a.ts": {"src/b.ts"}}
	b.MarkMissing(metrics.MetricClassCoupling)
	return b, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	built  []string
	failed []error
}

func (o *recordingObserver) GraphBuilt(repoID string, g *depgraph.Graph, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.built = append(o.built, repoID)
}

func (o *recordingObserver) BuildFailed(repoID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

type failingRepo struct{ graph.MemoryRepository }

func (failingRepo) StoreGraph(context.Context, *depgraph.Graph) error {
	return errors.New("database down")
}

func TestBuild_AssemblesAndCaches(t *testing.T) {
	f := &stubFetcher{files: []string{"src/a.ts", "src/b.ts"}}
	m := observability.NewCodelensMetrics()
	obs := &recordingObserver{}
	b := NewBuilder(f, WithMetrics(m), WithObserver(obs))

	g, err := b.Build(context.Background(), "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "r1", g.RepoID)
	assert.Equal(t, 3, g.Stats.TotalNodes, "src, a.ts, b.ts")
	assert.Equal(t, []string{"class-coupling"}, g.Missing)

	again, err := b.Build(context.Background(), "r1", false)
	require.NoError(t, err)
	assert.Same(t, g, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	assert.Equal(t, float64(1), m.GraphCacheHits.Value())
	assert.Equal(t, float64(1), m.GraphBuildsTotal.Value())
	assert.Equal(t, []string{"r1"}, obs.built)
}

func TestBuild_RefreshBypassesCache(t *testing.T) {
	f := &stubFetcher{files: []string{"a.ts"}}
	b := NewBuilder(f)

	_, err := b.Build(context.Background(), "r1", false)
	require.NoError(t, err)
	_, err = b.Build(context.Background(), "r1", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
}

func TestBuild_TTLExpiry(t *testing.T) {
	f := &stubFetcher{files: []string{"a.ts"}}
	b := NewBuilder(f, WithTTL(time.Minute))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	_, _ = b.Build(context.Background(), "r1", false)
	clock = clock.Add(30 * time.Second)
	_, _ = b.Build(context.Background(), "r1", false)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))

	clock = clock.Add(2 * time.Minute)
	_, _ = b.Build(context.Background(), "r1", false)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
}

func TestBuild_Invalidate(t *testing.T) {
	f := &stubFetcher{files: []string{"a.ts"}}
	b := NewBuilder(f)
	_, _ = b.Build(context.Background(), "r1", false)
	b.Invalidate("r1")

	_, ok := b.Cached("r1")
	assert.False(t, ok)
	_, _ = b.Build(context.Background(), "r1", false)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
}

func TestBuild_EmptyScan(t *testing.T) {
	obs := &recordingObserver{}
	m := observability.NewCodelensMetrics()
	b := NewBuilder(&stubFetcher{}, WithObserver(obs), WithMetrics(m))

	_, err := b.Build(context.Background(), "r1", false)
	require.ErrorIs(t, err, ErrEmptyScan)
	require.Len(t, obs.failed, 1)
	assert.ErrorIs(t, obs.failed[0], ErrEmptyScan)
	assert.Equal(t, float64(1), m.GraphBuildFailures.Value())

	_, ok := b.Cached("r1")
	assert.False(t, ok, "failed builds are not cached")
}

func TestBuild_FetchError(t *testing.T) {
	b := NewBuilder(&stubFetcher{err: context.Canceled})
	_, err := b.Build(context.Background(), "r1", false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_SharesConcurrentFetches(t *testing.T) {
	f := &stubFetcher{files: []string{"a.ts"}, release: make(chan struct{})}
	b := NewBuilder(f)

	var wg sync.WaitGroup
	results := make([]*depgraph.Graph, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := b.Build(context.Background(), "r1", true)
			assert.NoError(t, err)
			results[i] = g
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	for _, g := range results {
		assert.Same(t, results[0], g)
	}
}

func TestBuild_PersistsAndWarmStarts(t *testing.T) {
	repo := graph.NewMemoryRepository()
	f := &stubFetcher{files: []string{"src/a.ts", "src/b.ts"}}

	_, err := NewBuilder(f, WithRepository(repo)).Build(context.Background(), "r1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, repo.Repos())

	// A new builder with a cold cache serves the stored graph without fetching.
	cold := NewBuilder(f, WithRepository(repo))
	g, err := cold.Build(context.Background(), "r1", false)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestBuild_PersistFailureIsNotFatal(t *testing.T) {
	m := observability.NewCodelensMetrics()
	b := NewBuilder(&stubFetcher{files: []string{"a.ts"}}, WithRepository(&failingRepo{}), WithMetrics(m))

	g, err := b.Build(context.Background(), "r1", true)
	require.NoError(t, err)
	assert.NotNil(t, g)
	assert.Equal(t, float64(1), m.PersistFailuresTotal.Value())
}

func TestBuild_SharedBuildSurvivesFirstCallerCancel(t *testing.T) {
	f := &stubFetcher{files: []string{"src/a.ts", "src/b.ts"}, release: make(chan struct{})}
	b := NewBuilder(f)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := b.Build(ctx, "r1", false)
		first <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)

	type result struct {
		g   *depgraph.Graph
		err error
	}
	second := make(chan result, 1)
	go func() {
		g, err := b.Build(context.Background(), "r1", false)
		second <- result{g, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "r1", res.g.RepoID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}
