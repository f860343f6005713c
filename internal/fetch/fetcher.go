package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/codelens/internal/metrics"
	"github.com/efebarandurmaz/codelens/internal/observability"
)

// FailureFunc is told about every metric that fell back to its empty default.
type FailureFunc func(repoID string, metric metrics.Name, err error)

// Fetcher requests every metric of a scan concurrently and normalizes the
// results into a bundle.
type Fetcher struct {
	src         Source
	concurrency int
	stats       *observability.CodelensMetrics
	logger      *slog.Logger
	onFailure   FailureFunc
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency bounds the number of in-flight requests (0 = one per metric).
func WithConcurrency(n int) Option {
	return func(f *Fetcher) { f.concurrency = n }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.CodelensMetrics) Option {
	return func(f *Fetcher) { f.stats = m }
}

// WithLogger sets the logger used for degraded metrics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// OnFailure registers a callback for metrics that fell back to defaults.
func OnFailure(fn FailureFunc) Option {
	return func(f *Fetcher) { f.onFailure = fn }
}

// New creates a Fetcher over src.
func New(src Source, opts ...Option) *Fetcher {
	f := &Fetcher{src: src, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type outcome struct {
	raw []byte
	err error
}

// FetchBundle requests every metric for repoID and waits for all of them to
// settle. A failed or undecodable metric keeps its empty default and is
// listed in Bundle.Missing; only cancellation of ctx is returned as an error.
func (f *Fetcher) FetchBundle(ctx context.Context, repoID string) (*metrics.Bundle, error) {
	names := metrics.All()
	results := make([]outcome, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			results[i] = f.fetchOne(gctx, repoID, name)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := metrics.NewBundle(repoID)
	for i, name := range names {
		err := results[i].err
		if err == nil {
			err = b.Decode(name, results[i].raw)
		}
		if err != nil {
			b.MarkMissing(name)
			f.logger.Warn("Metric unavailable, using empty default",
				"repo", repoID, "metric", string(name), "error", err)
			if f.onFailure != nil {
				f.onFailure(repoID, name, err)
			}
		}
	}
	return b, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, repoID string, name metrics.Name) outcome {
	ctx, span := observability.StartFetchSpan(ctx, repoID, string(name))
	defer span.End()

	start := time.Now()
	raw, err := f.src.Fetch(ctx, repoID, name)
	elapsed := time.Since(start)

	status := http.StatusOK
	var se *StatusError
	switch {
	case errors.As(err, &se):
		status = se.Code
	case err != nil:
		status = 0
	}
	observability.RecordFetchResult(span, status, len(raw), elapsed, err)
	if f.stats != nil {
		f.stats.RecordFetch(string(name), elapsed, err)
	}
	return outcome{raw: raw, err: err}
}
