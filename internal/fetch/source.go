// Package fetch retrieves the raw metric payloads of a repository scan.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/efebarandurmaz/codelens/internal/config"
	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// ErrStatus marks a non-2xx response from the analysis service.
var ErrStatus = errors.New("unexpected status")

// StatusError carries the HTTP status of a failed metric request.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Is lets errors.Is(err, ErrStatus) match any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Source yields the raw payload of one metric for one repository.
type Source interface {
	Fetch(ctx context.Context, repoID string, metric metrics.Name) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, repoID string, metric metrics.Name) ([]byte, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, repoID string, metric metrics.Name) ([]byte, error) {
	return f(ctx, repoID, metric)
}

// maxPayloadBytes bounds a single metric response.
const maxPayloadBytes = 256 << 20

// HTTPSource requests metrics from the analysis service.
type HTTPSource struct {
	baseURL      string
	pathTemplate string
	client       *http.Client
	retry        RetryConfig
}

// NewHTTPSource creates a source from configuration. A nil client uses
// http.DefaultClient.
func NewHTTPSource(cfg config.MetricsConfig, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	tmpl := cfg.PathTemplate
	if tmpl == "" {
		tmpl = "/api/repos/{repo}/metrics/{metric}"
	}
	return &HTTPSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pathTemplate: tmpl,
		client:       client,
		retry: RetryConfig{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			MaxDelay:   30 * time.Second,
			Timeout:    cfg.Timeout,
		},
	}
}

// URL returns the request URL for one metric.
func (s *HTTPSource) URL(repoID string, metric metrics.Name) string {
	path := strings.NewReplacer(
		"{repo}", url.PathEscape(repoID),
		"{metric}", url.PathEscape(string(metric)),
	).Replace(s.pathTemplate)
	return s.baseURL + path
}

// Fetch issues GET requests for the metric, retrying transient failures
// when configured to.
func (s *HTTPSource) Fetch(ctx context.Context, repoID string, metric metrics.Name) ([]byte, error) {
	target := s.URL(repoID, metric)
	return withRetry(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting %s: %w", metric, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{Code: resp.StatusCode, URL: target}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", metric, err)
		}
		return body, nil
	})
}

// DirSource reads payloads saved as <root>/<repo>/<metric>.json, falling back
// to <root>/<metric>.json for a single-repository directory.
type DirSource struct {
	Root string
}

// Fetch reads the metric file for a repository.
func (s DirSource) Fetch(ctx context.Context, repoID string, metric metrics.Name) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := string(metric) + ".json"
	candidates := []string{filepath.Join(s.Root, name)}
	if repoID != "" && repoID == filepath.Base(repoID) {
		candidates = append([]string{filepath.Join(s.Root, repoID, name)}, candidates...)
	}

	var lastErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reading %s: %w", metric, lastErr)
}
