package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Default(t *testing.T) {
	warnings := Default().Validate()
	if len(warnings) != 0 {
		t.Errorf("default config should have no warnings, got %v", warnings)
	}
}

func TestValidate_NoSource(t *testing.T) {
	cfg := &Config{}
	if !hasWarning(cfg.Validate(), "neither metrics.base_url nor metrics.dir") {
		t.Error("expected warning about missing metric source")
	}

	cfg.Metrics.Dir = "./payloads"
	if hasWarning(cfg.Validate(), "neither metrics.base_url") {
		t.Error("directory source should satisfy the metric source check")
	}
}

func TestValidate_PathTemplate(t *testing.T) {
	cfg := Default()
	cfg.Metrics.PathTemplate = "/api/{repo}"
	if !hasWarning(cfg.Validate(), "{metric}") {
		t.Error("expected warning about missing {metric} placeholder")
	}
}

func TestValidate_SampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"half", 0.5, false},
		{"one", 1.0, false},
		{"negative", -0.1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Tracing.SampleRate = tt.rate
			if got := hasWarning(cfg.Validate(), "sample_rate"); got != tt.want {
				t.Errorf("sample_rate=%.1f: hasWarn=%v, want=%v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestValidate_NegativeCounts(t *testing.T) {
	cfg := Default()
	cfg.Metrics.MaxRetries = -1
	cfg.Metrics.Concurrency = -2
	cfg.Dashboard.LayoutTicks = -3
	warnings := cfg.Validate()
	for _, key := range []string{"max_retries", "concurrency", "layout_ticks"} {
		if !hasWarning(warnings, key) {
			t.Errorf("expected warning about %s", key)
		}
	}
}

func TestValidate_GraphCredentials(t *testing.T) {
	cfg := Default()
	cfg.Graph.URI = "bolt://localhost:7687"
	if !hasWarning(cfg.Validate(), "username is empty") {
		t.Error("expected warning about missing neo4j username")
	}
}

func TestValidate_SecretsPath(t *testing.T) {
	cfg := Default()
	cfg.Secrets.Provider = "dir"
	if !hasWarning(cfg.Validate(), "secrets.path") {
		t.Error("expected warning about missing secrets path")
	}
	cfg.Secrets.Path = "/run/secrets"
	if hasWarning(cfg.Validate(), "secrets.path") {
		t.Error("no warning expected once secrets.path is set")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	if !hasWarning(cfg.Validate(), "log level") {
		t.Error("expected warning about unknown log level")
	}
	cfg.Log.Level = "DEBUG"
	if hasWarning(cfg.Validate(), "log level") {
		t.Error("log level should be case-insensitive")
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dashboard.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %s", cfg.Dashboard.ListenAddr)
	}
	if cfg.Metrics.Timeout != 0 {
		t.Errorf("expected no default metric timeout, got %s", cfg.Metrics.Timeout)
	}
	if cfg.Gates.MaxMissing != 3 || cfg.Gates.CycleSeverity != "required" {
		t.Errorf("expected default gate thresholds, got %+v", cfg.Gates)
	}
	if cfg.Secrets.Provider != "env" {
		t.Errorf("expected env secrets provider, got %s", cfg.Secrets.Provider)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codelens.yaml")
	content := `
metrics:
  base_url: http://analysis:9000
  timeout: 5s
dashboard:
  layout_ticks: 40
gates:
  max_cycles: 2
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODELENS_DASHBOARD_LISTEN_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metrics.BaseURL != "http://analysis:9000" {
		t.Errorf("expected base url from file, got %s", cfg.Metrics.BaseURL)
	}
	if cfg.Metrics.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.Metrics.Timeout)
	}
	if cfg.Gates.MaxCycles != 2 || cfg.Gates.MaxFanOut != 40 {
		t.Errorf("expected gate override merged with defaults, got %+v", cfg.Gates)
	}
	if cfg.Dashboard.LayoutTicks != 40 {
		t.Errorf("expected 40 layout ticks, got %d", cfg.Dashboard.LayoutTicks)
	}
	if cfg.Dashboard.ListenAddr != ":9999" {
		t.Errorf("expected env override, got %s", cfg.Dashboard.ListenAddr)
	}
	if cfg.Metrics.PathTemplate != Default().Metrics.PathTemplate {
		t.Errorf("expected default path template, got %s", cfg.Metrics.PathTemplate)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config") {
		t.Errorf("expected wrapped read error, got %v", err)
	}
}
