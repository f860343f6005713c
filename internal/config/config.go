package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/codelens/internal/qualitygate"
)

// Config holds all application configuration.
type Config struct {
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Dashboard DashboardConfig        `mapstructure:"dashboard"`
	Graph     GraphConfig            `mapstructure:"graph"`
	Secrets   SecretsConfig          `mapstructure:"secrets"`
	Gates     qualitygate.GateConfig `mapstructure:"gates"`
	Temporal  TemporalConfig         `mapstructure:"temporal"`
	Tracing   TracingConfig          `mapstructure:"tracing"`
	Log       LogConfig              `mapstructure:"log"`
}

// MetricsConfig describes where raw metric payloads come from.
type MetricsConfig struct {
	// BaseURL of the analysis service. Ignored when Dir is set.
	BaseURL string `mapstructure:"base_url"`
	// PathTemplate is expanded with {repo} and {metric}.
	PathTemplate string `mapstructure:"path_template"`
	// Timeout bounds one metric request; 0 leaves it unbounded.
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	Concurrency  int           `mapstructure:"concurrency"`
	// Dir reads <dir>/<repo>/<metric>.json instead of calling the service.
	Dir string `mapstructure:"dir"`
}

type DashboardConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	LayoutTicks int           `mapstructure:"layout_ticks"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	MaxViews    int           `mapstructure:"max_views"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SecretsConfig names where graph credentials left out of the file come
// from: "env", a JSON "file" or a "dir" of mounted secret files.
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	return &Config{
		Metrics: MetricsConfig{
			BaseURL:      "http://localhost:3000",
			PathTemplate: "/api/repos/{repo}/metrics/{metric}",
			RetryDelay:   time.Second,
			Concurrency:  7,
		},
		Dashboard: DashboardConfig{
			ListenAddr:  ":8080",
			LayoutTicks: 120,
			CacheTTL:    5 * time.Minute,
			MaxViews:    256,
		},
		Secrets: SecretsConfig{
			Provider: "env",
		},
		Gates: *qualitygate.DefaultConfig(),
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "codelens-refresh",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			ServiceName: "codelens",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Metrics.Dir == "" && c.Metrics.BaseURL == "" {
		warnings = append(warnings, "neither metrics.base_url nor metrics.dir is set; every metric will be empty")
	}
	if c.Metrics.Dir == "" && c.Metrics.PathTemplate != "" && !strings.Contains(c.Metrics.PathTemplate, "{metric}") {
		warnings = append(warnings, fmt.Sprintf("metrics.path_template %q has no {metric} placeholder", c.Metrics.PathTemplate))
	}
	if c.Metrics.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("metrics.max_retries %d is negative", c.Metrics.MaxRetries))
	}
	if c.Metrics.Concurrency < 0 {
		warnings = append(warnings, fmt.Sprintf("metrics.concurrency %d is negative", c.Metrics.Concurrency))
	}
	if c.Dashboard.LayoutTicks < 0 {
		warnings = append(warnings, fmt.Sprintf("dashboard.layout_ticks %d is negative", c.Dashboard.LayoutTicks))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("tracing.sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}
	if c.Graph.URI != "" && c.Graph.Username == "" {
		warnings = append(warnings, fmt.Sprintf("graph uri '%s' is configured but username is empty", c.Graph.URI))
	}
	if (c.Secrets.Provider == "file" || c.Secrets.Provider == "dir") && c.Secrets.Path == "" {
		warnings = append(warnings, fmt.Sprintf("secrets provider '%s' needs secrets.path", c.Secrets.Provider))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown log level '%s'", c.Log.Level))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("metrics.base_url", d.Metrics.BaseURL)
	v.SetDefault("metrics.path_template", d.Metrics.PathTemplate)
	v.SetDefault("metrics.timeout", d.Metrics.Timeout)
	v.SetDefault("metrics.max_retries", d.Metrics.MaxRetries)
	v.SetDefault("metrics.retry_delay", d.Metrics.RetryDelay)
	v.SetDefault("metrics.concurrency", d.Metrics.Concurrency)
	v.SetDefault("metrics.dir", d.Metrics.Dir)
	v.SetDefault("dashboard.listen_addr", d.Dashboard.ListenAddr)
	v.SetDefault("dashboard.layout_ticks", d.Dashboard.LayoutTicks)
	v.SetDefault("dashboard.cache_ttl", d.Dashboard.CacheTTL)
	v.SetDefault("dashboard.max_views", d.Dashboard.MaxViews)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("secrets.provider", d.Secrets.Provider)
	v.SetDefault("secrets.path", "")
	v.SetDefault("gates.max_missing", d.Gates.MaxMissing)
	v.SetDefault("gates.missing_severity", d.Gates.MissingSeverity)
	v.SetDefault("gates.max_unresolved", d.Gates.MaxUnresolved)
	v.SetDefault("gates.unresolved_severity", d.Gates.UnresolvedSeverity)
	v.SetDefault("gates.max_cycles", d.Gates.MaxCycles)
	v.SetDefault("gates.cycle_severity", d.Gates.CycleSeverity)
	v.SetDefault("gates.max_fan_out", d.Gates.MaxFanOut)
	v.SetDefault("gates.fan_out_severity", d.Gates.FanOutSeverity)
	v.SetDefault("gates.max_ambiguous", d.Gates.MaxAmbiguous)
	v.SetDefault("gates.ambiguity_severity", d.Gates.AmbiguitySeverity)
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration from file and environment. An empty path skips
// the file and uses defaults plus CODELENS_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CODELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
