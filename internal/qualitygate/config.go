package qualitygate

import (
	"fmt"
	"strings"
)

// GateConfig sets the thresholds of each gate. A negative limit disables
// the gate.
type GateConfig struct {
	MaxMissing         int    `mapstructure:"max_missing" json:"max_missing"`
	MissingSeverity    string `mapstructure:"missing_severity" json:"missing_severity"`
	MaxUnresolved      int    `mapstructure:"max_unresolved" json:"max_unresolved"`
	UnresolvedSeverity string `mapstructure:"unresolved_severity" json:"unresolved_severity"`
	MaxCycles          int    `mapstructure:"max_cycles" json:"max_cycles"`
	CycleSeverity      string `mapstructure:"cycle_severity" json:"cycle_severity"`
	MaxFanOut          int    `mapstructure:"max_fan_out" json:"max_fan_out"`
	FanOutSeverity     string `mapstructure:"fan_out_severity" json:"fan_out_severity"`
	MaxAmbiguous       int    `mapstructure:"max_ambiguous" json:"max_ambiguous"`
	AmbiguitySeverity  string `mapstructure:"ambiguity_severity" json:"ambiguity_severity"`
}

// DefaultConfig fails on cycles and on a scan missing most of its metrics,
// and only warns about the rest.
func DefaultConfig() *GateConfig {
	return &GateConfig{
		MaxMissing:         3,
		MissingSeverity:    "critical",
		MaxUnresolved:      50,
		UnresolvedSeverity: "advisory",
		MaxCycles:          0,
		CycleSeverity:      "required",
		MaxFanOut:          40,
		FanOutSeverity:     "advisory",
		MaxAmbiguous:       10,
		AmbiguitySeverity:  "advisory",
	}
}

// parseSeverity converts a string to GateSeverity.
func parseSeverity(s string) GateSeverity {
	switch s {
	case "critical":
		return SeverityCritical
	case "advisory":
		return SeverityAdvisory
	default:
		return SeverityRequired
	}
}

// BuildPipeline constructs a gate pipeline from configuration. Completeness
// runs first so a critical failure there skips the structural gates.
func BuildPipeline(cfg *GateConfig) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := NewPipeline()
	if cfg.MaxMissing >= 0 {
		p.AddGate(NewCompletenessGate(cfg.MaxMissing, parseSeverity(cfg.MissingSeverity)))
	}
	if cfg.MaxUnresolved >= 0 {
		p.AddGate(NewUnresolvedGate(cfg.MaxUnresolved, parseSeverity(cfg.UnresolvedSeverity)))
	}
	if cfg.MaxCycles >= 0 {
		p.AddGate(NewCycleGate(cfg.MaxCycles, parseSeverity(cfg.CycleSeverity)))
	}
	if cfg.MaxFanOut >= 0 {
		p.AddGate(NewFanOutGate(cfg.MaxFanOut, parseSeverity(cfg.FanOutSeverity)))
	}
	if cfg.MaxAmbiguous >= 0 {
		p.AddGate(NewAmbiguityGate(cfg.MaxAmbiguous, parseSeverity(cfg.AmbiguitySeverity)))
	}
	return p
}

// FormatReport returns a human-readable quality gate report.
func FormatReport(result *PipelineResult) string {
	var b strings.Builder
	b.WriteString("Graph Quality Gates\n")
	b.WriteString("===================\n")

	for _, gr := range result.Gates {
		icon := "✓"
		switch gr.Status {
		case GateFailed:
			icon = "✗"
		case GateSkipped:
			icon = "○"
		case GateWarning:
			icon = "⚠"
		}
		fmt.Fprintf(&b, "%s %-13s %-10s %s\n", icon, gr.Name, "["+strings.ToUpper(string(gr.Severity))+"]", gr.Message)
		for _, d := range gr.Details {
			fmt.Fprintf(&b, "    → %s\n", d)
		}
	}

	status := "PASSED"
	if result.Status == GateFailed {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "\nResult: %s (%s)\n", status, result.Summary)
	return b.String()
}
