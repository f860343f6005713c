package qualitygate

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// outcome marks r passed or, past the limit, failed. Advisory gates warn
// instead of failing.
func outcome(r *GateResult, ok bool) {
	switch {
	case ok:
		r.Status = GatePassed
	case r.Severity == SeverityAdvisory:
		r.Status = GateWarning
	default:
		r.Status = GateFailed
	}
}

// CompletenessGate limits how many metrics may fall back to empty defaults.
type CompletenessGate struct {
	MaxMissing int
	severity   GateSeverity
}

func NewCompletenessGate(maxMissing int, severity GateSeverity) *CompletenessGate {
	return &CompletenessGate{MaxMissing: maxMissing, severity: severity}
}

func (g *CompletenessGate) Name() string           { return "completeness" }
func (g *CompletenessGate) Severity() GateSeverity { return g.severity }
func (g *CompletenessGate) Evaluate(ctx *EvalContext) (*GateResult, error) {
	missing := ctx.Graph.Missing
	r := &GateResult{
		Name:      g.Name(),
		Severity:  g.severity,
		Value:     float64(len(missing)),
		Threshold: float64(g.MaxMissing),
		Details:   missing,
	}
	outcome(r, len(missing) <= g.MaxMissing)
	r.Message = fmt.Sprintf("%d of %d metrics missing (max %d)", len(missing), len(metrics.All()), g.MaxMissing)
	return r, nil
}

// UnresolvedGate limits coupling entries whose symbols could not be matched
// to a node.
type UnresolvedGate struct {
	MaxUnresolved int
	severity      GateSeverity
}

func NewUnresolvedGate(maxUnresolved int, severity GateSeverity) *UnresolvedGate {
	return &UnresolvedGate{MaxUnresolved: maxUnresolved, severity: severity}
}

func (g *UnresolvedGate) Name() string           { return "unresolved" }
func (g *UnresolvedGate) Severity() GateSeverity { return g.severity }
func (g *UnresolvedGate) Evaluate(ctx *EvalContext) (*GateResult, error) {
	n := ctx.Graph.Stats.UnresolvedSymbols
	r := &GateResult{
		Name:      g.Name(),
		Severity:  g.severity,
		Value:     float64(n),
		Threshold: float64(g.MaxUnresolved),
	}
	outcome(r, n <= g.MaxUnresolved)
	r.Message = fmt.Sprintf("%d unresolved symbols (max %d)", n, g.MaxUnresolved)
	return r, nil
}

// CycleGate limits file-level dependency cycles.
type CycleGate struct {
	MaxCycles int
	severity  GateSeverity
}

func NewCycleGate(maxCycles int, severity GateSeverity) *CycleGate {
	return &CycleGate{MaxCycles: maxCycles, severity: severity}
}

func (g *CycleGate) Name() string           { return "cycles" }
func (g *CycleGate) Severity() GateSeverity { return g.severity }
func (g *CycleGate) Evaluate(ctx *EvalContext) (*GateResult, error) {
	cycles := ctx.Graph.Stats.CyclicDeps
	r := &GateResult{
		Name:      g.Name(),
		Severity:  g.severity,
		Value:     float64(len(cycles)),
		Threshold: float64(g.MaxCycles),
	}
	for _, c := range cycles {
		r.Details = append(r.Details, strings.Join(c, " -> "))
	}
	outcome(r, len(cycles) <= g.MaxCycles)
	r.Message = fmt.Sprintf("%d dependency cycles (max %d)", len(cycles), g.MaxCycles)
	return r, nil
}

// FanOutGate limits the largest fan-out of any node.
type FanOutGate struct {
	MaxFanOut int
	severity  GateSeverity
}

func NewFanOutGate(maxFanOut int, severity GateSeverity) *FanOutGate {
	return &FanOutGate{MaxFanOut: maxFanOut, severity: severity}
}

func (g *FanOutGate) Name() string           { return "fan_out" }
func (g *FanOutGate) Severity() GateSeverity { return g.severity }
func (g *FanOutGate) Evaluate(ctx *EvalContext) (*GateResult, error) {
	stats := ctx.Graph.Stats
	r := &GateResult{
		Name:      g.Name(),
		Severity:  g.severity,
		Value:     float64(stats.MaxFanOut),
		Threshold: float64(g.MaxFanOut),
	}
	outcome(r, stats.MaxFanOut <= g.MaxFanOut)
	r.Message = fmt.Sprintf("Max fan-out %d (max %d)", stats.MaxFanOut, g.MaxFanOut)
	if r.Status != GatePassed && stats.HotspotNode != "" {
		r.Details = []string{"hotspot: " + stats.HotspotNode}
	}
	return r, nil
}

// AmbiguityGate limits short names declared in more than one file, which
// coupling resolution has to guess between.
type AmbiguityGate struct {
	MaxAmbiguous int
	severity     GateSeverity
}

func NewAmbiguityGate(maxAmbiguous int, severity GateSeverity) *AmbiguityGate {
	return &AmbiguityGate{MaxAmbiguous: maxAmbiguous, severity: severity}
}

func (g *AmbiguityGate) Name() string           { return "ambiguity" }
func (g *AmbiguityGate) Severity() GateSeverity { return g.severity }
func (g *AmbiguityGate) Evaluate(ctx *EvalContext) (*GateResult, error) {
	amb := ctx.Graph.Stats.Ambiguous
	r := &GateResult{
		Name:      g.Name(),
		Severity:  g.severity,
		Value:     float64(len(amb)),
		Threshold: float64(g.MaxAmbiguous),
	}
	for _, name := range metrics.SortedKeys(amb) {
		r.Details = append(r.Details, fmt.Sprintf("%s: %s", name, strings.Join(amb[name], ", ")))
	}
	outcome(r, len(amb) <= g.MaxAmbiguous)
	r.Message = fmt.Sprintf("%d ambiguous names (max %d)", len(amb), g.MaxAmbiguous)
	return r, nil
}
