// Package qualitygate checks an assembled code graph against structural
// thresholds: metric completeness, unresolved symbols, dependency cycles and
// coupling hotspots.
package qualitygate

import (
	"errors"
	"fmt"
	"time"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

// GateStatus is the outcome of one gate, or of a whole run.
type GateStatus string

const (
	GatePassed  GateStatus = "passed"
	GateFailed  GateStatus = "failed"
	GateSkipped GateStatus = "skipped"
	GateWarning GateStatus = "warning"
)

// GateSeverity decides what a failing gate does to the run.
type GateSeverity string

const (
	SeverityCritical GateSeverity = "critical" // later gates are skipped
	SeverityRequired GateSeverity = "required" // fails the run
	SeverityAdvisory GateSeverity = "advisory" // reported as a warning
)

// GateResult is one gate's verdict. Value and Threshold are in the gate's
// own unit (metrics, symbols, cycles, edges or names).
type GateResult struct {
	Name      string        `json:"name"`
	Status    GateStatus    `json:"status"`
	Severity  GateSeverity  `json:"severity"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Message   string        `json:"message"`
	Details   []string      `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Gate evaluates one property of a graph.
type Gate interface {
	Name() string
	Severity() GateSeverity
	Evaluate(ctx *EvalContext) (*GateResult, error)
}

// EvalContext is the assembled graph under evaluation.
type EvalContext struct {
	Graph *depgraph.Graph
}

// PipelineResult is the verdict of a full run.
type PipelineResult struct {
	Status       GateStatus    `json:"status"`
	Gates        []GateResult  `json:"gates"`
	PassedCount  int           `json:"passed_count"`
	FailedCount  int           `json:"failed_count"`
	SkippedCount int           `json:"skipped_count"`
	WarningCount int           `json:"warning_count"`
	Duration     time.Duration `json:"duration"`
	Summary      string        `json:"summary"`
}

func (r *PipelineResult) add(gr GateResult) {
	r.Gates = append(r.Gates, gr)
	switch gr.Status {
	case GatePassed:
		r.PassedCount++
	case GateWarning:
		r.WarningCount++
	case GateSkipped:
		r.SkippedCount++
	case GateFailed:
		r.FailedCount++
		if gr.Severity != SeverityAdvisory {
			r.Status = GateFailed
		}
	}
}

// Pipeline runs gates in the order they were added.
type Pipeline struct {
	gates []Gate
}

func NewPipeline(gates ...Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

func (p *Pipeline) AddGate(g Gate) {
	p.gates = append(p.gates, g)
}

// Len returns the number of gates.
func (p *Pipeline) Len() int {
	return len(p.gates)
}

var errNoGraph = errors.New("no graph to evaluate")

// Run evaluates every gate against ctx. Once a critical gate fails the
// remaining gates are reported as skipped. An evaluation error counts as a
// failure of that gate.
func (p *Pipeline) Run(ctx *EvalContext) *PipelineResult {
	start := time.Now()
	result := &PipelineResult{Status: GatePassed}

	halted := false
	for _, g := range p.gates {
		if halted {
			result.add(GateResult{
				Name:     g.Name(),
				Status:   GateSkipped,
				Severity: g.Severity(),
				Message:  "not evaluated after a critical failure",
			})
			continue
		}

		gr := evaluate(g, ctx)
		result.add(gr)
		halted = gr.Status == GateFailed && gr.Severity == SeverityCritical
	}

	result.Duration = time.Since(start)
	result.Summary = fmt.Sprintf("%d passed, %d failed, %d warnings, %d skipped",
		result.PassedCount, result.FailedCount, result.WarningCount, result.SkippedCount)
	return result
}

func evaluate(g Gate, ctx *EvalContext) GateResult {
	start := time.Now()
	err := errNoGraph
	var gr *GateResult
	if ctx != nil && ctx.Graph != nil {
		gr, err = g.Evaluate(ctx)
	}
	if err != nil {
		gr = &GateResult{
			Name:     g.Name(),
			Status:   GateFailed,
			Severity: g.Severity(),
			Message:  fmt.Sprintf("evaluation failed: %v", err),
		}
	}
	gr.Duration = time.Since(start)
	return *gr
}
