package qualitygate

import (
	"strings"
	"testing"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

func graphWith(mutate func(g *depgraph.Graph)) *EvalContext {
	g := &depgraph.Graph{RepoID: "repo-1"}
	if mutate != nil {
		mutate(g)
	}
	return &EvalContext{Graph: g}
}

func TestCompletenessGate(t *testing.T) {
	tests := []struct {
		name       string
		missing    []string
		severity   GateSeverity
		wantStatus GateStatus
	}{
		{"nothing missing", nil, SeverityRequired, GatePassed},
		{"at limit", []string{"loc-sloc", "class-coupling"}, SeverityRequired, GatePassed},
		{"over limit", []string{"loc-sloc", "class-coupling", "function-coupling"}, SeverityRequired, GateFailed},
		{"over limit advisory", []string{"loc-sloc", "class-coupling", "function-coupling"}, SeverityAdvisory, GateWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewCompletenessGate(2, tt.severity)
			r, err := gate.Evaluate(graphWith(func(g *depgraph.Graph) { g.Missing = tt.missing }))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s (%s)", tt.wantStatus, r.Status, r.Message)
			}
			if len(r.Details) != len(tt.missing) {
				t.Errorf("expected missing metrics in details, got %v", r.Details)
			}
		})
	}
}

func TestUnresolvedGate(t *testing.T) {
	gate := NewUnresolvedGate(2, SeverityRequired)

	r, _ := gate.Evaluate(graphWith(func(g *depgraph.Graph) { g.Stats.UnresolvedSymbols = 2 }))
	if r.Status != GatePassed {
		t.Errorf("expected passed at limit, got %s", r.Status)
	}
	r, _ = gate.Evaluate(graphWith(func(g *depgraph.Graph) { g.Stats.UnresolvedSymbols = 3 }))
	if r.Status != GateFailed || r.Value != 3 || r.Threshold != 2 {
		t.Errorf("expected failed with value 3/2, got %+v", r)
	}
}

func TestCycleGate(t *testing.T) {
	gate := NewCycleGate(0, SeverityRequired)
	r, _ := gate.Evaluate(graphWith(func(g *depgraph.Graph) {
		g.Stats.CyclicDeps = [][]string{{"a.ts", "b.ts", "a.ts"}}
	}))
	if r.Status != GateFailed {
		t.Fatalf("expected failed, got %s", r.Status)
	}
	if len(r.Details) != 1 || r.Details[0] != "a.ts -> b.ts -> a.ts" {
		t.Errorf("expected cycle path in details, got %v", r.Details)
	}
}

func TestFanOutGate(t *testing.T) {
	gate := NewFanOutGate(5, SeverityAdvisory)

	r, _ := gate.Evaluate(graphWith(func(g *depgraph.Graph) { g.Stats.MaxFanOut = 4 }))
	if r.Status != GatePassed || len(r.Details) != 0 {
		t.Errorf("expected passed without details, got %+v", r)
	}
	r, _ = gate.Evaluate(graphWith(func(g *depgraph.Graph) {
		g.Stats.MaxFanOut = 9
		g.Stats.HotspotNode = "src/app.ts"
	}))
	if r.Status != GateWarning {
		t.Errorf("expected warning for advisory gate, got %s", r.Status)
	}
	if len(r.Details) != 1 || !strings.Contains(r.Details[0], "src/app.ts") {
		t.Errorf("expected hotspot detail, got %v", r.Details)
	}
}

func TestAmbiguityGate(t *testing.T) {
	gate := NewAmbiguityGate(0, SeverityRequired)
	r, _ := gate.Evaluate(graphWith(func(g *depgraph.Graph) {
		g.Stats.Ambiguous = map[string][]string{
			"util":   {"a/util.ts", "b/util.ts"},
			"Config": {"x.ts", "y.ts"},
		}
	}))
	if r.Status != GateFailed {
		t.Fatalf("expected failed, got %s", r.Status)
	}
	if len(r.Details) != 2 || !strings.HasPrefix(r.Details[0], "Config:") {
		t.Errorf("expected sorted details, got %v", r.Details)
	}
}

func TestPipeline_AllPass(t *testing.T) {
	p := BuildPipeline(nil)
	result := p.Run(graphWith(nil))

	if result.Status != GatePassed {
		t.Fatalf("expected passed, got %s: %s", result.Status, result.Summary)
	}
	if result.PassedCount != p.Len() {
		t.Errorf("expected %d passed, got %d", p.Len(), result.PassedCount)
	}
}

func TestPipeline_CriticalAborts(t *testing.T) {
	p := BuildPipeline(nil)
	result := p.Run(graphWith(func(g *depgraph.Graph) {
		g.Missing = []string{"files", "loc-sloc", "dependencies", "class-coupling"}
	}))

	if result.Status != GateFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.FailedCount != 1 {
		t.Errorf("expected 1 failure, got %d", result.FailedCount)
	}
	if result.SkippedCount != p.Len()-1 {
		t.Errorf("expected remaining gates skipped, got %d", result.SkippedCount)
	}
}

func TestPipeline_AdvisoryDoesNotFail(t *testing.T) {
	p := BuildPipeline(nil)
	result := p.Run(graphWith(func(g *depgraph.Graph) { g.Stats.UnresolvedSymbols = 1000 }))

	if result.Status != GatePassed {
		t.Errorf("expected advisory warning not to fail the pipeline, got %s", result.Status)
	}
	if result.WarningCount != 1 {
		t.Errorf("expected 1 warning, got %d", result.WarningCount)
	}
}

func TestPipeline_RequiredFails(t *testing.T) {
	p := BuildPipeline(nil)
	result := p.Run(graphWith(func(g *depgraph.Graph) {
		g.Stats.CyclicDeps = [][]string{{"a.ts", "a.ts"}}
	}))
	if result.Status != GateFailed {
		t.Errorf("expected cycles to fail the pipeline, got %s", result.Status)
	}
	if result.SkippedCount != 0 {
		t.Errorf("required failures must not skip later gates, got %d skipped", result.SkippedCount)
	}
}

func TestPipeline_NoGraph(t *testing.T) {
	result := NewPipeline(NewCycleGate(0, SeverityRequired)).Run(&EvalContext{})
	if result.Status != GateFailed || !strings.Contains(result.Gates[0].Message, "no graph") {
		t.Errorf("expected evaluation error, got %+v", result.Gates)
	}
}

func TestBuildPipeline_DisabledGates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFanOut = -1
	cfg.MaxAmbiguous = -1
	if n := BuildPipeline(cfg).Len(); n != 3 {
		t.Errorf("expected 3 gates, got %d", n)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]GateSeverity{
		"critical": SeverityCritical,
		"required": SeverityRequired,
		"advisory": SeverityAdvisory,
		"":         SeverityRequired,
		"bogus":    SeverityRequired,
	}
	for in, want := range tests {
		if got := parseSeverity(in); got != want {
			t.Errorf("parseSeverity(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatReport(t *testing.T) {
	result := BuildPipeline(nil).Run(graphWith(func(g *depgraph.Graph) {
		g.Stats.CyclicDeps = [][]string{{"a.ts", "b.ts", "a.ts"}}
	}))
	report := FormatReport(result)

	for _, want := range []string{"Graph Quality Gates", "cycles", "[REQUIRED]", "a.ts -> b.ts -> a.ts", "Result: FAILED"} {
		if !strings.Contains(report, want) {
			t.Errorf("expected report to contain %q:\n%s", want, report)
		}
	}
}
