package depgraph

import (
	"log/slog"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// Options tunes graph assembly.
type Options struct {
	Classifier MethodClassifier
	Logger     *slog.Logger
}

// Assemble builds the full node/edge graph from one metric bundle. It never
// fails: missing metrics and unresolvable symbols only reduce what the graph
// contains.
func Assemble(b *metrics.Bundle, opts Options) *Graph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if b == nil {
		b = metrics.NewBundle("")
	}

	reg := BuildRegistry(RegistryInput{
		Files:      b.Files,
		LOC:        b.LOC.ByFile,
		Classes:    b.ClassesPerFile,
		Functions:  b.FunctionsPerFile,
		Classifier: opts.Classifier,
	})
	idx := BuildSymbolIndex(SymbolSources{
		ClassCoupling:    b.ClassCoupling,
		FunctionCoupling: b.FunctionCoupling,
		ClassesPerFile:   b.ClassesPerFile,
		FunctionsPerFile: b.FunctionsPerFile,
	})

	methods := MethodEdges(reg, idx, b.ClassCoupling)
	functions := FunctionEdges(reg, idx, b.FunctionCoupling)

	calls := make([]Edge, 0, len(methods.Edges)+len(functions.Edges))
	calls = append(calls, methods.Edges...)
	calls = append(calls, functions.Edges...)

	classes := ClassEdges(reg, calls)
	files := FileEdges(reg, classes, calls, b.Dependencies)

	links := make([]Edge, 0, len(calls)+len(classes)+len(files))
	links = append(links, calls...)
	links = append(links, classes...)
	links = append(links, files...)

	g := &Graph{
		RepoID:   b.RepoID,
		Nodes:    reg.Nodes(),
		Links:    links,
		registry: reg,
	}
	for _, m := range b.Missing {
		g.Missing = append(g.Missing, string(m))
	}

	g.computeStats()
	g.Stats.UnresolvedSymbols = methods.Unresolved + functions.Unresolved
	g.Stats.TotalLOC = LineCount{LOC: b.LOC.Total.LOC, SLOC: b.LOC.Total.SLOC}
	if amb := idx.Ambiguous(); len(amb) > 0 {
		g.Stats.Ambiguous = amb
	}

	if g.Stats.UnresolvedSymbols > 0 {
		logger.Debug("Skipped unresolved coupling references",
			"repo", b.RepoID,
			"method_level", methods.Unresolved,
			"function_level", functions.Unresolved,
		)
	}
	return g
}
