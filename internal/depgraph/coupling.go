package depgraph

import (
	"github.com/efebarandurmaz/codelens/internal/metrics"
)

type edgeKey struct {
	source string
	target string
	level  Level
}

// EdgeSet accumulates directed edges. Repeated (source, target, level)
// triples sum their weights into one edge; self-loops are dropped.
type EdgeSet struct {
	edges map[edgeKey]*Edge
	order []edgeKey
}

// NewEdgeSet creates an empty set.
func NewEdgeSet() *EdgeSet {
	return &EdgeSet{edges: make(map[edgeKey]*Edge)}
}

// Add merges e into the set and reports whether it was kept.
func (s *EdgeSet) Add(e Edge) bool {
	if e.Source == "" || e.Target == "" || e.Source == e.Target {
		return false
	}
	k := edgeKey{e.Source, e.Target, e.Level}
	if cur, ok := s.edges[k]; ok {
		cur.Value += e.Value
		cur.Imports += e.Imports
		return true
	}
	cp := e
	s.edges[k] = &cp
	s.order = append(s.order, k)
	return true
}

// Get returns the accumulated edge for a pair at a level.
func (s *EdgeSet) Get(source, target string, level Level) (Edge, bool) {
	e, ok := s.edges[edgeKey{source, target, level}]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Len returns the number of distinct edges.
func (s *EdgeSet) Len() int {
	return len(s.order)
}

// Edges returns the accumulated edges in first-seen order.
func (s *EdgeSet) Edges() []Edge {
	out := make([]Edge, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.edges[k])
	}
	return out
}

// PassResult is the output of one aggregation pass.
type PassResult struct {
	Edges      []Edge
	Unresolved int // references skipped because a symbol could not be resolved
}

// reconcile combines the fan-out and fan-in views of the same interactions.
// Both sides describe the same calls, so a directed pair takes the larger of
// the two totals instead of their sum.
func reconcile(out, in *EdgeSet) []Edge {
	merged := NewEdgeSet()
	for _, e := range out.Edges() {
		if rev, ok := in.Get(e.Source, e.Target, e.Level); ok && rev.Value > e.Value {
			e.Value = rev.Value
		}
		merged.Add(e)
	}
	for _, e := range in.Edges() {
		if _, ok := out.Get(e.Source, e.Target, e.Level); ok {
			continue
		}
		merged.Add(e)
	}
	return merged.Edges()
}

// MethodEdges converts class-coupling fan-in/fan-out records into CALL edges
// between method nodes.
func MethodEdges(reg *Registry, idx *SymbolIndex, cc metrics.ClassCoupling) PassResult {
	out, in := NewEdgeSet(), NewEdgeSet()
	var res PassResult

	for _, file := range metrics.SortedKeys(cc) {
		for _, class := range metrics.SortedKeys(cc[file]) {
			for _, entry := range cc[file][class] {
				name := entry.Name()
				if name == "" {
					continue
				}
				self := MethodID(file, class, name)
				if !reg.Has(self) {
					res.Unresolved++
					continue
				}
				for _, other := range metrics.SortedKeys(entry.FanOut) {
					calls := entry.FanOut[other]
					for _, method := range metrics.SortedKeys(calls) {
						target, ok := resolveMethod(reg, idx, other, method)
						if !ok {
							res.Unresolved++
							continue
						}
						out.Add(Edge{Source: self, Target: target, Value: int(calls[method]),
							Type: EdgeCall, Direction: FanOut, Level: LevelMethod})
					}
				}
				for _, other := range metrics.SortedKeys(entry.FanIn) {
					calls := entry.FanIn[other]
					for _, method := range metrics.SortedKeys(calls) {
						source, ok := resolveMethod(reg, idx, other, method)
						if !ok {
							res.Unresolved++
							continue
						}
						in.Add(Edge{Source: source, Target: self, Value: int(calls[method]),
							Type: EdgeCall, Direction: FanIn, Level: LevelMethod})
					}
				}
			}
		}
	}

	res.Edges = reconcile(out, in)
	return res
}

func resolveMethod(reg *Registry, idx *SymbolIndex, class, method string) (string, bool) {
	file, ok := idx.FindOwnerFile(class, reg)
	if !ok {
		return "", false
	}
	id := MethodID(file, class, method)
	return id, reg.Has(id)
}

// FunctionEdges converts function-coupling records into CALL edges between
// function nodes, resolving callee and caller names through the index.
func FunctionEdges(reg *Registry, idx *SymbolIndex, fc metrics.FunctionCoupling) PassResult {
	out, in := NewEdgeSet(), NewEdgeSet()
	var res PassResult

	for _, file := range metrics.SortedKeys(fc) {
		for _, fn := range metrics.SortedKeys(fc[file]) {
			entry := fc[file][fn]
			self, ok := resolveInFile(file, fn, reg)
			if !ok {
				res.Unresolved++
				continue
			}
			for _, callee := range metrics.SortedKeys(entry.FanOut) {
				target, ok := idx.ResolveFunction(callee, reg)
				if !ok {
					res.Unresolved++
					continue
				}
				out.Add(Edge{Source: self, Target: target, Value: int(entry.FanOut[callee]),
					Type: EdgeCall, Direction: FanOut, Level: LevelFunction})
			}
			for _, caller := range metrics.SortedKeys(entry.FanIn) {
				source, ok := idx.ResolveFunction(caller, reg)
				if !ok {
					res.Unresolved++
					continue
				}
				in.Add(Edge{Source: source, Target: self, Value: int(entry.FanIn[caller]),
					Type: EdgeCall, Direction: FanIn, Level: LevelFunction})
			}
		}
	}

	res.Edges = reconcile(out, in)
	return res
}

// ownerClass returns the CLASS node directly containing a method node.
func ownerClass(reg *Registry, id string) (string, bool) {
	n, ok := reg.Get(id)
	if !ok || n.ParentID == "" {
		return "", false
	}
	p, ok := reg.Get(n.ParentID)
	if !ok || p.Type != NodeClass {
		return "", false
	}
	return p.ID, true
}

// ClassEdges lifts call edges whose endpoints are methods of two different
// classes into COUPLING edges between those classes.
func ClassEdges(reg *Registry, calls []Edge) []Edge {
	set := NewEdgeSet()
	for _, e := range calls {
		src, ok1 := ownerClass(reg, e.Source)
		dst, ok2 := ownerClass(reg, e.Target)
		if !ok1 || !ok2 {
			continue
		}
		set.Add(Edge{Source: src, Target: dst, Value: e.Value,
			Type: EdgeCoupling, Direction: e.Direction, Level: LevelClass})
	}
	return set.Edges()
}

// FileEdges builds file-to-file DEPENDENCY edges from three sources: class
// edges crossing files, call edges that did not go through the class level
// (at least one endpoint is a standalone function), and import edges from the
// dependency payload, which count one each and are tracked in Imports.
func FileEdges(reg *Registry, classEdges, calls []Edge, deps metrics.DependencyGraph) []Edge {
	set := NewEdgeSet()
	lift := func(e Edge) {
		src, ok1 := reg.AncestorOfType(e.Source, NodeFile)
		dst, ok2 := reg.AncestorOfType(e.Target, NodeFile)
		if !ok1 || !ok2 {
			return
		}
		set.Add(Edge{Source: src, Target: dst, Value: e.Value,
			Type: EdgeDependency, Direction: e.Direction, Level: LevelFile})
	}

	for _, e := range classEdges {
		lift(e)
	}
	for _, e := range calls {
		_, ok1 := ownerClass(reg, e.Source)
		_, ok2 := ownerClass(reg, e.Target)
		if ok1 && ok2 {
			continue
		}
		lift(e)
	}

	for _, src := range metrics.SortedKeys(deps) {
		if n, ok := reg.Get(src); !ok || n.Type != NodeFile {
			continue
		}
		for _, dst := range deps[src] {
			if n, ok := reg.Get(dst); !ok || n.Type != NodeFile {
				continue
			}
			set.Add(Edge{Source: src, Target: dst, Value: 1, Imports: 1,
				Type: EdgeDependency, Direction: FanOut, Level: LevelFile})
		}
	}
	return set.Edges()
}
