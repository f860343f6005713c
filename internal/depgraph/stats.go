package depgraph

import (
	"sort"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// computeStats fills in counts, fan-in/fan-out, components and file cycles.
func (g *Graph) computeStats() {
	s := Stats{
		TotalNodes:   len(g.Nodes),
		TotalEdges:   len(g.Links),
		EdgesByLevel: make(map[Level]int),
		FileFanOut:   make(map[string]int),
	}

	for _, n := range g.Nodes {
		switch n.Type {
		case NodeDirectory:
			s.DirectoryCount++
		case NodeFile:
			s.FileCount++
		case NodeClass:
			s.ClassCount++
		case NodeFunction:
			s.FunctionCount++
		}
	}

	fanOut := make(map[string]int)
	fanIn := make(map[string]int)
	for _, e := range g.Links {
		s.EdgesByLevel[e.Level]++
		if e.Level != LevelFile {
			continue
		}
		fanOut[e.Source]++
		fanIn[e.Target]++
		s.FileFanOut[e.Source]++
	}

	for _, id := range metrics.SortedKeys(fanOut) {
		if fanOut[id] > s.MaxFanOut {
			s.MaxFanOut = fanOut[id]
			s.HotspotNode = id
		}
	}
	for _, count := range fanIn {
		if count > s.MaxFanIn {
			s.MaxFanIn = count
		}
	}

	s.ConnectedComponents = g.countComponents()
	s.CyclicDeps = g.detectCycles()
	g.Stats = s
}

// countComponents counts weakly connected components of the file graph via
// union-find. Files with no file-level edges form their own component.
func (g *Graph) countComponents() int {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		fa, fb := find(a), find(b)
		if fa != fb {
			parent[fa] = fb
		}
	}

	for _, n := range g.Nodes {
		if n.Type == NodeFile {
			find(n.ID)
		}
	}
	for _, e := range g.Links {
		if e.Level == LevelFile {
			union(e.Source, e.Target)
		}
	}

	roots := make(map[string]bool)
	for id := range parent {
		roots[find(id)] = true
	}
	return len(roots)
}

// detectCycles finds cycles in the file-level dependency graph using DFS.
func (g *Graph) detectCycles() [][]string {
	adj := make(map[string][]string)
	files := make(map[string]bool)
	for _, e := range g.Links {
		if e.Level == LevelFile {
			adj[e.Source] = append(adj[e.Source], e.Target)
			files[e.Source] = true
			files[e.Target] = true
		}
	}
	for _, next := range adj {
		sort.Strings(next)
	}

	var cycles [][]string
	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	path := make([]string, 0)

	var dfs func(node string)
	dfs = func(node string) {
		if visited[node] == 2 {
			return
		}
		if visited[node] == 1 {
			cycle := make([]string, 0)
			for i := len(path) - 1; i >= 0; i-- {
				cycle = append(cycle, path[i])
				if path[i] == node {
					break
				}
			}
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			cycles = append(cycles, cycle)
			return
		}
		visited[node] = 1
		path = append(path, node)
		for _, next := range adj[node] {
			dfs(next)
		}
		path = path[:len(path)-1]
		visited[node] = 2
	}

	for _, f := range metrics.SortedKeys(files) {
		if visited[f] == 0 {
			dfs(f)
		}
	}
	return cycles
}
