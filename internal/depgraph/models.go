package depgraph

import "sync"

// NodeType classifies nodes of the containment tree.
type NodeType string

const (
	NodeDirectory NodeType = "DIRECTORY"
	NodeFile      NodeType = "FILE"
	NodeClass     NodeType = "CLASS"
	NodeFunction  NodeType = "FUNCTION"
)

// Node is one entry of the DIRECTORY -> FILE -> CLASS -> FUNCTION tree.
//
// IDs: directories and files use their path, classes "file::Class",
// methods "file::Class::method" and standalone functions "file::func".
type Node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     NodeType `json:"type"`
	ParentID string   `json:"parentId,omitempty"`
	Children []string `json:"children,omitempty"`
	Depth    int      `json:"depth"`
	LOC      int      `json:"loc,omitempty"`
	SLOC     int      `json:"sloc,omitempty"`
}

// IsContainer reports whether the node owns at least one child.
func (n *Node) IsContainer() bool {
	return len(n.Children) > 0
}

// EdgeType classifies relationships between nodes.
type EdgeType string

const (
	EdgeDependency EdgeType = "DEPENDENCY" // file depends on file
	EdgeCoupling   EdgeType = "COUPLING"   // class couples to class
	EdgeCall       EdgeType = "CALL"       // function or method calls another
)

// Direction records which side of the raw metric reported an edge.
// Edges are always stored source -> target regardless.
type Direction string

const (
	FanOut Direction = "fan-out"
	FanIn  Direction = "fan-in"
)

// Level is the aggregation level an edge was produced at.
type Level string

const (
	LevelMethod   Level = "method"
	LevelFunction Level = "function"
	LevelClass    Level = "class"
	LevelFile     Level = "file"
)

// Edge is a directed, weighted link between two known nodes.
type Edge struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Value     int       `json:"value"`
	Type      EdgeType  `json:"type"`
	Direction Direction `json:"direction"`
	Level     Level     `json:"level"`
	Imports   int       `json:"imports,omitempty"` // share of Value contributed by import edges
}

// Graph is the assembled result handed to the view layer.
type Graph struct {
	RepoID  string   `json:"repoId,omitempty"`
	Nodes   []*Node  `json:"nodes"`
	Links   []Edge   `json:"links"`
	Stats   Stats    `json:"stats"`
	Missing []string `json:"missing,omitempty"`

	registry *Registry
}

// registryMu guards the lazy registry of graphs not built by Assemble. A
// package-level lock keeps Graph copyable.
var registryMu sync.Mutex

// Registry returns the node registry the graph was built from. Graphs decoded
// from JSON or loaded from a store rebuild it from Nodes on first use. Safe
// for concurrent use; Nodes must not change afterwards.
func (g *Graph) Registry() *Registry {
	registryMu.Lock()
	defer registryMu.Unlock()
	if g.registry == nil {
		g.registry = RegistryFromNodes(g.Nodes)
	}
	return g.registry
}

// BaseLinks returns the finest-grained edges: method and function calls plus
// the import share of file-level edges. Class- and file-level coupling edges
// are aggregates of these, so re-aggregating BaseLinks never double-counts.
func (g *Graph) BaseLinks() []Edge {
	var out []Edge
	for _, e := range g.Links {
		switch {
		case e.Level == LevelMethod || e.Level == LevelFunction:
			out = append(out, e)
		case e.Level == LevelFile && e.Imports > 0:
			imp := e
			imp.Value = e.Imports
			out = append(out, imp)
		}
	}
	return out
}

// LinksAt returns the edges produced at one aggregation level.
func (g *Graph) LinksAt(level Level) []Edge {
	var out []Edge
	for _, e := range g.Links {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Stats holds computed metrics about the graph.
type Stats struct {
	TotalNodes          int                 `json:"total_nodes"`
	TotalEdges          int                 `json:"total_edges"`
	DirectoryCount      int                 `json:"directory_count"`
	FileCount           int                 `json:"file_count"`
	ClassCount          int                 `json:"class_count"`
	FunctionCount       int                 `json:"function_count"`
	EdgesByLevel        map[Level]int       `json:"edges_by_level"`
	MaxFanOut           int                 `json:"max_fan_out"`
	MaxFanIn            int                 `json:"max_fan_in"`
	HotspotNode         string              `json:"hotspot_node"`
	ConnectedComponents int                 `json:"connected_components"`
	CyclicDeps          [][]string          `json:"cyclic_deps,omitempty"`
	FileFanOut          map[string]int      `json:"file_fan_out"`
	UnresolvedSymbols   int                 `json:"unresolved_symbols"`
	TotalLOC            LineCount           `json:"total_loc"`
	Ambiguous           map[string][]string `json:"ambiguous,omitempty"`
}

// LineCount is a LOC/SLOC pair.
type LineCount struct {
	LOC  int `json:"loc"`
	SLOC int `json:"sloc"`
}
