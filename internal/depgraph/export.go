package depgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// nodeTypeForLevel returns the node type whose edges live at a level.
func nodeTypeForLevel(level Level) NodeType {
	switch level {
	case LevelClass:
		return NodeClass
	case LevelMethod, LevelFunction:
		return NodeFunction
	default:
		return NodeFile
	}
}

// clusterOf names the subgraph a node is drawn in: the directory for files,
// the file for classes and functions.
func (g *Graph) clusterOf(n *Node) string {
	reg := g.Registry()
	if n.Type == NodeFile {
		if id, ok := reg.AncestorOfType(n.ParentID, NodeDirectory); ok {
			return id
		}
		return "."
	}
	if id, ok := reg.AncestorOfType(n.ID, NodeFile); ok {
		return id
	}
	return "."
}

// groupNodes collects the nodes of one level grouped by cluster, with
// clusters and their members sorted for stable output.
func (g *Graph) groupNodes(level Level) ([]string, map[string][]*Node) {
	want := nodeTypeForLevel(level)
	groups := make(map[string][]*Node)
	for _, n := range g.Nodes {
		if n.Type == want {
			c := g.clusterOf(n)
			groups[c] = append(groups[c], n)
		}
	}
	names := make([]string, 0, len(groups))
	for c, nodes := range groups {
		names = append(names, c)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	}
	sort.Strings(names)
	return names, groups
}

// ExportDOT generates a Graphviz DOT representation of one aggregation level.
func ExportDOT(g *Graph, level Level) string {
	var b strings.Builder
	b.WriteString("digraph codelens {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	names, groups := g.groupNodes(level)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeID(name)))
		b.WriteString(fmt.Sprintf("    label=\"%s\";\n", name))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, n := range groups[name] {
			b.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\" shape=%s style=filled fillcolor=\"%s\"];\n",
				n.ID, n.Label, nodeShape(n.Type), nodeColor(n.Type)))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range g.LinksAt(level) {
		b.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=%s color=\"%s\" label=\"%d\"];\n",
			e.Source, e.Target, edgeStyle(e.Type), edgeColor(e.Type), e.Value))
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid flowchart of one aggregation level.
func ExportMermaid(g *Graph, level Level) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	names, groups := g.groupNodes(level)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  subgraph %s[\"%s\"]\n", sanitizeID("g_"+name), name))
		for _, n := range groups[name] {
			b.WriteString(fmt.Sprintf("    %s%s\n", sanitizeID(n.ID), mermaidNodeShape(n)))
		}
		b.WriteString("  end\n")
	}

	for _, e := range g.LinksAt(level) {
		b.WriteString(fmt.Sprintf("  %s %s|%d| %s\n",
			sanitizeID(e.Source), mermaidArrow(e.Type), e.Value, sanitizeID(e.Target)))
	}
	return b.String()
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(g *Graph) string {
	s := g.Stats
	var b strings.Builder
	b.WriteString("Code Graph Statistics\n")
	b.WriteString("=====================\n\n")
	b.WriteString(fmt.Sprintf("Nodes:        %d total\n", s.TotalNodes))
	b.WriteString(fmt.Sprintf("  Dirs:       %d\n", s.DirectoryCount))
	b.WriteString(fmt.Sprintf("  Files:      %d\n", s.FileCount))
	b.WriteString(fmt.Sprintf("  Classes:    %d\n", s.ClassCount))
	b.WriteString(fmt.Sprintf("  Functions:  %d\n", s.FunctionCount))
	b.WriteString(fmt.Sprintf("Edges:        %d total\n", s.TotalEdges))
	for _, l := range []Level{LevelMethod, LevelFunction, LevelClass, LevelFile} {
		b.WriteString(fmt.Sprintf("  %-10s  %d\n", string(l)+":", s.EdgesByLevel[l]))
	}
	b.WriteString(fmt.Sprintf("LOC / SLOC:   %d / %d\n", s.TotalLOC.LOC, s.TotalLOC.SLOC))
	b.WriteString(fmt.Sprintf("Max Fan-Out:  %d (%s)\n", s.MaxFanOut, s.HotspotNode))
	b.WriteString(fmt.Sprintf("Max Fan-In:   %d\n", s.MaxFanIn))
	b.WriteString(fmt.Sprintf("Components:   %d\n", s.ConnectedComponents))
	b.WriteString(fmt.Sprintf("Unresolved:   %d\n", s.UnresolvedSymbols))

	if len(s.CyclicDeps) > 0 {
		b.WriteString(fmt.Sprintf("\nCyclic Dependencies: %d\n", len(s.CyclicDeps)))
		for i, cycle := range s.CyclicDeps {
			b.WriteString(fmt.Sprintf("  %d: %s\n", i+1, strings.Join(cycle, " -> ")))
		}
	}

	if len(s.Ambiguous) > 0 {
		b.WriteString("\nAmbiguous Names:\n")
		names := make([]string, 0, len(s.Ambiguous))
		for n := range s.Ambiguous {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			b.WriteString(fmt.Sprintf("  %s: %s\n", n, strings.Join(s.Ambiguous[n], ", ")))
		}
	}

	if len(g.Missing) > 0 {
		b.WriteString(fmt.Sprintf("\nMissing Metrics: %s\n", strings.Join(g.Missing, ", ")))
	}

	return b.String()
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func nodeShape(t NodeType) string {
	switch t {
	case NodeDirectory:
		return "folder"
	case NodeFile:
		return "box3d"
	case NodeClass:
		return "component"
	default:
		return "box"
	}
}

func nodeColor(t NodeType) string {
	switch t {
	case NodeDirectory:
		return "#30363d"
	case NodeFile:
		return "#1f6feb"
	case NodeClass:
		return "#8957e5"
	case NodeFunction:
		return "#238636"
	default:
		return "#30363d"
	}
}

func edgeStyle(t EdgeType) string {
	switch t {
	case EdgeDependency:
		return "bold"
	case EdgeCoupling:
		return "dashed"
	default:
		return "solid"
	}
}

func edgeColor(t EdgeType) string {
	switch t {
	case EdgeDependency:
		return "#f85149"
	case EdgeCoupling:
		return "#8957e5"
	case EdgeCall:
		return "#3fb950"
	default:
		return "#c9d1d9"
	}
}

func mermaidNodeShape(n *Node) string {
	switch n.Type {
	case NodeFile:
		return fmt.Sprintf("[[\"%s\"]]", n.Label)
	case NodeClass:
		return fmt.Sprintf("([\"%s\"])", n.Label)
	default:
		return fmt.Sprintf("[\"%s\"]", n.Label)
	}
}

func mermaidArrow(t EdgeType) string {
	switch t {
	case EdgeDependency:
		return "==>"
	case EdgeCoupling:
		return "-.->"
	default:
		return "-->"
	}
}
