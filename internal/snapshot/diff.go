package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
)

// DiffType indicates the kind of change.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffRemoved  DiffType = "removed"
	DiffModified DiffType = "modified"
)

// GraphDiff is the structural difference between two graphs of a repository.
type GraphDiff struct {
	OldID     string      `json:"old_id,omitempty"`
	NewID     string      `json:"new_id,omitempty"`
	OldTag    string      `json:"old_tag,omitempty"`
	NewTag    string      `json:"new_tag,omitempty"`
	NodeDiffs []NodeDiff  `json:"node_diffs"`
	LinkDiffs []LinkDiff  `json:"link_diffs"`
	Summary   DiffSummary `json:"summary"`
}

// NodeDiff is a node that appeared, disappeared or changed size.
type NodeDiff struct {
	ID       string            `json:"id"`
	NodeType depgraph.NodeType `json:"node_type"`
	Type     DiffType          `json:"type"`
	OldLOC   int               `json:"old_loc,omitempty"`
	NewLOC   int               `json:"new_loc,omitempty"`
}

// LinkDiff is an edge that appeared, disappeared or changed weight.
type LinkDiff struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Level    depgraph.Level `json:"level"`
	Type     DiffType       `json:"type"`
	OldValue int            `json:"old_value,omitempty"`
	NewValue int            `json:"new_value,omitempty"`
}

// DiffSummary provides aggregate stats about the diff.
type DiffSummary struct {
	NodesAdded      int  `json:"nodes_added"`
	NodesRemoved    int  `json:"nodes_removed"`
	NodesModified   int  `json:"nodes_modified"`
	LinksAdded      int  `json:"links_added"`
	LinksRemoved    int  `json:"links_removed"`
	LinksModified   int  `json:"links_modified"`
	CyclesDelta     int  `json:"cycles_delta"`
	UnresolvedDelta int  `json:"unresolved_delta"`
	Unchanged       bool `json:"unchanged"`
}

// Diff compares two graphs. Either snapshot may be nil when the graphs did
// not come from a Store.
func Diff(oldSnap, newSnap *Snapshot, oldGraph, newGraph *depgraph.Graph) *GraphDiff {
	d := &GraphDiff{
		NodeDiffs: diffNodes(oldGraph.Nodes, newGraph.Nodes),
		LinkDiffs: diffLinks(oldGraph.Links, newGraph.Links),
	}
	if oldSnap != nil {
		d.OldID, d.OldTag = oldSnap.ID, oldSnap.Tag
	}
	if newSnap != nil {
		d.NewID, d.NewTag = newSnap.ID, newSnap.Tag
	}
	d.Summary = computeSummary(d)
	d.Summary.CyclesDelta = len(newGraph.Stats.CyclicDeps) - len(oldGraph.Stats.CyclicDeps)
	d.Summary.UnresolvedDelta = newGraph.Stats.UnresolvedSymbols - oldGraph.Stats.UnresolvedSymbols
	return d
}

func diffNodes(oldNodes, newNodes []*depgraph.Node) []NodeDiff {
	oldMap := make(map[string]*depgraph.Node, len(oldNodes))
	for _, n := range oldNodes {
		oldMap[n.ID] = n
	}
	newMap := make(map[string]*depgraph.Node, len(newNodes))
	for _, n := range newNodes {
		newMap[n.ID] = n
	}

	var diffs []NodeDiff
	for id, o := range oldMap {
		n, ok := newMap[id]
		switch {
		case !ok:
			diffs = append(diffs, NodeDiff{ID: id, NodeType: o.Type, Type: DiffRemoved, OldLOC: o.LOC})
		case o.LOC != n.LOC || o.ParentID != n.ParentID:
			diffs = append(diffs, NodeDiff{ID: id, NodeType: n.Type, Type: DiffModified, OldLOC: o.LOC, NewLOC: n.LOC})
		}
	}
	for id, n := range newMap {
		if _, ok := oldMap[id]; !ok {
			diffs = append(diffs, NodeDiff{ID: id, NodeType: n.Type, Type: DiffAdded, NewLOC: n.LOC})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].ID < diffs[j].ID })
	return diffs
}

type linkKey struct {
	source, target string
	level          depgraph.Level
}

func diffLinks(oldLinks, newLinks []depgraph.Edge) []LinkDiff {
	index := func(links []depgraph.Edge) map[linkKey]int {
		m := make(map[linkKey]int, len(links))
		for _, l := range links {
			m[linkKey{l.Source, l.Target, l.Level}] += l.Value
		}
		return m
	}
	oldMap, newMap := index(oldLinks), index(newLinks)

	var diffs []LinkDiff
	for k, ov := range oldMap {
		nv, ok := newMap[k]
		switch {
		case !ok:
			diffs = append(diffs, LinkDiff{Source: k.source, Target: k.target, Level: k.level, Type: DiffRemoved, OldValue: ov})
		case ov != nv:
			diffs = append(diffs, LinkDiff{Source: k.source, Target: k.target, Level: k.level, Type: DiffModified, OldValue: ov, NewValue: nv})
		}
	}
	for k, nv := range newMap {
		if _, ok := oldMap[k]; !ok {
			diffs = append(diffs, LinkDiff{Source: k.source, Target: k.target, Level: k.level, Type: DiffAdded, NewValue: nv})
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		a, b := diffs[i], diffs[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Level < b.Level
	})
	return diffs
}

func computeSummary(d *GraphDiff) DiffSummary {
	var s DiffSummary
	for _, nd := range d.NodeDiffs {
		switch nd.Type {
		case DiffAdded:
			s.NodesAdded++
		case DiffRemoved:
			s.NodesRemoved++
		case DiffModified:
			s.NodesModified++
		}
	}
	for _, ld := range d.LinkDiffs {
		switch ld.Type {
		case DiffAdded:
			s.LinksAdded++
		case DiffRemoved:
			s.LinksRemoved++
		case DiffModified:
			s.LinksModified++
		}
	}
	s.Unchanged = len(d.NodeDiffs) == 0 && len(d.LinkDiffs) == 0
	return s
}

// FormatDiff returns a human-readable string representation of the diff.
func FormatDiff(d *GraphDiff) string {
	var sb strings.Builder

	if d.OldID != "" || d.NewID != "" {
		fmt.Fprintf(&sb, "Diff: %s → %s\n", d.OldID, d.NewID)
	}
	if d.OldTag != "" || d.NewTag != "" {
		fmt.Fprintf(&sb, "Tags: %s → %s\n", d.OldTag, d.NewTag)
	}
	fmt.Fprintf(&sb, "Nodes: +%d -%d ~%d\n", d.Summary.NodesAdded, d.Summary.NodesRemoved, d.Summary.NodesModified)
	fmt.Fprintf(&sb, "Links: +%d -%d ~%d\n", d.Summary.LinksAdded, d.Summary.LinksRemoved, d.Summary.LinksModified)
	fmt.Fprintf(&sb, "Cycles: %+d, unresolved symbols: %+d\n", d.Summary.CyclesDelta, d.Summary.UnresolvedDelta)
	if d.Summary.Unchanged {
		sb.WriteString("\nNo structural changes.\n")
		return sb.String()
	}

	if len(d.NodeDiffs) > 0 {
		sb.WriteString("\nNodes:\n")
		for _, nd := range d.NodeDiffs {
			fmt.Fprintf(&sb, "  %s %s (%s)", icon(nd.Type), nd.ID, strings.ToLower(string(nd.NodeType)))
			if nd.Type == DiffModified {
				fmt.Fprintf(&sb, " loc %d → %d", nd.OldLOC, nd.NewLOC)
			}
			sb.WriteString("\n")
		}
	}
	if len(d.LinkDiffs) > 0 {
		sb.WriteString("\nLinks:\n")
		for _, ld := range d.LinkDiffs {
			fmt.Fprintf(&sb, "  %s %s -> %s [%s]", icon(ld.Type), ld.Source, ld.Target, ld.Level)
			if ld.Type == DiffModified {
				fmt.Fprintf(&sb, " %d → %d", ld.OldValue, ld.NewValue)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func icon(t DiffType) string {
	switch t {
	case DiffAdded:
		return "+"
	case DiffRemoved:
		return "-"
	}
	return "~"
}
