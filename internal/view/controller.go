// Package view maintains the visible subset of an assembled graph while a
// user expands and collapses containers, and lays that subset out.
package view

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/layout"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNoChildren  = errors.New("node has no children")
	ErrNotExpanded = errors.New("node is not expanded")
	ErrNotVisible  = errors.New("node is not visible")
)

// seedSpacing is the spiral spacing used when placing newly revealed nodes
// around their parent.
const seedSpacing = 12

// Controller owns the expanded set and visible node set of one displayed
// graph. Invariants:
//   - a node is visible iff every ancestor is expanded and it is not itself
//     expanded
//   - an expanded node's ancestors are all expanded
//
// A Controller is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	graph    *depgraph.Graph
	reg      *depgraph.Registry
	base     []depgraph.Edge
	expanded map[string]bool
	visible  map[string]bool
	pos      map[string]layout.Point
	pinned   map[string]bool
	cfg      layout.Config
	sim      *layout.Simulation
}

// NewController starts a view showing only the root nodes of g.
func NewController(g *depgraph.Graph, cfg layout.Config) *Controller {
	c := &Controller{
		graph:    g,
		reg:      g.Registry(),
		base:     g.BaseLinks(),
		expanded: make(map[string]bool),
		visible:  make(map[string]bool),
		pos:      make(map[string]layout.Point),
		pinned:   make(map[string]bool),
		cfg:      cfg,
	}
	c.resetToRoots()
	return c
}

// Graph returns the graph the view browses.
func (c *Controller) Graph() *depgraph.Graph {
	return c.graph
}

func (c *Controller) resetToRoots() {
	c.expanded = make(map[string]bool)
	c.visible = make(map[string]bool)
	for i, id := range c.reg.Roots() {
		c.visible[id] = true
		if _, ok := c.pos[id]; !ok {
			c.pos[id] = layout.Phyllotaxis(i, layout.Point{}, seedSpacing*3)
		}
	}
	c.sim = nil
}

// Visible returns the visible node IDs in lexical order.
func (c *Controller) Visible() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSet(c.visible)
}

// Expanded returns the expanded node IDs in lexical order.
func (c *Controller) Expanded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedSet(c.expanded)
}

// IsVisible reports whether id is currently shown.
func (c *Controller) IsVisible(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible[id]
}

// Expand replaces a visible container with its direct children, seeded
// around the container's last known position.
func (c *Controller) Expand(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.Has(id) {
		return fmt.Errorf("expand %q: %w", id, ErrUnknownNode)
	}
	children := c.reg.Children(id)
	if len(children) == 0 {
		return fmt.Errorf("expand %q: %w", id, ErrNoChildren)
	}
	if !c.visible[id] {
		return fmt.Errorf("expand %q: %w", id, ErrNotVisible)
	}
	c.expand(id, children)
	c.sim = nil
	return nil
}

func (c *Controller) expand(id string, children []string) {
	c.expanded[id] = true
	delete(c.visible, id)
	delete(c.pinned, id)
	center := c.pos[id]
	for i, child := range children {
		c.visible[child] = true
		c.pos[child] = layout.Phyllotaxis(i, center, seedSpacing)
	}
}

// Collapse hides every descendant of an expanded node and shows the node
// again at the center of the area its descendants occupied.
func (c *Controller) Collapse(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.Has(id) {
		return fmt.Errorf("collapse %q: %w", id, ErrUnknownNode)
	}
	if !c.expanded[id] {
		return fmt.Errorf("collapse %q: %w", id, ErrNotExpanded)
	}

	var occupied []layout.Circle
	for _, d := range c.reg.Descendants(id) {
		if c.visible[d] {
			p := c.pos[d]
			occupied = append(occupied, layout.Circle{X: p.X, Y: p.Y, R: c.radius(d)})
			delete(c.visible, d)
			delete(c.pinned, d)
		}
		delete(c.expanded, d)
	}
	delete(c.expanded, id)
	c.visible[id] = true
	if len(occupied) > 0 {
		e := layout.Enclose(occupied)
		c.pos[id] = layout.Point{X: e.X, Y: e.Y}
	} else {
		c.pos[id] = layout.Point{}
	}
	c.sim = nil
	return nil
}

// ExpandAll expands every container, leaving only leaves visible.
func (c *Controller) ExpandAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.reg.Roots()
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children := c.reg.Children(id)
		if len(children) == 0 {
			continue
		}
		if !c.expanded[id] {
			c.expand(id, children)
		}
		queue = append(queue, children...)
	}
	c.sim = nil
}

// CollapseAll returns the view to its initial state.
func (c *Controller) CollapseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = make(map[string]bool)
	c.resetToRoots()
}

// Pin fixes a visible node at a position until Unpin.
func (c *Controller) Pin(id string, x, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reg.Has(id) {
		return fmt.Errorf("pin %q: %w", id, ErrUnknownNode)
	}
	if !c.visible[id] {
		return fmt.Errorf("pin %q: %w", id, ErrNotVisible)
	}
	c.pinned[id] = true
	c.pos[id] = layout.Point{X: x, Y: y}
	if c.sim != nil {
		c.sim.Pin(id, x, y)
	}
	return nil
}

// Unpin releases a pinned node. Unpinning a free node is a no-op.
func (c *Controller) Unpin(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reg.Has(id) {
		return fmt.Errorf("unpin %q: %w", id, ErrUnknownNode)
	}
	delete(c.pinned, id)
	if c.sim != nil {
		c.sim.Unpin(id)
	}
	return nil
}

// Link is an edge between two visible nodes.
type Link struct {
	Source string            `json:"source"`
	Target string            `json:"target"`
	Value  int               `json:"value"`
	Type   depgraph.EdgeType `json:"type"`
}

// VisibleEdges redirects every base edge to the nearest visible ancestor of
// each endpoint and merges edges landing on the same pair.
func (c *Controller) VisibleEdges() []Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleEdges()
}

func (c *Controller) nearestVisible(id string) (string, bool) {
	for cur := id; cur != ""; {
		if c.visible[cur] {
			return cur, true
		}
		p, ok := c.reg.Parent(cur)
		if !ok {
			return "", false
		}
		cur = p
	}
	return "", false
}

func (c *Controller) visibleEdges() []Link {
	type pair struct{ s, t string }
	sums := make(map[pair]int)
	for _, e := range c.base {
		s, ok1 := c.nearestVisible(e.Source)
		t, ok2 := c.nearestVisible(e.Target)
		if !ok1 || !ok2 || s == t {
			continue
		}
		sums[pair{s, t}] += e.Value
	}

	links := make([]Link, 0, len(sums))
	for p, v := range sums {
		links = append(links, Link{Source: p.s, Target: p.t, Value: v, Type: c.linkType(p.s, p.t)})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Source != links[j].Source {
			return links[i].Source < links[j].Source
		}
		return links[i].Target < links[j].Target
	})
	return links
}

// linkType labels a visible edge by the coarsest endpoint.
func (c *Controller) linkType(s, t string) depgraph.EdgeType {
	rank := func(id string) int {
		n, _ := c.reg.Get(id)
		switch n.Type {
		case depgraph.NodeDirectory, depgraph.NodeFile:
			return 2
		case depgraph.NodeClass:
			return 1
		default:
			return 0
		}
	}
	switch max(rank(s), rank(t)) {
	case 2:
		return depgraph.EdgeDependency
	case 1:
		return depgraph.EdgeCoupling
	default:
		return depgraph.EdgeCall
	}
}

func (c *Controller) radius(id string) float64 {
	n, ok := c.reg.Get(id)
	if !ok {
		return 4
	}
	switch n.Type {
	case depgraph.NodeDirectory:
		return 10
	case depgraph.NodeFile:
		return 7 + math.Log1p(float64(n.SLOC))
	case depgraph.NodeClass:
		return 6
	default:
		return 4
	}
}

// ensureSimulation binds a simulation to the current visible subgraph. Any
// transition discards the previous one.
func (c *Controller) ensureSimulation() *layout.Simulation {
	if c.sim != nil {
		return c.sim
	}
	ids := sortedSet(c.visible)
	index := make(map[string]int, len(ids))
	nodes := make([]layout.Node, len(ids))
	for i, id := range ids {
		index[id] = i
		p := c.pos[id]
		nodes[i] = layout.Node{
			ID:     id,
			Groups: c.ancestors(id),
			X:      p.X,
			Y:      p.Y,
			Radius: c.radius(id),
			Fixed:  c.pinned[id],
		}
	}
	var links []layout.Link
	for _, l := range c.visibleEdges() {
		links = append(links, layout.Link{Source: index[l.Source], Target: index[l.Target], Value: l.Value})
	}
	c.sim = layout.NewSimulation(nodes, links, c.cfg)
	return c.sim
}

// ancestors returns the containers of id from the innermost out. For a
// visible node they are all expanded.
func (c *Controller) ancestors(id string) []string {
	var out []string
	for p, ok := c.reg.Parent(id); ok; p, ok = c.reg.Parent(p) {
		out = append(out, p)
	}
	return out
}

// Tick advances the layout by up to n steps and records the new positions.
func (c *Controller) Tick(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sim := c.ensureSimulation()
	_, err := sim.Run(ctx, n)
	for id, p := range sim.Positions() {
		c.pos[id] = p
	}
	return err
}

// Position returns the last known coordinates of a node.
func (c *Controller) Position(id string) (layout.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pos[id]
	return p, ok
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for id, ok := range m {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
