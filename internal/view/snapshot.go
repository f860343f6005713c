package view

import (
	"github.com/efebarandurmaz/codelens/internal/depgraph"
	"github.com/efebarandurmaz/codelens/internal/layout"
)

// NodeView is a visible node with its current coordinates.
type NodeView struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Type        depgraph.NodeType `json:"type"`
	ParentID    string            `json:"parentId,omitempty"`
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	HasChildren bool              `json:"hasChildren"`
	Pinned      bool              `json:"pinned,omitempty"`
}

// Enclosure is the circle drawn around the visible descendants of an
// expanded node.
type Enclosure struct {
	ID string `json:"id"`
	layout.Circle
}

// Snapshot is what the renderer draws for one frame.
type Snapshot struct {
	Nodes      []NodeView  `json:"nodes"`
	Links      []Link      `json:"links"`
	Expanded   []string    `json:"expanded"`
	Enclosures []Enclosure `json:"enclosures"`
	Alpha      float64     `json:"alpha"`
}

// enclosurePadding keeps enclosure outlines clear of the circles inside.
const enclosurePadding = 6

// Snapshot captures the visible state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Nodes:      make([]NodeView, 0, len(c.visible)),
		Links:      c.visibleEdges(),
		Expanded:   sortedSet(c.expanded),
		Enclosures: []Enclosure{},
		Alpha:      1,
	}
	if c.sim != nil {
		s.Alpha = c.sim.Alpha()
	}

	for _, id := range sortedSet(c.visible) {
		n, _ := c.reg.Get(id)
		p := c.pos[id]
		s.Nodes = append(s.Nodes, NodeView{
			ID:          id,
			Label:       n.Label,
			Type:        n.Type,
			ParentID:    n.ParentID,
			X:           p.X,
			Y:           p.Y,
			HasChildren: n.IsContainer(),
			Pinned:      c.pinned[id],
		})
	}

	for _, id := range s.Expanded {
		var circles []layout.Circle
		for _, d := range c.reg.Descendants(id) {
			if c.visible[d] {
				p := c.pos[d]
				circles = append(circles, layout.Circle{X: p.X, Y: p.Y, R: c.radius(d)})
			}
		}
		if len(circles) == 0 {
			continue
		}
		e := layout.Enclose(circles)
		e.R += enclosurePadding
		s.Enclosures = append(s.Enclosures, Enclosure{ID: id, Circle: e})
	}
	return s
}
