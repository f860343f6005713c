// Package layout computes force-directed positions for the visible part of a
// code graph.
package layout

import (
	"context"
	"math"
)

// Point is a position in layout space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one simulated body.
type Node struct {
	ID     string
	Groups []string // every container whose enclosure keeps this node; empty for roots
	X, Y   float64
	VX, VY float64
	Radius float64
	Fixed  bool
}

// Link is a spring between two nodes, addressed by index into the node slice.
type Link struct {
	Source int
	Target int
	Value  int
}

// Config holds force parameters. Zero fields are replaced by DefaultConfig.
type Config struct {
	Charge          float64 // many-body strength, negative repels
	LinkDistance    float64
	CenterStrength  float64
	CollideStrength float64
	CollidePadding  float64
	ContainStrength float64
	VelocityDecay   float64
	AlphaMin        float64
	AlphaDecay      float64
}

// DefaultConfig returns parameters that settle a few hundred nodes within
// roughly 300 ticks.
func DefaultConfig() Config {
	return Config{
		Charge:          -60,
		LinkDistance:    40,
		CenterStrength:  0.05,
		CollideStrength: 0.7,
		CollidePadding:  2,
		ContainStrength: 0.15,
		VelocityDecay:   0.4,
		AlphaMin:        0.001,
		AlphaDecay:      1 - math.Pow(0.001, 1.0/300),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Charge == 0 {
		c.Charge = d.Charge
	}
	if c.LinkDistance == 0 {
		c.LinkDistance = d.LinkDistance
	}
	if c.CenterStrength == 0 {
		c.CenterStrength = d.CenterStrength
	}
	if c.CollideStrength == 0 {
		c.CollideStrength = d.CollideStrength
	}
	if c.CollidePadding == 0 {
		c.CollidePadding = d.CollidePadding
	}
	if c.ContainStrength == 0 {
		c.ContainStrength = d.ContainStrength
	}
	if c.VelocityDecay == 0 {
		c.VelocityDecay = d.VelocityDecay
	}
	if c.AlphaMin == 0 {
		c.AlphaMin = d.AlphaMin
	}
	if c.AlphaDecay == 0 {
		c.AlphaDecay = d.AlphaDecay
	}
	return c
}

// Simulation advances node positions one discrete tick at a time. It is not
// safe for concurrent use; callers own it for the lifetime of one visible
// subgraph and discard it when that subgraph changes.
type Simulation struct {
	cfg    Config
	nodes  []*Node
	links  []Link
	index  map[string]int
	degree []int
	fixed  map[int]Point
	alpha  float64
}

// NewSimulation creates a simulation over copies of nodes. Links referring to
// out-of-range indices or to their own source are ignored.
func NewSimulation(nodes []Node, links []Link, cfg Config) *Simulation {
	s := &Simulation{
		cfg:    cfg.withDefaults(),
		nodes:  make([]*Node, len(nodes)),
		index:  make(map[string]int, len(nodes)),
		degree: make([]int, len(nodes)),
		fixed:  make(map[int]Point),
		alpha:  1,
	}
	for i := range nodes {
		n := nodes[i]
		if n.Radius <= 0 {
			n.Radius = 4
		}
		s.nodes[i] = &n
		s.index[n.ID] = i
		if n.Fixed {
			s.fixed[i] = Point{n.X, n.Y}
		}
	}
	for _, l := range links {
		if l.Source < 0 || l.Target < 0 || l.Source >= len(nodes) || l.Target >= len(nodes) || l.Source == l.Target {
			continue
		}
		s.links = append(s.links, l)
		s.degree[l.Source]++
		s.degree[l.Target]++
	}
	return s
}

// Alpha returns the current cooling parameter.
func (s *Simulation) Alpha() float64 { return s.alpha }

// Done reports whether the simulation has cooled below AlphaMin.
func (s *Simulation) Done() bool { return s.alpha < s.cfg.AlphaMin }

// Restart reheats the simulation.
func (s *Simulation) Restart() { s.alpha = 1 }

// Pin fixes a node at the given position until Unpin.
func (s *Simulation) Pin(id string, x, y float64) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.fixed[i] = Point{x, y}
	n := s.nodes[i]
	n.X, n.Y, n.VX, n.VY, n.Fixed = x, y, 0, 0, true
	return true
}

// Unpin releases a pinned node.
func (s *Simulation) Unpin(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.fixed, i)
	s.nodes[i].Fixed = false
	return true
}

// Positions returns the current coordinates keyed by node ID.
func (s *Simulation) Positions() map[string]Point {
	out := make(map[string]Point, len(s.nodes))
	for _, n := range s.nodes {
		out[n.ID] = Point{n.X, n.Y}
	}
	return out
}

// Run advances up to ticks steps, stopping early once cooled or when ctx is
// cancelled. It returns the number of ticks performed.
func (s *Simulation) Run(ctx context.Context, ticks int) (int, error) {
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if s.Done() {
			return i, nil
		}
		s.Tick()
	}
	return ticks, nil
}

// Tick performs one step: cool, apply forces, integrate velocities.
func (s *Simulation) Tick() {
	s.alpha += -s.alpha * s.cfg.AlphaDecay

	s.applyManyBody()
	s.applyLinks()
	s.applyCollide()
	s.applyContainment()

	keep := 1 - s.cfg.VelocityDecay
	for i, n := range s.nodes {
		if p, ok := s.fixed[i]; ok {
			n.X, n.Y, n.VX, n.VY = p.X, p.Y, 0, 0
			continue
		}
		n.VX *= keep
		n.VY *= keep
		n.X += n.VX
		n.Y += n.VY
	}
	s.applyCenter()
}

// jiggle returns a tiny deterministic offset used to separate coincident
// nodes.
func jiggle(i, j int) (float64, float64) {
	a := float64(i*31+j*17) * 0.618033988749895
	return math.Cos(a) * 1e-3, math.Sin(a) * 1e-3
}

func (s *Simulation) applyManyBody() {
	for i := 0; i < len(s.nodes); i++ {
		a := s.nodes[i]
		for j := i + 1; j < len(s.nodes); j++ {
			b := s.nodes[j]
			dx, dy := b.X-a.X, b.Y-a.Y
			if dx == 0 && dy == 0 {
				dx, dy = jiggle(i, j)
			}
			l2 := math.Max(dx*dx+dy*dy, 1)
			w := s.cfg.Charge * s.alpha / l2
			a.VX += dx * w
			a.VY += dy * w
			b.VX -= dx * w
			b.VY -= dy * w
		}
	}
}

func (s *Simulation) applyLinks() {
	for _, l := range s.links {
		src, dst := s.nodes[l.Source], s.nodes[l.Target]
		ds, dt := s.degree[l.Source], s.degree[l.Target]
		strength := 1 / float64(min(ds, dt))
		bias := float64(ds) / float64(ds+dt)

		dx := dst.X + dst.VX - src.X - src.VX
		dy := dst.Y + dst.VY - src.Y - src.VY
		if dx == 0 && dy == 0 {
			dx, dy = jiggle(l.Source, l.Target)
		}
		dist := math.Sqrt(dx*dx + dy*dy)
		k := (dist - s.cfg.LinkDistance) / dist * s.alpha * strength
		dx, dy = dx*k, dy*k
		dst.VX -= dx * bias
		dst.VY -= dy * bias
		src.VX += dx * (1 - bias)
		src.VY += dy * (1 - bias)
	}
}

func (s *Simulation) applyCollide() {
	for i := 0; i < len(s.nodes); i++ {
		a := s.nodes[i]
		for j := i + 1; j < len(s.nodes); j++ {
			b := s.nodes[j]
			r := a.Radius + b.Radius + s.cfg.CollidePadding
			dx := b.X + b.VX - a.X - a.VX
			dy := b.Y + b.VY - a.Y - a.VY
			d2 := dx*dx + dy*dy
			if d2 >= r*r {
				continue
			}
			if d2 == 0 {
				dx, dy = jiggle(i, j)
				d2 = dx*dx + dy*dy
			}
			d := math.Sqrt(d2)
			k := (r - d) / d * s.cfg.CollideStrength
			wa := b.Radius * b.Radius / (a.Radius*a.Radius + b.Radius*b.Radius)
			a.VX -= dx * k * wa
			a.VY -= dy * k * wa
			b.VX += dx * k * (1 - wa)
			b.VY += dy * k * (1 - wa)
		}
	}
}

// applyContainment pulls every member of a group toward the center of the
// circle enclosing all of them, proportionally to its distance from it. A
// node belongs to each group it lists, so nested containers hold their whole
// subtree together, not only their direct children.
func (s *Simulation) applyContainment() {
	groups := make(map[string][]int)
	var order []string
	for i, n := range s.nodes {
		for _, g := range n.Groups {
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], i)
		}
	}
	k := s.cfg.ContainStrength * s.alpha
	for _, g := range order {
		members := groups[g]
		circles := make([]Circle, len(members))
		for j, i := range members {
			n := s.nodes[i]
			circles[j] = Circle{n.X, n.Y, n.Radius}
		}
		e := Enclose(circles)
		for _, i := range members {
			n := s.nodes[i]
			n.VX += (e.X - n.X) * k
			n.VY += (e.Y - n.Y) * k
		}
	}
}

// applyCenter translates free nodes so their mean position drifts to the
// origin.
func (s *Simulation) applyCenter() {
	free := 0
	var sx, sy float64
	for i, n := range s.nodes {
		if _, ok := s.fixed[i]; ok {
			continue
		}
		sx += n.X
		sy += n.Y
		free++
	}
	if free == 0 {
		return
	}
	sx = sx / float64(free) * s.cfg.CenterStrength
	sy = sy / float64(free) * s.cfg.CenterStrength
	for i, n := range s.nodes {
		if _, ok := s.fixed[i]; ok {
			continue
		}
		n.X -= sx
		n.Y -= sy
	}
}

// Phyllotaxis returns the i-th position of a sunflower spiral around center.
// It spreads new nodes evenly without overlapping.
func Phyllotaxis(i int, center Point, spacing float64) Point {
	r := spacing * math.Sqrt(0.5+float64(i))
	a := float64(i) * math.Pi * (3 - math.Sqrt(5))
	return Point{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a)}
}
