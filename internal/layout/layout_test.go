package layout

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-6

func assertEncloses(t *testing.T, e Circle, cs []Circle) {
	t.Helper()
	for _, c := range cs {
		d := math.Hypot(c.X-e.X, c.Y-e.Y) + c.R
		assert.LessOrEqual(t, d, e.R+1e-6, "circle %+v escapes enclosure %+v", c, e)
	}
}

func TestEnclose_Empty(t *testing.T) {
	assert.Equal(t, Circle{}, Enclose(nil))
}

func TestEnclose_Single(t *testing.T) {
	c := Circle{X: 3, Y: -2, R: 5}
	assert.Equal(t, c, Enclose([]Circle{c}))
}

func TestEnclose_TwoPoints(t *testing.T) {
	e := Enclose([]Circle{{X: 0, Y: 0}, {X: 4, Y: 0}})
	assert.InDelta(t, 2, e.X, eps)
	assert.InDelta(t, 0, e.Y, eps)
	assert.InDelta(t, 2, e.R, eps)
}

func TestEnclose_NestedCircle(t *testing.T) {
	big := Circle{X: 0, Y: 0, R: 10}
	e := Enclose([]Circle{{X: 1, Y: 1, R: 1}, big})
	assert.InDelta(t, big.R, e.R, eps)
	assert.InDelta(t, big.X, e.X, eps)
}

func TestEnclose_Triangle(t *testing.T) {
	cs := []Circle{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 2, Y: 3}}
	e := Enclose(cs)
	assertEncloses(t, e, cs)
	// Circumcircle of an acute triangle: all three points on the boundary.
	for _, c := range cs {
		assert.InDelta(t, e.R, math.Hypot(c.X-e.X, c.Y-e.Y), 1e-6)
	}
}

func TestEnclose_ManyCircles(t *testing.T) {
	var cs []Circle
	for i := 0; i < 60; i++ {
		p := Phyllotaxis(i, Point{}, 7)
		cs = append(cs, Circle{X: p.X, Y: p.Y, R: float64(1 + i%4)})
	}
	e := Enclose(cs)
	assertEncloses(t, e, cs)

	again := Enclose(cs)
	assert.Equal(t, e, again, "enclosure must be deterministic")

	box := boundingCircle(cs)
	assert.LessOrEqual(t, e.R, box.R+eps)
}

func TestEnclose_Duplicates(t *testing.T) {
	cs := []Circle{{X: 1, Y: 1, R: 2}, {X: 1, Y: 1, R: 2}, {X: 1, Y: 1, R: 2}}
	e := Enclose(cs)
	assert.InDelta(t, 2, e.R, eps)
}

func TestSimulation_RepulsionSeparates(t *testing.T) {
	s := NewSimulation([]Node{
		{ID: "a", X: -1, Y: 0},
		{ID: "b", X: 1, Y: 0},
	}, nil, Config{})

	for i := 0; i < 50; i++ {
		s.Tick()
	}
	pos := s.Positions()
	assert.Greater(t, pos["b"].X-pos["a"].X, 2.0)
}

func TestSimulation_LinkAttracts(t *testing.T) {
	s := NewSimulation([]Node{
		{ID: "a", X: -500, Y: 0},
		{ID: "b", X: 500, Y: 0},
	}, []Link{{Source: 0, Target: 1, Value: 1}}, Config{})

	_, err := s.Run(context.Background(), 200)
	require.NoError(t, err)
	pos := s.Positions()
	assert.Less(t, math.Abs(pos["b"].X-pos["a"].X), 1000.0)
}

func TestSimulation_PinnedNodeStays(t *testing.T) {
	s := NewSimulation([]Node{
		{ID: "a", X: 0, Y: 0},
		{ID: "b", X: 1, Y: 1},
		{ID: "c", X: 2, Y: 0},
	}, []Link{{Source: 0, Target: 1}}, Config{})

	require.True(t, s.Pin("b", 50, 60))
	for i := 0; i < 30; i++ {
		s.Tick()
	}
	assert.Equal(t, Point{X: 50, Y: 60}, s.Positions()["b"])

	require.True(t, s.Unpin("b"))
	s.Restart()
	s.Tick()
	assert.NotEqual(t, Point{X: 50, Y: 60}, s.Positions()["b"])
	assert.False(t, s.Pin("missing", 0, 0))
}

func TestSimulation_FixedAtConstruction(t *testing.T) {
	s := NewSimulation([]Node{{ID: "a", X: 5, Y: 5, Fixed: true}, {ID: "b"}}, nil, Config{})
	s.Tick()
	assert.Equal(t, Point{X: 5, Y: 5}, s.Positions()["a"])
}

func TestSimulation_AlphaCools(t *testing.T) {
	s := NewSimulation([]Node{{ID: "a"}}, nil, Config{})
	require.InDelta(t, 1, s.Alpha(), eps)

	n, err := s.Run(context.Background(), 10_000)
	require.NoError(t, err)
	assert.True(t, s.Done())
	assert.Less(t, n, 10_000)

	s.Restart()
	assert.False(t, s.Done())
}

func TestSimulation_RunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSimulation([]Node{{ID: "a"}}, nil, Config{})
	n, err := s.Run(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestSimulation_ContainmentClustersGroups(t *testing.T) {
	nodes := []Node{
		{ID: "g1/a", Groups: []string{"g1"}, X: -100, Y: 0},
		{ID: "g1/b", Groups: []string{"g1"}, X: 100, Y: 0},
	}
	s := NewSimulation(nodes, nil, Config{Charge: -1})
	start := 200.0
	for i := 0; i < 100; i++ {
		s.Tick()
	}
	pos := s.Positions()
	assert.Less(t, math.Abs(pos["g1/b"].X-pos["g1/a"].X), start)
}

func TestSimulation_ContainmentHoldsNestedSubtree(t *testing.T) {
	// a is expanded with a visible child a/c and an expanded child a/b.
	nodes := []Node{
		{ID: "a/b/x", Groups: []string{"a/b", "a"}, X: -5, Y: 0},
		{ID: "a/b/y", Groups: []string{"a/b", "a"}, X: 5, Y: 0},
		{ID: "a/c", Groups: []string{"a"}, X: 400, Y: 0},
	}
	s := NewSimulation(nodes, nil, Config{Charge: -1e-6, CenterStrength: 1e-6})
	for i := 0; i < 300; i++ {
		s.Tick()
	}
	pos := s.Positions()
	dist := math.Hypot(pos["a/c"].X-pos["a/b/x"].X, pos["a/c"].Y-pos["a/b/x"].Y)
	assert.Less(t, dist, 200.0, "a/c should be drawn toward the rest of a")
}

func TestSimulation_SingleMemberGroup(t *testing.T) {
	s := NewSimulation([]Node{{ID: "a/c", Groups: []string{"a"}, X: 50, Y: 0}}, nil, Config{})
	s.Tick()
	assert.False(t, math.IsNaN(s.Positions()["a/c"].X))
}

func TestSimulation_IgnoresBadLinks(t *testing.T) {
	s := NewSimulation([]Node{{ID: "a"}, {ID: "b"}}, []Link{{Source: 0, Target: 5}, {Source: 1, Target: 1}}, Config{})
	assert.Empty(t, s.links)
}

func TestPhyllotaxis_Spreads(t *testing.T) {
	seen := make(map[Point]bool)
	for i := 0; i < 20; i++ {
		p := Phyllotaxis(i, Point{X: 10, Y: 10}, 5)
		assert.False(t, seen[p])
		seen[p] = true
	}
}
