package layout

import (
	"math"
	"math/rand/v2"
)

// Circle is a disc in layout space.
type Circle struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// encloseSeed fixes the shuffle so the same input always yields the same
// enclosure.
const encloseSeed = 0x5eed

// Enclose returns the smallest circle containing every circle in cs, using
// Welzl's randomized incremental algorithm generalized to circles. An empty
// input yields the zero circle.
func Enclose(cs []Circle) Circle {
	if len(cs) == 0 {
		return Circle{}
	}
	shuffled := append([]Circle(nil), cs...)
	rng := rand.New(rand.NewPCG(encloseSeed, uint64(len(cs))))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var (
		basis []Circle
		e     Circle
		have  bool
	)
	// Each basis change restarts the scan; the bound guards against numeric
	// breakdown on degenerate input.
	limit := 16 * len(shuffled) * len(shuffled)
	for i, steps := 0, 0; i < len(shuffled); steps++ {
		if steps > limit {
			return boundingCircle(cs)
		}
		p := shuffled[i]
		if have && enclosesWeak(e, p) {
			i++
			continue
		}
		next, ok := extendBasis(basis, p)
		if !ok {
			return boundingCircle(cs)
		}
		basis = next
		e = encloseBasis(basis)
		have = true
		i = 0
	}
	return e
}

func extendBasis(b []Circle, p Circle) ([]Circle, bool) {
	if enclosesWeakAll(p, b) {
		return []Circle{p}, true
	}
	for i := range b {
		if enclosesNot(p, b[i]) && enclosesWeakAll(encloseBasis2(b[i], p), b) {
			return []Circle{b[i], p}, true
		}
	}
	for i := 0; i < len(b)-1; i++ {
		for j := i + 1; j < len(b); j++ {
			if enclosesNot(encloseBasis2(b[i], b[j]), p) &&
				enclosesNot(encloseBasis2(b[i], p), b[j]) &&
				enclosesNot(encloseBasis2(b[j], p), b[i]) &&
				enclosesWeakAll(encloseBasis3(b[i], b[j], p), b) {
				return []Circle{b[i], b[j], p}, true
			}
		}
	}
	return nil, false
}

// enclosesNot reports whether b is not contained in a.
func enclosesNot(a, b Circle) bool {
	dr := a.R - b.R
	dx, dy := b.X-a.X, b.Y-a.Y
	return dr < 0 || dr*dr < dx*dx+dy*dy
}

// enclosesWeak reports whether a contains b, with a relative tolerance.
func enclosesWeak(a, b Circle) bool {
	dr := a.R - b.R + math.Max(math.Max(a.R, b.R), 1)*1e-9
	dx, dy := b.X-a.X, b.Y-a.Y
	return dr > 0 && dr*dr > dx*dx+dy*dy
}

func enclosesWeakAll(a Circle, b []Circle) bool {
	for _, c := range b {
		if !enclosesWeak(a, c) {
			return false
		}
	}
	return true
}

func encloseBasis(b []Circle) Circle {
	switch len(b) {
	case 1:
		return b[0]
	case 2:
		return encloseBasis2(b[0], b[1])
	default:
		return encloseBasis3(b[0], b[1], b[2])
	}
}

func encloseBasis2(a, b Circle) Circle {
	x21, y21, r21 := b.X-a.X, b.Y-a.Y, b.R-a.R
	l := math.Sqrt(x21*x21 + y21*y21)
	if l == 0 {
		if a.R >= b.R {
			return a
		}
		return b
	}
	return Circle{
		X: (a.X + b.X + x21/l*r21) / 2,
		Y: (a.Y + b.Y + y21/l*r21) / 2,
		R: (l + a.R + b.R) / 2,
	}
}

func encloseBasis3(a, b, c Circle) Circle {
	x1, y1, r1 := a.X, a.Y, a.R
	a2, a3 := x1-b.X, x1-c.X
	b2, b3 := y1-b.Y, y1-c.Y
	c2, c3 := b.R-r1, c.R-r1
	d1 := x1*x1 + y1*y1 - r1*r1
	d2 := d1 - b.X*b.X - b.Y*b.Y + b.R*b.R
	d3 := d1 - c.X*c.X - c.Y*c.Y + c.R*c.R
	ab := a3*b2 - a2*b3
	xa := (b2*d3-b3*d2)/(ab*2) - x1
	xb := (b3*c2 - b2*c3) / ab
	ya := (a3*d2-a2*d3)/(ab*2) - y1
	yb := (a2*c3 - a3*c2) / ab
	qa := xb*xb + yb*yb - 1
	qb := 2 * (r1 + xa*xb + ya*yb)
	qc := xa*xa + ya*ya - r1*r1
	var r float64
	if math.Abs(qa) > 1e-6 {
		r = -(qb + math.Sqrt(qb*qb-4*qa*qc)) / (2 * qa)
	} else {
		r = -qc / qb
	}
	return Circle{X: x1 + xa + xb*r, Y: y1 + ya + yb*r, R: r}
}

// boundingCircle is the circle around the bounding box of cs. It always
// contains cs but is not minimal.
func boundingCircle(cs []Circle) Circle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range cs {
		minX, maxX = math.Min(minX, c.X-c.R), math.Max(maxX, c.X+c.R)
		minY, maxY = math.Min(minY, c.Y-c.R), math.Max(maxY, c.Y+c.R)
	}
	w, h := maxX-minX, maxY-minY
	return Circle{X: minX + w/2, Y: minY + h/2, R: math.Hypot(w, h) / 2}
}
