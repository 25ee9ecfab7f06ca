package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/kwv/robustfit/robust"
)

// Line is the 2D line A*x + B*y + C = 0.
type Line struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// LineThrough returns the line through p and q with a unit normal.
func LineThrough(p, q r2.Point) (Line, error) {
	d := q.Sub(p)
	n := d.Norm()
	if n < 1e-12 {
		return Line{}, errors.Errorf("points %v and %v coincide", p, q)
	}
	a, b := -d.Y/n, d.X/n
	return Line{A: a, B: b, C: -(a*p.X + b*p.Y)}, nil
}

// Normalize scales the line so that A²+B² = 1.
func (l Line) Normalize() (Line, error) {
	n := math.Hypot(l.A, l.B)
	if n == 0 {
		return Line{}, errors.New("line has no direction")
	}
	return Line{A: l.A / n, B: l.B / n, C: l.C / n}, nil
}

// Distance is the euclidean distance from p to the line.
func (l Line) Distance(p r2.Point) float64 {
	return math.Abs(l.signedDistance(p))
}

func (l Line) signedDistance(p r2.Point) float64 {
	n := math.Hypot(l.A, l.B)
	if n == 0 {
		return math.Inf(1)
	}
	return (l.A*p.X + l.B*p.Y + l.C) / n
}

// Intersect returns the intersection of two lines. Parallel lines wrap
// robust.ErrDegenerate.
func (l Line) Intersect(o Line) (r2.Point, error) {
	det := l.A*o.B - l.B*o.A
	scale := math.Hypot(l.A, l.B) * math.Hypot(o.A, o.B)
	if scale == 0 || math.Abs(det)/scale < 1e-12 {
		return r2.Point{}, errors.Wrap(robust.ErrDegenerate, "parallel lines")
	}
	return r2.Point{
		X: (l.B*o.C - o.B*l.C) / det,
		Y: (o.A*l.C - l.A*o.C) / det,
	}, nil
}

// PointFromLines estimates the point where a set of 2D lines meet. Each line
// is one correspondence; the residual is the point to line distance.
type PointFromLines struct{}

func (PointFromLines) SampleSize() int { return 2 }
func (PointFromLines) Paired() bool    { return false }

func (PointFromLines) Fit(lines []Line, _ []struct{}, sample []int, _ bool) ([]r2.Point, error) {
	p, err := lines[sample[0]].Intersect(lines[sample[1]])
	if err != nil {
		return nil, err
	}
	return []r2.Point{p}, nil
}

func (PointFromLines) Residual(p r2.Point, l Line, _ struct{}) float64 {
	return l.Distance(p)
}

func (PointFromLines) Parameters(p r2.Point) []float64 { return []float64{p.X, p.Y} }

func (PointFromLines) FromParameters(params []float64, _ r2.Point) (r2.Point, error) {
	return r2.Point{X: params[0], Y: params[1]}, nil
}

func (PointFromLines) ResidualDims() int { return 1 }

func (PointFromLines) ResidualVector(dst []float64, p r2.Point, l Line, _ struct{}) {
	dst[0] = l.signedDistance(p)
}
