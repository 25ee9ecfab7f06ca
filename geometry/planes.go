package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/kwv/robustfit/robust"
)

// Plane is the set of points X with Normal·X + D = 0.
type Plane struct {
	Normal r3.Vector `json:"normal"`
	D      float64   `json:"d"`
}

// PlaneThrough returns the plane through three points with a unit normal.
func PlaneThrough(a, b, c r3.Vector) (Plane, error) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.Norm() < 1e-12 {
		return Plane{}, errors.New("points are collinear")
	}
	n = n.Normalize()
	return Plane{Normal: n, D: -n.Dot(a)}, nil
}

// Distance is the euclidean distance from p to the plane.
func (pl Plane) Distance(p r3.Vector) float64 {
	return math.Abs(pl.signedDistance(p))
}

func (pl Plane) signedDistance(p r3.Vector) float64 {
	n := pl.Normal.Norm()
	if n == 0 {
		return math.Inf(1)
	}
	return (pl.Normal.Dot(p) + pl.D) / n
}

// intersectPlanes solves the three plane equations with Cramer's rule in
// vector form. Planes whose normals are linearly dependent wrap
// robust.ErrDegenerate.
func intersectPlanes(p1, p2, p3 Plane) (r3.Vector, error) {
	n23 := p2.Normal.Cross(p3.Normal)
	det := p1.Normal.Dot(n23)
	scale := p1.Normal.Norm() * p2.Normal.Norm() * p3.Normal.Norm()
	if scale == 0 || math.Abs(det)/scale < 1e-12 {
		return r3.Vector{}, errors.Wrap(robust.ErrDegenerate, "planes do not meet in a single point")
	}
	sum := n23.Mul(-p1.D).
		Add(p3.Normal.Cross(p1.Normal).Mul(-p2.D)).
		Add(p1.Normal.Cross(p2.Normal).Mul(-p3.D))
	return sum.Mul(1 / det), nil
}

// PointFromPlanes estimates the point where a set of planes meet.
type PointFromPlanes struct{}

func (PointFromPlanes) SampleSize() int { return 3 }
func (PointFromPlanes) Paired() bool    { return false }

func (PointFromPlanes) Fit(planes []Plane, _ []struct{}, sample []int, _ bool) ([]r3.Vector, error) {
	p, err := intersectPlanes(planes[sample[0]], planes[sample[1]], planes[sample[2]])
	if err != nil {
		return nil, err
	}
	return []r3.Vector{p}, nil
}

func (PointFromPlanes) Residual(p r3.Vector, pl Plane, _ struct{}) float64 {
	return pl.Distance(p)
}

func (PointFromPlanes) Parameters(p r3.Vector) []float64 { return []float64{p.X, p.Y, p.Z} }

func (PointFromPlanes) FromParameters(params []float64, _ r3.Vector) (r3.Vector, error) {
	return r3.Vector{X: params[0], Y: params[1], Z: params[2]}, nil
}

func (PointFromPlanes) ResidualDims() int { return 1 }

func (PointFromPlanes) ResidualVector(dst []float64, p r3.Vector, pl Plane, _ struct{}) {
	dst[0] = pl.signedDistance(p)
}
