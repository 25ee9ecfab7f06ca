package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Hartley normalization: translate the centroid to the origin and scale so
// the mean distance to it is sqrt(2) in the plane and sqrt(3) in space.
// Multiple View Geometry, Hartley & Zisserman, section 4.4.4.

// normalization2D returns the 3x3 similarity that normalizes pts. It returns
// false when every point coincides.
func normalization2D(pts []r2.Point) (*mat.Dense, bool) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	mean := 0.0
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	if mean < 1e-15 {
		return nil, false
	}
	s := math.Sqrt2 / mean
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}), true
}

// normalization3D returns the 4x4 similarity that normalizes pts.
func normalization3D(pts []r3.Vector) (*mat.Dense, bool) {
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	mean := 0.0
	for _, p := range pts {
		mean += p.Sub(c).Norm()
	}
	mean /= float64(len(pts))
	if mean < 1e-15 {
		return nil, false
	}
	s := math.Sqrt(3) / mean
	return mat.NewDense(4, 4, []float64{
		s, 0, 0, -s * c.X,
		0, s, 0, -s * c.Y,
		0, 0, s, -s * c.Z,
		0, 0, 0, 1,
	}), true
}

func apply2D(t *mat.Dense, p r2.Point) r2.Point {
	w := t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)
	return r2.Point{
		X: (t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)) / w,
		Y: (t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)) / w,
	}
}

func apply3D(t *mat.Dense, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)*p.Z + t.At(0, 3),
		Y: t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)*p.Z + t.At(1, 3),
		Z: t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)*p.Z + t.At(2, 3),
	}
}

// nullVector returns the right singular vector of a for its smallest
// singular value. It reports false when the second smallest singular value
// is negligible, i.e. the null space is not one dimensional.
func nullVector(a mat.Matrix) ([]float64, bool) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, false
	}
	values := svd.Values(nil)
	_, cols := a.Dims()
	var v mat.Dense
	svd.VTo(&v)

	// For wide systems the missing singular values are zero.
	rows, _ := a.Dims()
	if rows < cols-1 {
		return nil, false
	}
	second := values[cols-2]
	if values[0] == 0 || second/values[0] < rankTolerance {
		return nil, false
	}
	return mat.Col(nil, cols-1, &v), true
}

// rankTolerance is the relative singular value below which a DLT system is
// treated as rank deficient.
const rankTolerance = 1e-12
