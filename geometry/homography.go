package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/robustfit/robust"
)

// Homography is a 3x3 projective transform of the plane, stored row major
// and scaled so that the bottom right entry is 1.
type Homography struct {
	h [9]float64
}

// NewHomography creates a Homography from 9 row major values.
func NewHomography(vals []float64) (Homography, error) {
	if len(vals) != 9 {
		return Homography{}, errors.Errorf("homography needs 9 values, got %d", len(vals))
	}
	var h Homography
	copy(h.h[:], vals)
	return h.normalized()
}

func (h Homography) normalized() (Homography, error) {
	s := h.h[8]
	if math.Abs(s) < 1e-14 {
		// Keep the scale of the largest entry instead.
		s = 0
		for _, v := range h.h {
			if math.Abs(v) > math.Abs(s) {
				s = v
			}
		}
		if s == 0 {
			return Homography{}, errors.New("homography is zero")
		}
	}
	for i := range h.h {
		h.h[i] /= s
	}
	return h, nil
}

// At returns the value of the homography at the given index.
func (h Homography) At(row, col int) float64 {
	return h.h[3*row+col]
}

// Matrix returns a copy of the homography as a gonum matrix.
func (h Homography) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), h.h[:]...))
}

// Values returns the 9 row major values.
func (h Homography) Values() []float64 {
	return append([]float64(nil), h.h[:]...)
}

// Apply maps pt through the homography. Points mapped to infinity have
// infinite coordinates.
func (h Homography) Apply(pt r2.Point) r2.Point {
	x := h.h[0]*pt.X + h.h[1]*pt.Y + h.h[2]
	y := h.h[3]*pt.X + h.h[4]*pt.Y + h.h[5]
	z := h.h[6]*pt.X + h.h[7]*pt.Y + h.h[8]
	return r2.Point{X: x / z, Y: y / z}
}

// ApplyAll maps every point through the homography.
func (h Homography) ApplyAll(points []r2.Point) []r2.Point {
	result := make([]r2.Point, len(points))
	for i, p := range points {
		result[i] = h.Apply(p)
	}
	return result
}

// Inverse inverts the homography.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Matrix()); err != nil {
		return Homography{}, errors.Wrap(err, "homography is not invertible")
	}
	return NewHomography(inv.RawMatrix().Data)
}

// EstimateHomographyDLT computes the homography mapping src onto dst from
// four or more pairs with the direct linear transform. Multiple View
// Geometry, Hartley & Zisserman, algorithm 4.2.
func EstimateHomographyDLT(src, dst []r2.Point, normalize bool) (Homography, error) {
	if len(src) < 4 || len(src) != len(dst) {
		return Homography{}, errors.Errorf("homography needs at least 4 pairs, got %d/%d", len(src), len(dst))
	}
	if collinearTriple(src) || collinearTriple(dst) {
		return Homography{}, errors.Wrap(robust.ErrDegenerate, "three collinear points")
	}

	s, d := src, dst
	t1, t2 := identity3(), identity3()
	if normalize {
		var ok1, ok2 bool
		t1, ok1 = normalization2D(src)
		t2, ok2 = normalization2D(dst)
		if !ok1 || !ok2 {
			return Homography{}, errors.Wrap(robust.ErrDegenerate, "coincident points")
		}
		s = make([]r2.Point, len(src))
		d = make([]r2.Point, len(dst))
		for i := range src {
			s[i] = apply2D(t1, src[i])
			d[i] = apply2D(t2, dst[i])
		}
	}

	a := mat.NewDense(2*len(s), 9, nil)
	for i := range s {
		x, y := s[i].X, s[i].Y
		u, v := d[i].X, d[i].Y
		a.SetRow(2*i, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
		a.SetRow(2*i+1, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
	}
	hv, ok := nullVector(a)
	if !ok {
		return Homography{}, errors.Wrap(robust.ErrDegenerate, "rank deficient homography system")
	}

	hn := mat.NewDense(3, 3, hv)
	if normalize {
		// H = T2⁻¹ Hn T1
		var t2inv mat.Dense
		if err := t2inv.Inverse(t2); err != nil {
			return Homography{}, errors.Wrap(err, "inverting normalization")
		}
		var tmp, full mat.Dense
		tmp.Mul(&t2inv, hn)
		full.Mul(&tmp, t1)
		hn = &full
	}
	h, err := NewHomography(hn.RawMatrix().Data)
	if err != nil {
		return Homography{}, errors.Wrap(robust.ErrDegenerate, err.Error())
	}
	return h, nil
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// collinearTriple reports whether any three points are (nearly) collinear.
func collinearTriple(pts []r2.Point) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				a, b := pts[j].Sub(pts[i]), pts[k].Sub(pts[i])
				scale := a.Norm() * b.Norm()
				if scale == 0 || math.Abs(a.Cross(b)) <= 1e-10*scale {
					return true
				}
			}
		}
	}
	return false
}

// Homography2D estimates a plane to plane homography from point pairs; the
// residual is the transfer error in the output plane.
type Homography2D struct{}

func (Homography2D) SampleSize() int { return 4 }
func (Homography2D) Paired() bool    { return true }

func (Homography2D) Fit(inputs, outputs []r2.Point, sample []int, normalize bool) ([]Homography, error) {
	src, dst := pairs(inputs, outputs, sample)
	h, err := EstimateHomographyDLT(src, dst, normalize)
	if err != nil {
		return nil, err
	}
	return []Homography{h}, nil
}

func (Homography2D) Residual(h Homography, in, out r2.Point) float64 {
	return h.Apply(in).Sub(out).Norm()
}

// Parameters are the first 8 entries; the last is fixed at 1.
func (Homography2D) Parameters(h Homography) []float64 {
	return append([]float64(nil), h.h[:8]...)
}

func (Homography2D) FromParameters(p []float64, _ Homography) (Homography, error) {
	var h Homography
	copy(h.h[:8], p)
	h.h[8] = 1
	return h, nil
}

func (Homography2D) ResidualDims() int { return 2 }

func (Homography2D) ResidualVector(dst []float64, h Homography, in, out r2.Point) {
	d := h.Apply(in).Sub(out)
	dst[0], dst[1] = d.X, d.Y
}
