package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/kwv/robustfit/robust"
)

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a" yaml:"a"`
	B  float64 `json:"b" yaml:"b"`
	Tx float64 `json:"tx" yaml:"tx"`
	C  float64 `json:"c" yaml:"c"`
	D  float64 `json:"d" yaml:"d"`
	Ty float64 `json:"ty" yaml:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, D: 1}
}

// Apply maps p through the transform.
func (m AffineMatrix) Apply(p r2.Point) r2.Point {
	return r2.Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// ApplyAll maps every point through the transform.
func (m AffineMatrix) ApplyAll(points []r2.Point) []r2.Point {
	result := make([]r2.Point, len(points))
	for i, p := range points {
		result[i] = m.Apply(p)
	}
	return result
}

// Compose returns m * o: applying the result is applying o first, then m.
func (m AffineMatrix) Compose(o AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m.A*o.A + m.B*o.C,
		B:  m.A*o.B + m.B*o.D,
		Tx: m.A*o.Tx + m.B*o.Ty + m.Tx,
		C:  m.C*o.A + m.D*o.C,
		D:  m.C*o.B + m.D*o.D,
		Ty: m.C*o.Tx + m.D*o.Ty + m.Ty,
	}
}

// Inverse returns the inverse transform.
func (m AffineMatrix) Inverse() (AffineMatrix, error) {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-10 {
		return AffineMatrix{}, errors.Errorf("affine transform is singular (det %g)", det)
	}
	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, nil
}

// RotationAngle is the rotation component in radians, atan2(C, A).
func (m AffineMatrix) RotationAngle() float64 {
	return math.Atan2(m.C, m.A)
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, Tx: tx, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos, sin := math.Cos(angle), math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, C: sin, D: cos}
}

// Euclidean creates a rotation followed by a translation.
func Euclidean(angle, tx, ty float64) AffineMatrix {
	m := Rotation(angle)
	m.Tx, m.Ty = tx, ty
	return m
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, D: sy}
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []r2.Point) r2.Point {
	if len(points) == 0 {
		return r2.Point{}
	}
	var sum r2.Point
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// FitAffine computes the least squares affine transform mapping source onto
// target from the 3x3 normal equations. At least three non-collinear pairs
// are needed; otherwise the error wraps robust.ErrDegenerate.
func FitAffine(source, target []r2.Point) (AffineMatrix, error) {
	if len(source) < 3 || len(source) != len(target) {
		return AffineMatrix{}, errors.Errorf("affine fit needs at least 3 pairs, got %d/%d", len(source), len(target))
	}
	n := float64(len(source))

	var sumX, sumY, sumXX, sumXY, sumYY float64
	var sumXp, sumYp, sumXXp, sumXYp, sumYXp, sumYYp float64
	for i := range source {
		x, y := source[i].X, source[i].Y
		xp, yp := target[i].X, target[i].Y

		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
		sumYY += y * y
		sumXp += xp
		sumYp += yp
		sumXXp += x * xp
		sumXYp += x * yp
		sumYXp += y * xp
		sumYYp += y * yp
	}

	// Cramer's rule on [[sumXX, sumXY, sumX], [sumXY, sumYY, sumY], [sumX, sumY, n]]
	det := sumXX*(sumYY*n-sumY*sumY) - sumXY*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumY-sumYY*sumX)
	spread := sumXX + sumYY
	if spread == 0 || math.Abs(det) < 1e-12*spread*spread*n {
		return AffineMatrix{}, errors.Wrap(robust.ErrDegenerate, "collinear source points")
	}
	invDet := 1.0 / det

	detA := sumXXp*(sumYY*n-sumY*sumY) - sumXY*(sumYXp*n-sumY*sumXp) + sumX*(sumYXp*sumY-sumYY*sumXp)
	detB := sumXX*(sumYXp*n-sumY*sumXp) - sumXXp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumXp-sumYXp*sumX)
	detTx := sumXX*(sumYY*sumXp-sumYXp*sumY) - sumXY*(sumXY*sumXp-sumYXp*sumX) + sumXXp*(sumXY*sumY-sumYY*sumX)

	detC := sumXYp*(sumYY*n-sumY*sumY) - sumXY*(sumYYp*n-sumY*sumYp) + sumX*(sumYYp*sumY-sumYY*sumYp)
	detD := sumXX*(sumYYp*n-sumY*sumYp) - sumXYp*(sumXY*n-sumY*sumX) + sumX*(sumXY*sumYp-sumYYp*sumX)
	detTy := sumXX*(sumYY*sumYp-sumYYp*sumY) - sumXY*(sumXY*sumYp-sumYYp*sumX) + sumXYp*(sumXY*sumY-sumYY*sumX)

	return AffineMatrix{
		A: detA * invDet, B: detB * invDet, Tx: detTx * invDet,
		C: detC * invDet, D: detD * invDet, Ty: detTy * invDet,
	}, nil
}

// FitEuclidean computes the rigid transform (rotation and translation, no
// scale) that best maps source onto target, by Procrustes analysis.
func FitEuclidean(source, target []r2.Point) (AffineMatrix, error) {
	if len(source) < 2 || len(source) != len(target) {
		return AffineMatrix{}, errors.Errorf("euclidean fit needs at least 2 pairs, got %d/%d", len(source), len(target))
	}
	srcCentroid := Centroid(source)
	tgtCentroid := Centroid(target)

	// Cross-covariance H = src^T * tgt of the centered sets.
	var h11, h12, h21, h22, spread float64
	for i := range source {
		s := source[i].Sub(srcCentroid)
		t := target[i].Sub(tgtCentroid)
		h11 += s.X * t.X
		h12 += s.X * t.Y
		h21 += s.Y * t.X
		h22 += s.Y * t.Y
		spread += s.Dot(s)
	}
	if spread < 1e-20 {
		return AffineMatrix{}, errors.Wrap(robust.ErrDegenerate, "coincident source points")
	}

	// For t = R·s, h12-h21 = sinθ·Σ|s|² and h11+h22 = cosθ·Σ|s|².
	theta := math.Atan2(h12-h21, h11+h22)
	m := Rotation(theta)
	t := tgtCentroid.Sub(m.Apply(srcCentroid))
	m.Tx, m.Ty = t.X, t.Y
	return m, nil
}

// pairs gathers the sampled correspondences.
func pairs(inputs, outputs []r2.Point, sample []int) ([]r2.Point, []r2.Point) {
	src := make([]r2.Point, len(sample))
	dst := make([]r2.Point, len(sample))
	for i, idx := range sample {
		src[i], dst[i] = inputs[idx], outputs[idx]
	}
	return src, dst
}

// Affine2D estimates a general 2D affine transform from point pairs. The
// residual is the transfer error |T(in) - out|.
type Affine2D struct{}

func (Affine2D) SampleSize() int { return 3 }
func (Affine2D) Paired() bool    { return true }

func (Affine2D) Fit(inputs, outputs []r2.Point, sample []int, _ bool) ([]AffineMatrix, error) {
	src, dst := pairs(inputs, outputs, sample)
	m, err := FitAffine(src, dst)
	if err != nil {
		return nil, err
	}
	return []AffineMatrix{m}, nil
}

func (Affine2D) Residual(m AffineMatrix, in, out r2.Point) float64 {
	return m.Apply(in).Sub(out).Norm()
}

func (Affine2D) Parameters(m AffineMatrix) []float64 {
	return []float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
}

func (Affine2D) FromParameters(p []float64, _ AffineMatrix) (AffineMatrix, error) {
	return AffineMatrix{A: p[0], B: p[1], Tx: p[2], C: p[3], D: p[4], Ty: p[5]}, nil
}

func (Affine2D) ResidualDims() int { return 2 }

func (Affine2D) ResidualVector(dst []float64, m AffineMatrix, in, out r2.Point) {
	d := m.Apply(in).Sub(out)
	dst[0], dst[1] = d.X, d.Y
}

// Euclidean2D estimates a rotation and translation from point pairs.
type Euclidean2D struct{}

func (Euclidean2D) SampleSize() int { return 2 }
func (Euclidean2D) Paired() bool    { return true }

func (Euclidean2D) Fit(inputs, outputs []r2.Point, sample []int, _ bool) ([]AffineMatrix, error) {
	src, dst := pairs(inputs, outputs, sample)
	m, err := FitEuclidean(src, dst)
	if err != nil {
		return nil, err
	}
	return []AffineMatrix{m}, nil
}

func (Euclidean2D) Residual(m AffineMatrix, in, out r2.Point) float64 {
	return m.Apply(in).Sub(out).Norm()
}

func (Euclidean2D) Parameters(m AffineMatrix) []float64 {
	return []float64{m.RotationAngle(), m.Tx, m.Ty}
}

func (Euclidean2D) FromParameters(p []float64, _ AffineMatrix) (AffineMatrix, error) {
	return Euclidean(p[0], p[1], p[2]), nil
}

func (Euclidean2D) ResidualDims() int { return 2 }

func (Euclidean2D) ResidualVector(dst []float64, m AffineMatrix, in, out r2.Point) {
	d := m.Apply(in).Sub(out)
	dst[0], dst[1] = d.X, d.Y
}
