package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RotationFromVector converts an axis-angle vector (axis scaled by the angle
// in radians) to a 3x3 rotation matrix with the Rodrigues formula.
func RotationFromVector(r r3.Vector) *mat.Dense {
	theta := r.Norm()
	if theta < 1e-12 {
		return mat.NewDense(3, 3, []float64{
			1, -r.Z, r.Y,
			r.Z, 1, -r.X,
			-r.Y, r.X, 1,
		})
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// RotationToVector is the inverse of RotationFromVector. The returned angle
// is in [0, pi].
func RotationToVector(m mat.Matrix) r3.Vector {
	tr := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	cosTheta := math.Max(-1, math.Min(1, (tr-1)/2))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{
		X: m.At(2, 1) - m.At(1, 2),
		Y: m.At(0, 2) - m.At(2, 0),
		Z: m.At(1, 0) - m.At(0, 1),
	}

	switch {
	case theta < 1e-12:
		return axis.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// sin(theta) vanishes; recover the axis from the symmetric part.
		k := r3.Vector{
			X: math.Sqrt(math.Max(0, (m.At(0, 0)+1)/2)),
			Y: math.Sqrt(math.Max(0, (m.At(1, 1)+1)/2)),
			Z: math.Sqrt(math.Max(0, (m.At(2, 2)+1)/2)),
		}
		switch {
		case k.X >= k.Y && k.X >= k.Z:
			k.Y = math.Copysign(k.Y, m.At(0, 1))
			k.Z = math.Copysign(k.Z, m.At(0, 2))
		case k.Y >= k.Z:
			k.X = math.Copysign(k.X, m.At(0, 1))
			k.Z = math.Copysign(k.Z, m.At(1, 2))
		default:
			k.X = math.Copysign(k.X, m.At(0, 2))
			k.Y = math.Copysign(k.Y, m.At(1, 2))
		}
		return k.Normalize().Mul(theta)
	default:
		return axis.Mul(theta / (2 * math.Sin(theta)))
	}
}

// RotationDistance is the angle in radians of the rotation taking a to b.
func RotationDistance(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a.T(), b)
	return RotationToVector(&rel).Norm()
}

// orthonormalize returns the rotation closest to m in the Frobenius norm and
// the mean singular value of m.
func orthonormalize(m mat.Matrix) (*mat.Dense, float64, bool) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, 0, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	r := mat.NewDense(3, 3, nil)
	r.Mul(&u, v.T())
	scale := (values[0] + values[1] + values[2]) / 3
	if mat.Det(r) < 0 {
		r.Scale(-1, r)
		scale = -scale
	}
	return r, scale, true
}
