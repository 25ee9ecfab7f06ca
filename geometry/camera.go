package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/robustfit/robust"
)

// Intrinsics are the pinhole camera calibration parameters.
type Intrinsics struct {
	FocalX     float64 `json:"fx" yaml:"fx"`
	FocalY     float64 `json:"fy" yaml:"fy"`
	Skew       float64 `json:"skew" yaml:"skew"`
	PrincipalX float64 `json:"ppx" yaml:"ppx"`
	PrincipalY float64 `json:"ppy" yaml:"ppy"`
}

// Matrix returns the upper triangular calibration matrix K.
func (in Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.FocalX, in.Skew, in.PrincipalX,
		0, in.FocalY, in.PrincipalY,
		0, 0, 1,
	})
}

// AspectRatio is FocalY / FocalX.
func (in Intrinsics) AspectRatio() float64 {
	return in.FocalY / in.FocalX
}

// Validate checks that the intrinsics describe a usable camera.
func (in Intrinsics) Validate() error {
	vals := []float64{in.FocalX, in.FocalY, in.Skew, in.PrincipalX, in.PrincipalY}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrap(robust.ErrInvalidArgument, "intrinsics must be finite")
		}
	}
	if in.FocalX <= 0 || in.FocalY <= 0 {
		return errors.Wrapf(robust.ErrInvalidArgument, "focal lengths must be positive, got %g/%g", in.FocalX, in.FocalY)
	}
	return nil
}

// Camera is a 3x4 pinhole projection matrix P = K R [I | -C], stored row
// major up to scale.
type Camera struct {
	p [12]float64
}

// NewCamera creates a camera from 12 row major values.
func NewCamera(vals []float64) (Camera, error) {
	if len(vals) != 12 {
		return Camera{}, errors.Errorf("camera matrix needs 12 values, got %d", len(vals))
	}
	var c Camera
	copy(c.p[:], vals)
	return c, nil
}

// ComposeCamera builds P = K R [I | -C].
func ComposeCamera(k Intrinsics, rotation mat.Matrix, center r3.Vector) Camera {
	var kr mat.Dense
	kr.Mul(k.Matrix(), rotation)
	var c Camera
	for i := 0; i < 3; i++ {
		a, b, d := kr.At(i, 0), kr.At(i, 1), kr.At(i, 2)
		c.p[4*i] = a
		c.p[4*i+1] = b
		c.p[4*i+2] = d
		c.p[4*i+3] = -(a*center.X + b*center.Y + d*center.Z)
	}
	return c
}

// Matrix returns a copy of the projection matrix.
func (c Camera) Matrix() *mat.Dense {
	return mat.NewDense(3, 4, append([]float64(nil), c.p[:]...))
}

// Project maps a 3D point to the image. Points on the principal plane have
// infinite coordinates.
func (c Camera) Project(x r3.Vector) r2.Point {
	p := &c.p
	u := p[0]*x.X + p[1]*x.Y + p[2]*x.Z + p[3]
	v := p[4]*x.X + p[5]*x.Y + p[6]*x.Z + p[7]
	w := p[8]*x.X + p[9]*x.Y + p[10]*x.Z + p[11]
	return r2.Point{X: u / w, Y: v / w}
}

// CameraDecomposition is a camera split into calibration, orientation and
// position.
type CameraDecomposition struct {
	Intrinsics Intrinsics
	Rotation   *mat.Dense
	Center     r3.Vector
}

// Decompose splits the camera into K, R and C using an RQ decomposition of
// the left 3x3 block. K has a positive diagonal and unit bottom right entry;
// R is a proper rotation.
func (c Camera) Decompose() (CameraDecomposition, error) {
	m := mat.NewDense(3, 3, nil)
	p4 := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		m.Set(i, 0, c.p[4*i])
		m.Set(i, 1, c.p[4*i+1])
		m.Set(i, 2, c.p[4*i+2])
		p4.SetVec(i, c.p[4*i+3])
	}
	det := mat.Det(m)
	if math.Abs(det) < 1e-300 {
		return CameraDecomposition{}, errors.New("camera matrix has a singular left block")
	}
	if det < 0 {
		m.Scale(-1, m)
		p4.ScaleVec(-1, p4)
	}

	k, r := rq3(m)
	if k.At(2, 2) == 0 {
		return CameraDecomposition{}, errors.New("camera calibration is degenerate")
	}
	k.Scale(1/k.At(2, 2), k)

	// C = -M⁻¹ p4
	var center mat.VecDense
	if err := center.SolveVec(m, p4); err != nil {
		return CameraDecomposition{}, errors.Wrap(err, "solving for camera center")
	}
	return CameraDecomposition{
		Intrinsics: Intrinsics{
			FocalX:     k.At(0, 0),
			FocalY:     k.At(1, 1),
			Skew:       k.At(0, 1),
			PrincipalX: k.At(0, 2),
			PrincipalY: k.At(1, 2),
		},
		Rotation: r,
		Center:   r3.Vector{X: -center.AtVec(0), Y: -center.AtVec(1), Z: -center.AtVec(2)},
	}, nil
}

// rq3 factors m = K R with K upper triangular with positive diagonal and R
// orthogonal. With J the row reversal, the QR factorization Mᵀ J = Q U gives
// K = J Uᵀ J and R = J Qᵀ.
func rq3(m mat.Matrix) (*mat.Dense, *mat.Dense) {
	j := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})

	var mtj mat.Dense
	mtj.Mul(m.T(), j)
	var qr mat.QR
	qr.Factorize(&mtj)
	var q, u mat.Dense
	qr.QTo(&q)
	qr.RTo(&u)

	k := mat.NewDense(3, 3, nil)
	var tmp mat.Dense
	tmp.Mul(j, u.T())
	k.Mul(&tmp, j)

	r := mat.NewDense(3, 3, nil)
	r.Mul(j, q.T())

	// K D and D R with D = diag(sign(K_ii)) leave the product unchanged.
	for i := 0; i < 3; i++ {
		if k.At(i, i) < 0 {
			for row := 0; row < 3; row++ {
				k.Set(row, i, -k.At(row, i))
			}
			for col := 0; col < 3; col++ {
				r.Set(i, col, -r.At(i, col))
			}
		}
	}
	return k, r
}

// EstimateCameraDLT computes the projection matrix from six or more 3D to 2D
// correspondences with the direct linear transform. Multiple View Geometry,
// Hartley & Zisserman, algorithm 7.1.
func EstimateCameraDLT(world []r3.Vector, image []r2.Point, normalize bool) (Camera, error) {
	if len(world) < 6 || len(world) != len(image) {
		return Camera{}, errors.Errorf("camera needs at least 6 correspondences, got %d/%d", len(world), len(image))
	}

	w, im := world, image
	var t3, t2 *mat.Dense
	if normalize {
		var ok3, ok2 bool
		t3, ok3 = normalization3D(world)
		t2, ok2 = normalization2D(image)
		if !ok3 || !ok2 {
			return Camera{}, errors.Wrap(robust.ErrDegenerate, "coincident points")
		}
		w = make([]r3.Vector, len(world))
		im = make([]r2.Point, len(image))
		for i := range world {
			w[i] = apply3D(t3, world[i])
			im[i] = apply2D(t2, image[i])
		}
	}

	a := mat.NewDense(2*len(w), 12, nil)
	for i := range w {
		x, y, z := w[i].X, w[i].Y, w[i].Z
		u, v := im[i].X, im[i].Y
		a.SetRow(2*i, []float64{0, 0, 0, 0, -x, -y, -z, -1, v * x, v * y, v * z, v})
		a.SetRow(2*i+1, []float64{x, y, z, 1, 0, 0, 0, 0, -u * x, -u * y, -u * z, -u})
	}
	pv, ok := nullVector(a)
	if !ok {
		return Camera{}, errors.Wrap(robust.ErrDegenerate, "rank deficient camera system")
	}

	p := mat.NewDense(3, 4, pv)
	if normalize {
		// P = T2⁻¹ Pn T3
		var t2inv mat.Dense
		if err := t2inv.Inverse(t2); err != nil {
			return Camera{}, errors.Wrap(err, "inverting normalization")
		}
		var tmp, full mat.Dense
		tmp.Mul(&t2inv, p)
		full.Mul(&tmp, t3)
		p = &full
	}

	var c Camera
	copy(c.p[:], p.RawMatrix().Data)
	// Scale so that the third row of the left block has unit norm.
	s := math.Sqrt(c.p[8]*c.p[8] + c.p[9]*c.p[9] + c.p[10]*c.p[10])
	if s == 0 {
		return Camera{}, errors.Wrap(robust.ErrDegenerate, "camera at infinity")
	}
	for i := range c.p {
		c.p[i] /= s
	}
	return c, nil
}

// reprojection returns projected minus observed.
func reprojection(c Camera, world r3.Vector, image r2.Point) r2.Point {
	return c.Project(world).Sub(image)
}

func worldImagePairs(world []r3.Vector, image []r2.Point, sample []int) ([]r3.Vector, []r2.Point) {
	w := make([]r3.Vector, len(sample))
	im := make([]r2.Point, len(sample))
	for i, idx := range sample {
		w[i], im[i] = world[idx], image[idx]
	}
	return w, im
}
