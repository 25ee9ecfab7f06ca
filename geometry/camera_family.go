package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/robustfit/robust"
)

// PinholeCamera estimates a full projective camera from 3D to 2D point
// correspondences. The residual is the reprojection distance in pixels.
//
// Refinement works on 11 parameters: fx, fy, skew, ppx, ppy, the rotation
// as an axis-angle vector and the camera center.
type PinholeCamera struct {
	suggestions *CameraSuggestions
}

var pinholeLayout = paramLayout{intrinsics: 0, rotation: 5, center: 8}

func (*PinholeCamera) SampleSize() int { return 6 }
func (*PinholeCamera) Paired() bool    { return true }

func (*PinholeCamera) Fit(world []r3.Vector, image []r2.Point, sample []int, normalize bool) ([]Camera, error) {
	w, im := worldImagePairs(world, image, sample)
	c, err := EstimateCameraDLT(w, im, normalize)
	if err != nil {
		return nil, err
	}
	return []Camera{c}, nil
}

func (*PinholeCamera) Residual(c Camera, world r3.Vector, image r2.Point) float64 {
	return reprojection(c, world, image).Norm()
}

func (*PinholeCamera) Parameters(c Camera) []float64 {
	d, err := c.Decompose()
	if err != nil {
		// A NaN start makes refinement fail and keep the consensus model.
		nan := make([]float64, 11)
		for i := range nan {
			nan[i] = math.NaN()
		}
		return nan
	}
	in := d.Intrinsics
	r := RotationToVector(d.Rotation)
	return []float64{
		in.FocalX, in.FocalY, in.Skew, in.PrincipalX, in.PrincipalY,
		r.X, r.Y, r.Z,
		d.Center.X, d.Center.Y, d.Center.Z,
	}
}

func (*PinholeCamera) FromParameters(p []float64, _ Camera) (Camera, error) {
	k := Intrinsics{FocalX: p[0], FocalY: p[1], Skew: p[2], PrincipalX: p[3], PrincipalY: p[4]}
	rot := RotationFromVector(r3.Vector{X: p[5], Y: p[6], Z: p[7]})
	return ComposeCamera(k, rot, r3.Vector{X: p[8], Y: p[9], Z: p[10]}), nil
}

func (*PinholeCamera) ResidualDims() int { return 2 }

func (*PinholeCamera) ResidualVector(dst []float64, c Camera, world r3.Vector, image r2.Point) {
	d := reprojection(c, world, image)
	dst[0], dst[1] = d.X, d.Y
}

func (f *PinholeCamera) Constraints() []robust.Constraint {
	if f.suggestions == nil {
		return nil
	}
	return f.suggestions.constraints(pinholeLayout)
}

// CameraPose is a camera orientation and position for known intrinsics.
type CameraPose struct {
	Rotation *mat.Dense
	Center   r3.Vector
	camera   Camera
}

// Camera returns the full projection matrix of the pose.
func (p CameraPose) Camera() Camera {
	return p.camera
}

// KnownIntrinsicsPose estimates the pose of a calibrated camera from 3D to
// 2D correspondences. The minimal solver is the DLT followed by projecting
// K⁻¹P onto the closest rotation, so six correspondences are needed.
//
// Refinement works on 6 parameters: the rotation as an axis-angle vector and
// the camera center.
type KnownIntrinsicsPose struct {
	intrinsics  Intrinsics
	kinv        *mat.Dense
	suggestions *CameraSuggestions
}

var poseLayout = paramLayout{intrinsics: -1, rotation: 0, center: 3}

// NewKnownIntrinsicsPose validates the intrinsics and returns the family.
func NewKnownIntrinsicsPose(k Intrinsics) (*KnownIntrinsicsPose, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	var kinv mat.Dense
	if err := kinv.Inverse(k.Matrix()); err != nil {
		return nil, invalid("intrinsics are not invertible: %v", err)
	}
	return &KnownIntrinsicsPose{intrinsics: k, kinv: &kinv}, nil
}

// Intrinsics returns the fixed calibration.
func (f *KnownIntrinsicsPose) Intrinsics() Intrinsics {
	return f.intrinsics
}

// NewPose builds a pose from a rotation and a center.
func (f *KnownIntrinsicsPose) NewPose(rotation *mat.Dense, center r3.Vector) CameraPose {
	return CameraPose{Rotation: rotation, Center: center, camera: ComposeCamera(f.intrinsics, rotation, center)}
}

func (*KnownIntrinsicsPose) SampleSize() int { return 6 }
func (*KnownIntrinsicsPose) Paired() bool    { return true }

func (f *KnownIntrinsicsPose) Fit(world []r3.Vector, image []r2.Point, sample []int, normalize bool) ([]CameraPose, error) {
	w, im := worldImagePairs(world, image, sample)
	c, err := EstimateCameraDLT(w, im, normalize)
	if err != nil {
		return nil, err
	}

	// K⁻¹P = λ [R | t]
	var rt mat.Dense
	rt.Mul(f.kinv, c.Matrix())
	rot, scale, ok := orthonormalize(rt.Slice(0, 3, 0, 3))
	if !ok || math.Abs(scale) < 1e-12 {
		return nil, wrapDegenerate("pose block is not a scaled rotation")
	}
	t := r3.Vector{X: rt.At(0, 3) / scale, Y: rt.At(1, 3) / scale, Z: rt.At(2, 3) / scale}

	// C = -Rᵀ t
	center := r3.Vector{
		X: -(rot.At(0, 0)*t.X + rot.At(1, 0)*t.Y + rot.At(2, 0)*t.Z),
		Y: -(rot.At(0, 1)*t.X + rot.At(1, 1)*t.Y + rot.At(2, 1)*t.Z),
		Z: -(rot.At(0, 2)*t.X + rot.At(1, 2)*t.Y + rot.At(2, 2)*t.Z),
	}
	return []CameraPose{f.NewPose(rot, center)}, nil
}

func (*KnownIntrinsicsPose) Residual(p CameraPose, world r3.Vector, image r2.Point) float64 {
	return reprojection(p.camera, world, image).Norm()
}

func (*KnownIntrinsicsPose) Parameters(p CameraPose) []float64 {
	r := RotationToVector(p.Rotation)
	return []float64{r.X, r.Y, r.Z, p.Center.X, p.Center.Y, p.Center.Z}
}

func (f *KnownIntrinsicsPose) FromParameters(params []float64, _ CameraPose) (CameraPose, error) {
	rot := RotationFromVector(r3.Vector{X: params[0], Y: params[1], Z: params[2]})
	return f.NewPose(rot, r3.Vector{X: params[3], Y: params[4], Z: params[5]}), nil
}

func (*KnownIntrinsicsPose) ResidualDims() int { return 2 }

func (*KnownIntrinsicsPose) ResidualVector(dst []float64, p CameraPose, world r3.Vector, image r2.Point) {
	d := reprojection(p.camera, world, image)
	dst[0], dst[1] = d.X, d.Y
}

func (f *KnownIntrinsicsPose) Constraints() []robust.Constraint {
	if f.suggestions == nil {
		return nil
	}
	return f.suggestions.constraints(poseLayout)
}
