package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/robustfit/robust"
)

// CameraSuggestions are soft targets for camera refinement. Each enabled
// suggestion adds Weight times its squared deviation to the refinement cost;
// the consensus search ignores them.
type CameraSuggestions struct {
	SkewnessEnabled bool    `yaml:"skewnessEnabled" json:"skewnessEnabled"`
	Skewness        float64 `yaml:"skewness" json:"skewness"`

	HorizontalFocalLengthEnabled bool    `yaml:"horizontalFocalLengthEnabled" json:"horizontalFocalLengthEnabled"`
	HorizontalFocalLength        float64 `yaml:"horizontalFocalLength" json:"horizontalFocalLength"`

	VerticalFocalLengthEnabled bool    `yaml:"verticalFocalLengthEnabled" json:"verticalFocalLengthEnabled"`
	VerticalFocalLength        float64 `yaml:"verticalFocalLength" json:"verticalFocalLength"`

	AspectRatioEnabled bool    `yaml:"aspectRatioEnabled" json:"aspectRatioEnabled"`
	AspectRatio        float64 `yaml:"aspectRatio" json:"aspectRatio"`

	PrincipalPointEnabled bool     `yaml:"principalPointEnabled" json:"principalPointEnabled"`
	PrincipalPoint        r2.Point `yaml:"principalPoint" json:"principalPoint"`

	// Rotation is an axis-angle vector, see RotationFromVector.
	RotationEnabled bool      `yaml:"rotationEnabled" json:"rotationEnabled"`
	Rotation        r3.Vector `yaml:"rotation" json:"rotation"`

	CenterEnabled bool      `yaml:"centerEnabled" json:"centerEnabled"`
	Center        r3.Vector `yaml:"center" json:"center"`

	Weight float64 `yaml:"weight" json:"weight"`
}

// DefaultCameraSuggestions disables every suggestion. Targets default to
// zero skew and unit aspect ratio.
func DefaultCameraSuggestions() CameraSuggestions {
	return CameraSuggestions{AspectRatio: 1, Weight: 1}
}

// Any reports whether at least one suggestion is enabled.
func (s CameraSuggestions) Any() bool {
	return s.SkewnessEnabled || s.HorizontalFocalLengthEnabled || s.VerticalFocalLengthEnabled ||
		s.AspectRatioEnabled || s.PrincipalPointEnabled || s.RotationEnabled || s.CenterEnabled
}

// Validate checks the weight and the targets that must be positive.
func (s CameraSuggestions) Validate() error {
	if !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
		return invalid("suggestion weight must be positive, got %g", s.Weight)
	}
	if s.AspectRatioEnabled && !(s.AspectRatio > 0) {
		return invalid("suggested aspect ratio must be positive, got %g", s.AspectRatio)
	}
	if s.HorizontalFocalLengthEnabled && !(s.HorizontalFocalLength > 0) {
		return invalid("suggested horizontal focal length must be positive, got %g", s.HorizontalFocalLength)
	}
	if s.VerticalFocalLengthEnabled && !(s.VerticalFocalLength > 0) {
		return invalid("suggested vertical focal length must be positive, got %g", s.VerticalFocalLength)
	}
	return nil
}

// paramLayout gives the offset of each parameter group in a refinement
// vector, -1 when the group is not refined.
type paramLayout struct {
	intrinsics int // fx, fy, skew, ppx, ppy
	rotation   int // axis-angle
	center     int
}

// constraints returns the penalty terms for the enabled suggestions that
// apply to layout.
func (s CameraSuggestions) constraints(layout paramLayout) []robust.Constraint {
	var out []robust.Constraint
	w := s.Weight
	if in := layout.intrinsics; in >= 0 {
		if s.HorizontalFocalLengthEnabled {
			out = append(out, scalarTarget{index: in, target: s.HorizontalFocalLength, weight: w})
		}
		if s.VerticalFocalLengthEnabled {
			out = append(out, scalarTarget{index: in + 1, target: s.VerticalFocalLength, weight: w})
		}
		if s.SkewnessEnabled {
			out = append(out, scalarTarget{index: in + 2, target: s.Skewness, weight: w})
		}
		if s.AspectRatioEnabled {
			out = append(out, ratioTarget{num: in + 1, den: in, target: s.AspectRatio, weight: w})
		}
		if s.PrincipalPointEnabled {
			out = append(out, vectorTarget{offset: in + 3, target: []float64{s.PrincipalPoint.X, s.PrincipalPoint.Y}, weight: w})
		}
	}
	if layout.rotation >= 0 && s.RotationEnabled {
		out = append(out, rotationTarget{offset: layout.rotation, target: RotationFromVector(s.Rotation), weight: w})
	}
	if layout.center >= 0 && s.CenterEnabled {
		c := s.Center
		out = append(out, vectorTarget{offset: layout.center, target: []float64{c.X, c.Y, c.Z}, weight: w})
	}
	return out
}

type scalarTarget struct {
	index          int
	target, weight float64
}

func (scalarTarget) Dims() int { return 1 }

func (c scalarTarget) Residuals(dst, params []float64) {
	dst[0] = math.Sqrt(c.weight) * (params[c.index] - c.target)
}

type ratioTarget struct {
	num, den       int
	target, weight float64
}

func (ratioTarget) Dims() int { return 1 }

func (c ratioTarget) Residuals(dst, params []float64) {
	dst[0] = math.Sqrt(c.weight) * (params[c.num]/params[c.den] - c.target)
}

type vectorTarget struct {
	offset int
	target []float64
	weight float64
}

func (c vectorTarget) Dims() int { return len(c.target) }

func (c vectorTarget) Residuals(dst, params []float64) {
	sw := math.Sqrt(c.weight)
	for i, t := range c.target {
		dst[i] = sw * (params[c.offset+i] - t)
	}
}

// rotationTarget penalizes the axis-angle of the rotation between the target
// and the refined rotation.
type rotationTarget struct {
	offset int
	target *mat.Dense
	weight float64
}

func (rotationTarget) Dims() int { return 3 }

func (c rotationTarget) Residuals(dst, params []float64) {
	r := RotationFromVector(r3.Vector{X: params[c.offset], Y: params[c.offset+1], Z: params[c.offset+2]})
	var rel mat.Dense
	rel.Mul(c.target.T(), r)
	d := RotationToVector(&rel)
	sw := math.Sqrt(c.weight)
	dst[0], dst[1], dst[2] = sw*d.X, sw*d.Y, sw*d.Z
}
