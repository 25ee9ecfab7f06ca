package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/robustfit/robust"
)

// NewPoint2DEstimator estimates the common point of a set of 2D lines.
func NewPoint2DEstimator(method robust.Method, lines []Line, opts ...robust.Option) (*robust.Estimator[Line, struct{}, r2.Point], error) {
	if lines != nil {
		opts = append([]robust.Option{robust.WithInputs(lines)}, opts...)
	}
	return robust.New[Line, struct{}, r2.Point](PointFromLines{}, method, opts...)
}

// NewPoint3DEstimator estimates the common point of a set of planes.
func NewPoint3DEstimator(method robust.Method, planes []Plane, opts ...robust.Option) (*robust.Estimator[Plane, struct{}, r3.Vector], error) {
	if planes != nil {
		opts = append([]robust.Option{robust.WithInputs(planes)}, opts...)
	}
	return robust.New[Plane, struct{}, r3.Vector](PointFromPlanes{}, method, opts...)
}

// NewAffineEstimator estimates a 2D affine transform mapping inputs onto
// outputs.
func NewAffineEstimator(method robust.Method, inputs, outputs []r2.Point, opts ...robust.Option) (*robust.Estimator[r2.Point, r2.Point, AffineMatrix], error) {
	return robust.New[r2.Point, r2.Point, AffineMatrix](Affine2D{}, method, withPairs(inputs, outputs, opts)...)
}

// NewEuclideanEstimator estimates a 2D rotation and translation.
func NewEuclideanEstimator(method robust.Method, inputs, outputs []r2.Point, opts ...robust.Option) (*robust.Estimator[r2.Point, r2.Point, AffineMatrix], error) {
	return robust.New[r2.Point, r2.Point, AffineMatrix](Euclidean2D{}, method, withPairs(inputs, outputs, opts)...)
}

// NewHomographyEstimator estimates a 2D homography.
func NewHomographyEstimator(method robust.Method, inputs, outputs []r2.Point, opts ...robust.Option) (*robust.Estimator[r2.Point, r2.Point, Homography], error) {
	return robust.New[r2.Point, r2.Point, Homography](Homography2D{}, method, withPairs(inputs, outputs, opts)...)
}

func withPairs[I, O any](inputs []I, outputs []O, opts []robust.Option) []robust.Option {
	if inputs == nil && outputs == nil {
		return opts
	}
	return append([]robust.Option{robust.WithCorrespondences(inputs, outputs)}, opts...)
}

// SuggestingEstimator is a camera estimator whose refinement can be steered
// by CameraSuggestions. The suggestion setters follow the estimator lock and
// fail with robust.ErrLocked while Estimate runs.
type SuggestingEstimator[M any] struct {
	*robust.Estimator[r3.Vector, r2.Point, M]
	suggestions *CameraSuggestions
}

// CameraEstimator estimates a full pinhole camera.
type CameraEstimator = SuggestingEstimator[Camera]

// PoseEstimator estimates the pose of a camera with known intrinsics.
// Intrinsic suggestions have no effect on it.
type PoseEstimator = SuggestingEstimator[CameraPose]

// NewCameraEstimator estimates a pinhole camera from world points and their
// image projections.
func NewCameraEstimator(method robust.Method, world []r3.Vector, image []r2.Point, opts ...robust.Option) (*CameraEstimator, error) {
	s := DefaultCameraSuggestions()
	family := &PinholeCamera{suggestions: &s}
	e, err := robust.New[r3.Vector, r2.Point, Camera](family, method, withPairs(world, image, opts)...)
	if err != nil {
		return nil, err
	}
	return &CameraEstimator{Estimator: e, suggestions: &s}, nil
}

// NewPoseEstimator estimates the pose of a camera with intrinsics k.
func NewPoseEstimator(method robust.Method, k Intrinsics, world []r3.Vector, image []r2.Point, opts ...robust.Option) (*PoseEstimator, error) {
	family, err := NewKnownIntrinsicsPose(k)
	if err != nil {
		return nil, err
	}
	s := DefaultCameraSuggestions()
	family.suggestions = &s
	e, err := robust.New[r3.Vector, r2.Point, CameraPose](family, method, withPairs(world, image, opts)...)
	if err != nil {
		return nil, err
	}
	return &PoseEstimator{Estimator: e, suggestions: &s}, nil
}

// Estimate runs the consensus search. Enabled suggestions only affect the
// refinement step.
func (e *SuggestingEstimator[M]) Estimate() (M, error) {
	if e.suggestions.Any() && e.Config().ResultRefined && !e.IsLocked() {
		Logf("[GEOMETRY] %s camera refinement with suggestions (weight %g)", e.Method(), e.suggestions.Weight)
	}
	return e.Estimator.Estimate()
}

// Suggestions returns a copy of the current suggestions.
func (e *SuggestingEstimator[M]) Suggestions() CameraSuggestions {
	return *e.suggestions
}

// SetSuggestions replaces every suggestion at once.
func (e *SuggestingEstimator[M]) SetSuggestions(s CameraSuggestions) error {
	return e.suggest(func(cur *CameraSuggestions) { *cur = s })
}

func (e *SuggestingEstimator[M]) suggest(change func(*CameraSuggestions)) error {
	if e.IsLocked() {
		return robust.ErrLocked
	}
	next := *e.suggestions
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	*e.suggestions = next
	return nil
}

func (e *SuggestingEstimator[M]) SetSuggestSkewnessValueEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.SkewnessEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedSkewnessValue(v float64) error {
	return e.suggest(func(s *CameraSuggestions) { s.Skewness = v })
}

func (e *SuggestingEstimator[M]) SetSuggestHorizontalFocalLengthEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.HorizontalFocalLengthEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedHorizontalFocalLengthValue(v float64) error {
	return e.suggest(func(s *CameraSuggestions) { s.HorizontalFocalLength = v })
}

func (e *SuggestingEstimator[M]) SetSuggestVerticalFocalLengthEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.VerticalFocalLengthEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedVerticalFocalLengthValue(v float64) error {
	return e.suggest(func(s *CameraSuggestions) { s.VerticalFocalLength = v })
}

func (e *SuggestingEstimator[M]) SetSuggestAspectRatioEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.AspectRatioEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedAspectRatioValue(v float64) error {
	return e.suggest(func(s *CameraSuggestions) { s.AspectRatio = v })
}

func (e *SuggestingEstimator[M]) SetSuggestPrincipalPointEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.PrincipalPointEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedPrincipalPointValue(p r2.Point) error {
	return e.suggest(func(s *CameraSuggestions) { s.PrincipalPoint = p })
}

func (e *SuggestingEstimator[M]) SetSuggestRotationEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.RotationEnabled = v })
}

// SetSuggestedRotationValue sets the target rotation from a 3x3 rotation
// matrix.
func (e *SuggestingEstimator[M]) SetSuggestedRotationValue(r mat.Matrix) error {
	if e.IsLocked() {
		return robust.ErrLocked
	}
	if rows, cols := r.Dims(); rows != 3 || cols != 3 {
		return invalid("rotation must be 3x3, got %dx%d", rows, cols)
	}
	v := RotationToVector(r)
	return e.suggest(func(s *CameraSuggestions) { s.Rotation = v })
}

func (e *SuggestingEstimator[M]) SetSuggestCenterEnabled(v bool) error {
	return e.suggest(func(s *CameraSuggestions) { s.CenterEnabled = v })
}

func (e *SuggestingEstimator[M]) SetSuggestedCenterValue(c r3.Vector) error {
	return e.suggest(func(s *CameraSuggestions) { s.Center = c })
}

// SetSuggestionWeight sets the weight shared by every suggestion term.
func (e *SuggestingEstimator[M]) SetSuggestionWeight(w float64) error {
	return e.suggest(func(s *CameraSuggestions) { s.Weight = w })
}
