package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kwv/robustfit/geometry"
	"github.com/kwv/robustfit/robust"
)

// StateInvalid is the Result state of a run rejected before estimation.
// Other states are robust.State names.
const StateInvalid = "invalid"

// Result is the JSON record of one estimation run.
type Result struct {
	ID     string        `json:"id"`
	Model  ModelKind     `json:"model"`
	Method robust.Method `json:"method"`
	State  string        `json:"state"`
	Error  string        `json:"error,omitempty"`

	Iterations int       `json:"iterations"`
	Started    time.Time `json:"started"`
	DurationMS float64   `json:"durationMs"`

	// Parameters is the model in the family parameter layout, the same
	// layout as Dataset.Truth.
	Parameters     []float64 `json:"parameters,omitempty"`
	Covariance     []float64 `json:"covarianceDiagonal,omitempty"`
	ParameterError float64   `json:"parameterError,omitempty"` // max |parameter - truth|

	NumInliers int        `json:"numInliers"`
	Inliers    []bool     `json:"inliers,omitempty"`
	Residuals  []float64  `json:"residuals,omitempty"`
	Predicted  []r2.Point `json:"predicted,omitempty"` // planar models only

	Summary ResidualSummary `json:"summary"`
}

// ResidualSummary condenses the residuals of the consensus model.
type ResidualSummary struct {
	Median    float64 `json:"median"`
	P90       float64 `json:"p90"`
	Max       float64 `json:"max"`
	InlierRMS float64 `json:"inlierRms"`
	// Bound is the largest inlier residual, the effective threshold of the
	// run.
	Bound float64 `json:"bound"`
}

// Observer follows a run. Calls happen synchronously from the estimation
// loop.
type Observer interface {
	RunStarted(runID string, status robust.Status)
	RunProgressed(runID string, status robust.Status)
	RunFinished(runID string, status robust.Status)
}

// RunOption configures Estimate.
type RunOption func(*runConfig)

type runConfig struct {
	id          string
	observer    Observer
	suggestions *geometry.CameraSuggestions
}

// WithRunID sets the run ID instead of a random UUID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.id = id
	}
}

// WithObserver reports start, progress and end of the run to obs.
func WithObserver(obs Observer) RunOption {
	return func(c *runConfig) {
		c.observer = obs
	}
}

// WithSuggestions applies camera suggestions to camera and pose runs. Other
// models ignore them.
func WithSuggestions(s *geometry.CameraSuggestions) RunOption {
	return func(c *runConfig) {
		c.suggestions = s
	}
}

// Estimate estimates the dataset model with the configured variant. Setup errors
// return a nil Result. When the estimation itself fails the Result is still
// returned, with Error and State describing the failure, together with the
// error.
func Estimate(ds *Dataset, est EstimationConfig, opts ...RunOption) (*Result, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	rc := runConfig{id: uuid.NewString()}
	for _, opt := range opts {
		opt(&rc)
	}

	res := &Result{ID: rc.id, Model: ds.Model, Method: est.Method, Started: time.Now()}
	engine := []robust.Option{robust.WithConfig(est.Robust)}
	if ds.Quality != nil {
		engine = append(engine, robust.WithQualityScores(ds.Quality))
	}

	Logf("[PIPELINE] Run %s: %s over %d %s correspondences", res.ID, est.Method, ds.Len(), ds.Model)

	var runErr error
	switch ds.Model {
	case ModelPoint2D:
		e, err := geometry.NewPoint2DEstimator(est.Method, ds.Lines, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		runErr = execute(res, e, e.Estimate, geometry.PointFromLines{}.Parameters, nil, rc.observer)

	case ModelPoint3D:
		e, err := geometry.NewPoint3DEstimator(est.Method, ds.Planes, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		runErr = execute(res, e, e.Estimate, geometry.PointFromPlanes{}.Parameters, nil, rc.observer)

	case ModelAffine, ModelEuclidean:
		build, params := geometry.NewAffineEstimator, geometry.Affine2D{}.Parameters
		if ds.Model == ModelEuclidean {
			build, params = geometry.NewEuclideanEstimator, geometry.Euclidean2D{}.Parameters
		}
		e, err := build(est.Method, ds.Source, ds.Target, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		predict := func(m geometry.AffineMatrix) []r2.Point { return m.ApplyAll(ds.Source) }
		runErr = execute(res, e, e.Estimate, params, predict, rc.observer)

	case ModelHomography:
		e, err := geometry.NewHomographyEstimator(est.Method, ds.Source, ds.Target, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		predict := func(h geometry.Homography) []r2.Point { return h.ApplyAll(ds.Source) }
		runErr = execute(res, e, e.Estimate, geometry.Homography2D{}.Parameters, predict, rc.observer)

	case ModelCamera:
		e, err := geometry.NewCameraEstimator(est.Method, ds.World, ds.Image, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		if err := suggest(e, rc.suggestions); err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		family := e.Family().(*geometry.PinholeCamera)
		predict := func(c geometry.Camera) []r2.Point { return project(c, ds.World) }
		runErr = execute(res, e.Estimator, e.Estimate, family.Parameters, predict, rc.observer)

	case ModelPose:
		e, err := geometry.NewPoseEstimator(est.Method, *ds.Intrinsics, ds.World, ds.Image, engine...)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		if err := suggest(e, rc.suggestions); err != nil {
			return nil, fmt.Errorf("run %s: %w", res.ID, err)
		}
		family := e.Family().(*geometry.KnownIntrinsicsPose)
		predict := func(p geometry.CameraPose) []r2.Point { return project(p.Camera(), ds.World) }
		runErr = execute(res, e.Estimator, e.Estimate, family.Parameters, predict, rc.observer)
	}

	if runErr != nil {
		Logf("[PIPELINE] Run %s failed after %d iterations: %v", res.ID, res.Iterations, runErr)
		return res, fmt.Errorf("run %s: %w", res.ID, runErr)
	}
	res.compareTruth(ds)

	Logf("[PIPELINE] Run %s %s: %d/%d inliers in %d iterations (%.1fms)",
		res.ID, res.State, res.NumInliers, ds.Len(), res.Iterations, res.DurationMS)
	return res, nil
}

func suggest[M any](e *geometry.SuggestingEstimator[M], s *geometry.CameraSuggestions) error {
	if s == nil {
		return nil
	}
	return e.SetSuggestions(*s)
}

// execute runs one estimator and copies its outputs into res.
func execute[I, O, M any](res *Result, e *robust.Estimator[I, O, M], estimate func() (M, error),
	params func(M) []float64, predict func(M) []r2.Point, obs Observer) error {
	if obs != nil {
		if err := e.SetListener(listenerFor[I, O, M](res.ID, obs)); err != nil {
			return err
		}
	}

	start := time.Now()
	model, err := estimate()
	res.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	res.State = e.State().String()
	res.Iterations = e.Iterations()
	if err != nil {
		res.Error = err.Error()
		return err
	}

	res.Parameters = finite(params(model))
	if cov := e.Covariance(); cov != nil {
		n := cov.SymmetricDim()
		res.Covariance = make([]float64, n)
		for i := 0; i < n; i++ {
			res.Covariance[i] = cov.At(i, i)
		}
		res.Covariance = finite(res.Covariance)
	}
	if data := e.InliersData(); data != nil {
		res.NumInliers = data.NumInliers
		res.Inliers = data.Inliers
		if data.Residuals != nil {
			res.Residuals = finite(append([]float64(nil), data.Residuals...))
		}
	}
	if predict != nil {
		res.Predicted = predict(model)
		for i, p := range res.Predicted {
			if !isFinite(p.X) || !isFinite(p.Y) {
				res.Predicted[i] = r2.Point{}
			}
		}
	}
	res.Summary = summarize(res.Residuals, res.Inliers)
	return nil
}

// listenerFor forwards estimator notifications to obs.
func listenerFor[I, O, M any](runID string, obs Observer) robust.Listener[I, O, M] {
	return robust.ListenerFuncs[I, O, M]{
		Start: func(e *robust.Estimator[I, O, M]) {
			obs.RunStarted(runID, e.Status())
		},
		Progress: func(e *robust.Estimator[I, O, M], _ float64) {
			obs.RunProgressed(runID, e.Status())
		},
		End: func(e *robust.Estimator[I, O, M]) {
			obs.RunFinished(runID, e.Status())
		},
	}
}

func project(c geometry.Camera, world []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(world))
	for i, w := range world {
		out[i] = c.Project(w)
	}
	return out
}

// summarize computes order statistics over the finite residuals.
func summarize(residuals []float64, inliers []bool) ResidualSummary {
	var s ResidualSummary
	if len(residuals) == 0 {
		return s
	}
	sorted := make([]float64, 0, len(residuals))
	var sumSq float64
	var count int
	for i, r := range residuals {
		if r >= math.MaxFloat64 {
			continue
		}
		sorted = append(sorted, r)
		if inliers != nil && inliers[i] {
			sumSq += r * r
			count++
			s.Bound = math.Max(s.Bound, r)
		}
	}
	if len(sorted) == 0 {
		return s
	}
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	s.Max = floats.Max(sorted)
	if count > 0 {
		s.InlierRMS = math.Sqrt(sumSq / float64(count))
	}
	return s
}

// compareTruth fills ParameterError when the dataset carries its generating
// model.
func (r *Result) compareTruth(ds *Dataset) {
	if len(ds.Truth) == 0 || len(ds.Truth) != len(r.Parameters) {
		return
	}
	diff := make([]float64, len(ds.Truth))
	floats.SubTo(diff, r.Parameters, ds.Truth)
	if ds.Model == ModelEuclidean {
		diff[0] = math.Remainder(diff[0], 2*math.Pi)
	}
	r.ParameterError = math.Max(floats.Max(diff), -floats.Min(diff))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finite replaces values JSON cannot carry: NaN becomes 0 and infinities
// the largest float of the same sign.
func finite(vals []float64) []float64 {
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
			vals[i] = 0
		case math.IsInf(v, 1):
			vals[i] = math.MaxFloat64
		case math.IsInf(v, -1):
			vals[i] = -math.MaxFloat64
		}
	}
	return vals
}
