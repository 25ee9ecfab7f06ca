package robust

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Family is the model family plugged into the estimator: the minimal sample
// solver and the residual of one correspondence. The engine never looks at
// the model itself.
type Family[I, O, M any] interface {
	// SampleSize is the minimal number of correspondences Fit needs.
	SampleSize() int

	// Paired reports whether the family consumes input/output pairs. Single
	// sequence families (a point from lines or planes) receive a nil outputs
	// slice.
	Paired() bool

	// Fit solves the model from the correspondences selected by sample. It
	// returns ErrDegenerate (possibly wrapped) when the sample cannot produce
	// a model. Other errors are treated as numerical failures.
	Fit(inputs []I, outputs []O, sample []int, normalize bool) ([]M, error)

	// Residual is the non-negative geometric error of one correspondence.
	Residual(m M, in I, out O) float64
}

// InliersData describes the consensus set of the estimated model. Inliers
// and Residuals are nil when the corresponding Keep flag is off.
type InliersData struct {
	Inliers    []bool    `json:"inliers,omitempty"`
	Residuals  []float64 `json:"residuals,omitempty"`
	NumInliers int       `json:"numInliers"`
}

// Estimator runs one of the sample-consensus variants over a model family.
//
// Input slices are borrowed: the estimator keeps the caller's slices without
// copying them and never writes to them. The caller must not modify them
// while Estimate runs. An Estimator is not safe for concurrent use.
type Estimator[I, O, M any] struct {
	family   Family[I, O, M]
	method   Method
	cfg      Config
	data     store[I, O]
	listener Listener[I, O, M]

	locked     bool
	ctl        *controller
	state      State
	inliers    *InliersData
	covariance *mat.SymDense
}

type settings struct {
	inputs    any
	outputs   any
	paired    bool
	single    bool
	quality   []float64
	listener  any
	cfg       *Config
	optionErr error
}

// Option configures an Estimator at construction.
type Option func(*settings)

// WithCorrespondences sets the paired input and output lists.
func WithCorrespondences[I, O any](inputs []I, outputs []O) Option {
	return func(s *settings) {
		s.inputs, s.outputs, s.paired = inputs, outputs, true
	}
}

// WithInputs sets the single input list of unpaired families.
func WithInputs[I any](inputs []I) Option {
	return func(s *settings) {
		s.inputs, s.single = inputs, true
	}
}

// WithQualityScores sets the per-correspondence quality used by PROSAC and
// PROMedS. Higher is better.
func WithQualityScores(scores []float64) Option {
	return func(s *settings) {
		s.quality = scores
	}
}

// WithListener installs a listener. Type arguments must match the estimator.
func WithListener[I, O, M any](l Listener[I, O, M]) Option {
	return func(s *settings) {
		s.listener = l
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		if err := cfg.Validate(); err != nil {
			s.optionErr = err
			return
		}
		s.cfg = &cfg
	}
}

// New creates an estimator for family using method. Every option is
// validated here and a violation returns an error wrapping
// ErrInvalidArgument.
func New[I, O, M any](family Family[I, O, M], method Method, opts ...Option) (*Estimator[I, O, M], error) {
	if family == nil {
		return nil, invalidArgument("nil model family")
	}
	if family.SampleSize() < 1 {
		return nil, invalidArgument("sample size must be positive, got %d", family.SampleSize())
	}
	if !method.valid() {
		return nil, invalidArgument("unknown method %d", int(method))
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.optionErr != nil {
		return nil, s.optionErr
	}

	e := &Estimator[I, O, M]{
		family: family,
		method: method,
		cfg:    DefaultConfig(),
		data:   newStore[I, O](family.SampleSize(), family.Paired()),
	}
	if s.cfg != nil {
		e.cfg = *s.cfg
	}

	switch {
	case s.paired:
		inputs, ok1 := s.inputs.([]I)
		outputs, ok2 := s.outputs.([]O)
		if !ok1 || !ok2 {
			return nil, invalidArgument("correspondences have type %T/%T, want %T/%T", s.inputs, s.outputs, inputs, outputs)
		}
		if err := e.data.setCorrespondences(inputs, outputs); err != nil {
			return nil, err
		}
	case s.single:
		inputs, ok := s.inputs.([]I)
		if !ok {
			return nil, invalidArgument("inputs have type %T, want %T", s.inputs, inputs)
		}
		if err := e.data.setInputs(inputs); err != nil {
			return nil, err
		}
	}

	if s.quality != nil {
		if err := e.data.setQualityScores(s.quality); err != nil {
			return nil, err
		}
	}

	if s.listener != nil {
		l, ok := s.listener.(Listener[I, O, M])
		if !ok {
			return nil, invalidArgument("listener has type %T, want Listener for %T", s.listener, e)
		}
		e.listener = l
	}
	return e, nil
}

// Estimate runs the consensus search and returns the best model found,
// refined when requested. On failure the returned error is an
// *EstimationError, or ErrLocked / ErrNotReady.
func (e *Estimator[I, O, M]) Estimate() (M, error) {
	var zero M
	if e.locked {
		return zero, ErrLocked
	}
	if !e.IsReady() {
		return zero, ErrNotReady
	}
	e.locked = true
	defer func() { e.locked = false }()

	e.inliers = nil
	e.covariance = nil

	n := e.data.size()
	sampleSize := e.family.SampleSize()
	rng := rand.New(rand.NewSource(e.seed()))

	ctl := newController(e.method, e.cfg, sampleSize, n)
	var smp sampler
	if e.method.progressive() {
		ps := newProgressiveSampler(e.data.quality, sampleSize, e.cfg.MaxIterations, rng)
		ctl.withProgressiveOrder(ps.order)
		smp = ps
	} else {
		smp = newUniformSampler(n, rng)
	}
	sc := newScorer(e.method, e.cfg, sampleSize, n)
	e.ctl = ctl
	e.state = Running

	if e.listener != nil {
		e.listener.OnEstimateStart(e)
	}

	var (
		best          M
		fitErr        error
		sample        = make([]int, sampleSize)
		residuals     = make([]float64, n)
		inliers       = make([]bool, n)
		bestResiduals = make([]float64, n)
		bestInliers   = make([]bool, n)
		lastProgress  float64
	)

	for {
		ctl.iteration++
		smp.sample(sample)

		models, err := e.family.Fit(e.data.inputs, e.data.outputs, sample, e.cfg.NormalizeSubsets)
		if err != nil && !errors.Is(err, ErrDegenerate) {
			fitErr = err
		}
		for _, model := range models {
			e.computeResiduals(model, residuals)
			ev := sc.evaluate(residuals, inliers)
			if ctl.hasBest && !sc.better(ev, ctl.best) {
				continue
			}
			best = model
			copy(bestResiduals, residuals)
			copy(bestInliers, inliers)
			ctl.accept(ev, bestInliers)
		}

		if e.listener != nil {
			e.listener.OnEstimateNextIteration(e, ctl.iteration)
			if p := ctl.progress(); math.Abs(p-lastProgress) >= e.cfg.ProgressDelta {
				lastProgress = p
				e.listener.OnEstimateProgressChange(e, p)
			}
		}

		if !ctl.advance() {
			break
		}
	}
	e.state = ctl.state

	if ctl.state != Converged {
		reason := ErrMaxIterationsExhausted
		if ctl.hasBest {
			reason = ErrNotEnoughInliers
		} else if fitErr != nil {
			reason = errors.Join(ErrMaxIterationsExhausted, fitErr)
		}
		e.notifyEnd()
		return zero, &EstimationError{Method: e.method, Iterations: ctl.iteration, Err: reason}
	}

	data := &InliersData{NumInliers: ctl.best.numInliers}
	if e.cfg.ComputeAndKeepInliers {
		data.Inliers = bestInliers
	}
	if e.cfg.ComputeAndKeepResiduals {
		data.Residuals = bestResiduals
	}
	e.inliers = data

	result := best
	if e.cfg.ResultRefined {
		refined, err := e.refine(best, bestInliers)
		switch {
		case err == nil:
			result = refined
		case e.cfg.RefinementRequired:
			e.state = Failed
			e.notifyEnd()
			return zero, &EstimationError{
				Method:     e.method,
				Iterations: ctl.iteration,
				Err:        fmt.Errorf("%w: %v", ErrRefinementFailed, err),
			}
		default:
			Logf("[ROBUST] %s refinement failed, keeping consensus model: %v", e.method, err)
		}
	}

	e.notifyEnd()
	return result, nil
}

func (e *Estimator[I, O, M]) notifyEnd() {
	if e.listener != nil {
		e.listener.OnEstimateEnd(e)
	}
}

func (e *Estimator[I, O, M]) computeResiduals(model M, dst []float64) {
	for i, in := range e.data.inputs {
		r := e.family.Residual(model, in, e.data.output(i))
		if math.IsNaN(r) {
			r = math.Inf(1)
		}
		dst[i] = r
	}
}

// refine runs the refinement engine when the family supports it. Families
// without the Refiner capability keep the consensus model.
func (e *Estimator[I, O, M]) refine(model M, inliers []bool) (M, error) {
	refiner, ok := e.family.(Refiner[I, O, M])
	if !ok {
		return model, nil
	}
	var constraints []Constraint
	if c, ok := e.family.(Constrained); ok {
		constraints = c.Constraints()
	}

	indices := make([]int, 0, len(inliers))
	for i, in := range inliers {
		if in {
			indices = append(indices, i)
		}
	}

	res, err := refineModel(refiner, model, e.data.inputs, e.data.output, indices, constraints, refineOptions{
		fast:       e.cfg.FastRefinement,
		covariance: e.cfg.CovarianceKept,
	})
	if err != nil {
		return model, err
	}
	Logf("[ROBUST] %s refined over %d inliers: cost %.4g -> %.4g in %d iterations",
		e.method, len(indices), res.initialCost, res.cost, res.iterations)
	e.covariance = res.covariance
	return res.model, nil
}

func (e *Estimator[I, O, M]) seed() int64 {
	if e.cfg.Seed != 0 {
		return e.cfg.Seed
	}
	return time.Now().UnixNano()
}

// IsLocked reports whether Estimate is running.
func (e *Estimator[I, O, M]) IsLocked() bool {
	return e.locked
}

// IsReady reports whether Estimate has every input it needs.
func (e *Estimator[I, O, M]) IsReady() bool {
	if !e.data.hasData() {
		return false
	}
	return !e.method.progressive() || e.data.hasQualityScores()
}

// InliersData returns the consensus set of the last successful Estimate, or
// nil before one and while a new one is running.
func (e *Estimator[I, O, M]) InliersData() *InliersData {
	return e.inliers
}

// Covariance returns the covariance of the refined parameters, or nil when
// it was not requested, refinement did not run, or the normal matrix was
// singular.
func (e *Estimator[I, O, M]) Covariance() *mat.SymDense {
	return e.covariance
}

// Status returns a snapshot of the current or last iteration state.
func (e *Estimator[I, O, M]) Status() Status {
	s := Status{
		Method:        e.method,
		State:         e.state,
		StateName:     e.state.String(),
		MaxIterations: e.cfg.MaxIterations,
	}
	if e.ctl != nil {
		s.Iteration = e.ctl.iteration
		s.RequiredIterations = e.ctl.required
		s.Progress = e.ctl.progress()
		if e.ctl.hasBest {
			s.BestInliers = e.ctl.best.numInliers
		}
	}
	return s
}

// State returns the termination state of the last Estimate call.
func (e *Estimator[I, O, M]) State() State {
	return e.state
}

// Iterations returns the iterations consumed by the current or last call.
func (e *Estimator[I, O, M]) Iterations() int {
	if e.ctl == nil {
		return 0
	}
	return e.ctl.iteration
}

func (e *Estimator[I, O, M]) Method() Method              { return e.method }
func (e *Estimator[I, O, M]) Config() Config              { return e.cfg }
func (e *Estimator[I, O, M]) Family() Family[I, O, M]     { return e.family }
func (e *Estimator[I, O, M]) Listener() Listener[I, O, M] { return e.listener }
func (e *Estimator[I, O, M]) Inputs() []I                 { return e.data.inputs }
func (e *Estimator[I, O, M]) Outputs() []O                { return e.data.outputs }
func (e *Estimator[I, O, M]) QualityScores() []float64    { return e.data.quality }
func (e *Estimator[I, O, M]) SampleSize() int             { return e.family.SampleSize() }

// mutate runs f unless the estimator is locked.
func (e *Estimator[I, O, M]) mutate(f func() error) error {
	if e.locked {
		return ErrLocked
	}
	return f()
}

// setConfig applies change to a copy of the configuration and keeps it only
// when it validates.
func (e *Estimator[I, O, M]) setConfig(change func(*Config)) error {
	return e.mutate(func() error {
		cfg := e.cfg
		change(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.cfg = cfg
		return nil
	})
}

// SetCorrespondences replaces the paired input and output lists.
func (e *Estimator[I, O, M]) SetCorrespondences(inputs []I, outputs []O) error {
	return e.mutate(func() error { return e.data.setCorrespondences(inputs, outputs) })
}

// SetInputs replaces the input list of a single-sequence family.
func (e *Estimator[I, O, M]) SetInputs(inputs []I) error {
	return e.mutate(func() error { return e.data.setInputs(inputs) })
}

func (e *Estimator[I, O, M]) SetQualityScores(scores []float64) error {
	return e.mutate(func() error { return e.data.setQualityScores(scores) })
}

// SetListener replaces the listener. A nil listener disables notifications.
func (e *Estimator[I, O, M]) SetListener(l Listener[I, O, M]) error {
	return e.mutate(func() error {
		e.listener = l
		return nil
	})
}

func (e *Estimator[I, O, M]) SetMethod(method Method) error {
	return e.mutate(func() error {
		if !method.valid() {
			return invalidArgument("unknown method %d", int(method))
		}
		e.method = method
		return nil
	})
}

func (e *Estimator[I, O, M]) SetConfig(cfg Config) error {
	return e.setConfig(func(c *Config) { *c = cfg })
}

func (e *Estimator[I, O, M]) SetThreshold(v float64) error {
	return e.setConfig(func(c *Config) { c.Threshold = v })
}

func (e *Estimator[I, O, M]) SetStopThreshold(v float64) error {
	return e.setConfig(func(c *Config) { c.StopThreshold = v })
}

func (e *Estimator[I, O, M]) SetInlierFactor(v float64) error {
	return e.setConfig(func(c *Config) { c.InlierFactor = v })
}

func (e *Estimator[I, O, M]) SetConfidence(v float64) error {
	return e.setConfig(func(c *Config) { c.Confidence = v })
}

func (e *Estimator[I, O, M]) SetMaxIterations(v int) error {
	return e.setConfig(func(c *Config) { c.MaxIterations = v })
}

func (e *Estimator[I, O, M]) SetProgressDelta(v float64) error {
	return e.setConfig(func(c *Config) { c.ProgressDelta = v })
}

func (e *Estimator[I, O, M]) SetResultRefined(v bool) error {
	return e.setConfig(func(c *Config) { c.ResultRefined = v })
}

func (e *Estimator[I, O, M]) SetFastRefinement(v bool) error {
	return e.setConfig(func(c *Config) { c.FastRefinement = v })
}

func (e *Estimator[I, O, M]) SetCovarianceKept(v bool) error {
	return e.setConfig(func(c *Config) { c.CovarianceKept = v })
}

func (e *Estimator[I, O, M]) SetRefinementRequired(v bool) error {
	return e.setConfig(func(c *Config) { c.RefinementRequired = v })
}

func (e *Estimator[I, O, M]) SetComputeAndKeepInliers(v bool) error {
	return e.setConfig(func(c *Config) { c.ComputeAndKeepInliers = v })
}

func (e *Estimator[I, O, M]) SetComputeAndKeepResiduals(v bool) error {
	return e.setConfig(func(c *Config) { c.ComputeAndKeepResiduals = v })
}

func (e *Estimator[I, O, M]) SetNormalizeSubsets(v bool) error {
	return e.setConfig(func(c *Config) { c.NormalizeSubsets = v })
}

func (e *Estimator[I, O, M]) SetSeed(seed int64) error {
	return e.setConfig(func(c *Config) { c.Seed = seed })
}
