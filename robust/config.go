package robust

import "math"

const (
	DefaultThreshold     = 1.0
	DefaultStopThreshold = 1e-3
	DefaultInlierFactor  = 1.5
	DefaultConfidence    = 0.99
	DefaultMaxIterations = 5000
	DefaultProgressDelta = 0.05
)

// Config holds the tunable parameters shared by all variants. Fields that a
// variant does not use are ignored by it (LMedS ignores Threshold, RANSAC
// ignores StopThreshold).
type Config struct {
	// Threshold is the inlier residual bound for RANSAC, MSAC and PROSAC.
	// Classification is inclusive: a residual equal to Threshold is an inlier.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// StopThreshold is the acceptance bound for LMedS and PROMedS: the search
	// stops as soon as the median residual falls to or below it, and it is the
	// floor of the robust inlier bound.
	StopThreshold float64 `yaml:"stopThreshold" json:"stopThreshold"`

	// InlierFactor scales the robust standard deviation used by the median
	// based variants to classify inliers.
	InlierFactor float64 `yaml:"inlierFactor" json:"inlierFactor"`

	Confidence    float64 `yaml:"confidence" json:"confidence"`       // in [0,1]
	MaxIterations int     `yaml:"maxIterations" json:"maxIterations"` // >= 1
	ProgressDelta float64 `yaml:"progressDelta" json:"progressDelta"` // in [0,1]

	ResultRefined      bool `yaml:"resultRefined" json:"resultRefined"`
	FastRefinement     bool `yaml:"fastRefinement" json:"fastRefinement"`
	CovarianceKept     bool `yaml:"covarianceKept" json:"covarianceKept"`
	RefinementRequired bool `yaml:"refinementRequired,omitempty" json:"refinementRequired,omitempty"`

	ComputeAndKeepInliers   bool `yaml:"computeAndKeepInliers" json:"computeAndKeepInliers"`
	ComputeAndKeepResiduals bool `yaml:"computeAndKeepResiduals" json:"computeAndKeepResiduals"`

	// NormalizeSubsets asks fitters to condition minimal samples before
	// solving (Hartley normalization for DLT based families).
	NormalizeSubsets bool `yaml:"normalizeSubsets" json:"normalizeSubsets"`

	// Seed seeds the sampler. Zero selects a time based seed.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// DefaultConfig returns the configuration used by New when no WithConfig
// option is given.
func DefaultConfig() Config {
	return Config{
		Threshold:               DefaultThreshold,
		StopThreshold:           DefaultStopThreshold,
		InlierFactor:            DefaultInlierFactor,
		Confidence:              DefaultConfidence,
		MaxIterations:           DefaultMaxIterations,
		ProgressDelta:           DefaultProgressDelta,
		ResultRefined:           true,
		ComputeAndKeepInliers:   true,
		ComputeAndKeepResiduals: true,
		NormalizeSubsets:        true,
	}
}

// Validate checks every range constraint and returns an error wrapping
// ErrInvalidArgument for the first violation.
func (c Config) Validate() error {
	if err := validateThreshold("threshold", c.Threshold); err != nil {
		return err
	}
	if err := validateThreshold("stopThreshold", c.StopThreshold); err != nil {
		return err
	}
	if err := validateThreshold("inlierFactor", c.InlierFactor); err != nil {
		return err
	}
	if err := validateUnit("confidence", c.Confidence); err != nil {
		return err
	}
	if c.MaxIterations < 1 {
		return invalidArgument("maxIterations must be at least 1, got %d", c.MaxIterations)
	}
	return validateUnit("progressDelta", c.ProgressDelta)
}

func validateThreshold(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return invalidArgument("%s must be positive, got %g", name, v)
	}
	return nil
}

func validateUnit(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return invalidArgument("%s must be between 0 and 1, got %g", name, v)
	}
	return nil
}
