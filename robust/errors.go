package robust

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a malformed configuration value or input list.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLocked is returned by every mutator, and by Estimate itself, while an
	// estimation is in progress.
	ErrLocked = errors.New("estimator is locked")

	// ErrNotReady is returned by Estimate when required inputs are missing.
	ErrNotReady = errors.New("estimator is not ready")

	// ErrDegenerate is returned by a Family when a minimal sample cannot
	// produce a model (collinear points, parallel lines, rank deficiency).
	ErrDegenerate = errors.New("degenerate sample")

	ErrNotEnoughInliers       = errors.New("not enough inliers found")
	ErrMaxIterationsExhausted = errors.New("max iterations exhausted")
	ErrRefinementFailed       = errors.New("refinement failed")
)

// EstimationError is returned by Estimate when the consensus search ends
// without a usable model. Err holds the terminal reason and can be matched
// with errors.Is against ErrNotEnoughInliers, ErrMaxIterationsExhausted or
// ErrRefinementFailed.
type EstimationError struct {
	Method     Method
	Iterations int
	Err        error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("%s estimation failed after %d iterations: %v", e.Method, e.Iterations, e.Err)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
