package robust

// Listener receives synchronous notifications from Estimate. Callbacks run on
// the goroutine that called Estimate while the estimator is locked: they may
// read its state, but every mutation attempt fails with ErrLocked.
type Listener[I, O, M any] interface {
	OnEstimateStart(e *Estimator[I, O, M])
	OnEstimateEnd(e *Estimator[I, O, M])
	OnEstimateNextIteration(e *Estimator[I, O, M], iteration int)
	OnEstimateProgressChange(e *Estimator[I, O, M], progress float64)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs[I, O, M any] struct {
	Start    func(e *Estimator[I, O, M])
	End      func(e *Estimator[I, O, M])
	Next     func(e *Estimator[I, O, M], iteration int)
	Progress func(e *Estimator[I, O, M], progress float64)
}

func (l ListenerFuncs[I, O, M]) OnEstimateStart(e *Estimator[I, O, M]) {
	if l.Start != nil {
		l.Start(e)
	}
}

func (l ListenerFuncs[I, O, M]) OnEstimateEnd(e *Estimator[I, O, M]) {
	if l.End != nil {
		l.End(e)
	}
}

func (l ListenerFuncs[I, O, M]) OnEstimateNextIteration(e *Estimator[I, O, M], iteration int) {
	if l.Next != nil {
		l.Next(e, iteration)
	}
}

func (l ListenerFuncs[I, O, M]) OnEstimateProgressChange(e *Estimator[I, O, M], progress float64) {
	if l.Progress != nil {
		l.Progress(e, progress)
	}
}

// Status is a read-only snapshot of the iteration state, safe to take from a
// listener callback.
type Status struct {
	Method             Method  `json:"method"`
	State              State   `json:"-"`
	StateName          string  `json:"state"`
	Iteration          int     `json:"iteration"`
	RequiredIterations int     `json:"requiredIterations"`
	MaxIterations      int     `json:"maxIterations"`
	BestInliers        int     `json:"bestInliers"`
	Progress           float64 `json:"progress"`
}
