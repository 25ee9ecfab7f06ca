package robust

// store holds the correspondence lists and quality scores. The slices are
// borrowed from the caller and never copied or written.
type store[I, O any] struct {
	sampleSize int
	paired     bool

	inputs  []I
	outputs []O
	quality []float64
}

func newStore[I, O any](sampleSize int, paired bool) store[I, O] {
	return store[I, O]{sampleSize: sampleSize, paired: paired}
}

func (s *store[I, O]) setCorrespondences(inputs []I, outputs []O) error {
	if !s.paired {
		return invalidArgument("model family takes a single input sequence")
	}
	if len(inputs) < s.sampleSize || len(outputs) < s.sampleSize {
		return invalidArgument("need at least %d correspondences, got %d inputs and %d outputs",
			s.sampleSize, len(inputs), len(outputs))
	}
	if len(inputs) != len(outputs) {
		return invalidArgument("inputs (%d) and outputs (%d) differ in length", len(inputs), len(outputs))
	}
	s.inputs = inputs
	s.outputs = outputs
	return nil
}

func (s *store[I, O]) setInputs(inputs []I) error {
	if s.paired {
		return invalidArgument("model family needs paired inputs and outputs")
	}
	if len(inputs) < s.sampleSize {
		return invalidArgument("need at least %d inputs, got %d", s.sampleSize, len(inputs))
	}
	s.inputs = inputs
	return nil
}

func (s *store[I, O]) setQualityScores(scores []float64) error {
	if len(scores) < s.sampleSize {
		return invalidArgument("need at least %d quality scores, got %d", s.sampleSize, len(scores))
	}
	if n := s.size(); n > 0 && len(scores) < n {
		return invalidArgument("need %d quality scores, got %d", n, len(scores))
	}
	s.quality = scores
	return nil
}

// size is the number of correspondences, or 0 when none are set.
func (s *store[I, O]) size() int {
	return len(s.inputs)
}

func (s *store[I, O]) hasData() bool {
	if s.paired {
		return s.inputs != nil && s.outputs != nil
	}
	return s.inputs != nil
}

func (s *store[I, O]) hasQualityScores() bool {
	return s.quality != nil && len(s.quality) == s.size()
}

// output returns the i-th output, or the zero value for single-sequence
// families.
func (s *store[I, O]) output(i int) O {
	if !s.paired {
		var zero O
		return zero
	}
	return s.outputs[i]
}
