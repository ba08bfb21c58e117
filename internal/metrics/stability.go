package metrics

import "github.com/san-kum/solvmd/internal/dynamo"

// Stability is the fraction of observed steps on which no particle felt a
// force above threshold. Values well below 1 point at a timestep that is too
// large or overlapping particles.
type Stability struct {
	name       string
	threshold  float64
	maxForce   Observable
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
		maxForce:  MaxForce(),
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(ctx *dynamo.Context) {
	s.samples++
	if s.maxForce(ctx) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
