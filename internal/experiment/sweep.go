package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/dynamo"
)

// SweepParams names the parameters a Sweep can vary.
var SweepParams = map[string]func(cfg *config.Config, v float64){
	"temperature": func(cfg *config.Config, v float64) { cfg.Temperature = v },
	"epsilon":     func(cfg *config.Config, v float64) { setCross(cfg, func(c *config.PairCoeff) { c.Epsilon = v }) },
	"sigma":       func(cfg *config.Config, v float64) { setCross(cfg, func(c *config.PairCoeff) { c.Sigma = v }) },
	"dt":          func(cfg *config.Config, v float64) { cfg.Dt = v },
}

// setCross applies fn to every pair coefficient between unlike types.
func setCross(cfg *config.Config, fn func(c *config.PairCoeff)) {
	for i := range cfg.Pair.Coeffs {
		if c := &cfg.Pair.Coeffs[i]; c.I != c.J {
			fn(c)
		}
	}
}

// Sweep runs one configuration at evenly spaced values of a parameter.
type Sweep struct {
	Base      *config.Config
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
}

type SweepResult struct {
	ParamValue float64
	Phase      dynamo.Phase
	Metrics    map[string]float64
}

// Run executes the points in order. Each point writes no output files.
func (s *Sweep) Run(ctx context.Context) ([]SweepResult, error) {
	apply, ok := SweepParams[s.ParamName]
	if !ok {
		return nil, &dynamo.ConfigError{Field: "sweep.param", Reason: fmt.Sprintf("unknown parameter: %s", s.ParamName)}
	}
	if s.NumSteps < 1 {
		return nil, &dynamo.ConfigError{Field: "sweep.steps", Reason: "must be at least 1"}
	}

	paramStep := 0.0
	if s.NumSteps > 1 {
		paramStep = (s.ParamMax - s.ParamMin) / float64(s.NumSteps-1)
	}

	results := make([]SweepResult, 0, s.NumSteps)
	for i := 0; i < s.NumSteps; i++ {
		v := s.ParamMin + float64(i)*paramStep
		cfg := s.Base.Clone()
		cfg.Name = fmt.Sprintf("%s-%s-%g", s.Base.Name, s.ParamName, v)
		cfg.Output.Trajectory = ""
		cfg.Output.Energy = ""
		cfg.Output.ThermoEvery = 0
		apply(cfg, v)

		exp, err := New(cfg, Options{})
		if err != nil {
			return results, fmt.Errorf("%s=%g: %w", s.ParamName, v, err)
		}
		res, err := exp.Run(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, SweepResult{ParamValue: v, Phase: res.Phase, Metrics: res.Metrics})
	}
	return results, nil
}
