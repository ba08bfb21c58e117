package sampler

import (
	"errors"
	"fmt"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/metrics"
	"github.com/san-kum/solvmd/internal/particles"
)

// Row is one line of thermodynamic output.
type Row struct {
	Step       int64   `json:"step"`
	Phase      string  `json:"phase"`
	PhaseStep  int64   `json:"phase_step"`
	PhaseSteps int64   `json:"phase_steps"`
	Time       float64 `json:"time"`
	Temp       float64 `json:"temp"`
	PE         float64 `json:"pe"`
	KE         float64 `json:"ke"`
	Etot       float64 `json:"etot"`
	Press      float64 `json:"press"`
}

// RowSink receives thermo rows, for example a run store or a live monitor.
type RowSink interface {
	Record(Row) error
}

// Thermo reports temperature, energies and pressure every Every steps to the
// log and to each registered sink.
type Thermo struct {
	Every int64

	temp  metrics.Observable
	press metrics.Observable
	sinks []RowSink
	last  Row
}

// NewThermo measures temperature over g; energies and pressure cover every
// particle.
func NewThermo(g *particles.Group, every int64, sinks ...RowSink) (*Thermo, error) {
	if every < 0 {
		return nil, &dynamo.ConfigError{Field: "output.thermo_every", Reason: "must be non-negative"}
	}
	return &Thermo{
		Every: every,
		temp:  metrics.Temperature(g),
		press: metrics.Pressure(),
		sinks: sinks,
	}, nil
}

func (t *Thermo) Name() string         { return "thermo" }
func (t *Thermo) Kind() dynamo.FixKind { return dynamo.KindSampler }

func (t *Thermo) AddSink(s RowSink) { t.sinks = append(t.sinks, s) }

func (t *Thermo) OnStep(ctx *dynamo.Context) error {
	if t.Every <= 0 || ctx.Step%t.Every != 0 {
		return nil
	}
	return t.Emit(ctx)
}

// Emit reports the current state regardless of the interval.
func (t *Thermo) Emit(ctx *dynamo.Context) error {
	ke := ctx.System.KineticEnergy(ctx.System.All())
	r := Row{
		Step:       ctx.Step,
		Phase:      ctx.Phase.String(),
		PhaseStep:  ctx.PhaseStep,
		PhaseSteps: ctx.PhaseSteps,
		Time:       ctx.Time,
		Temp:       t.temp(ctx),
		PE:         ctx.PotentialEnergy,
		KE:         ke,
		Etot:       ctx.PotentialEnergy + ke,
		Press:      t.press(ctx),
	}
	t.last = r
	ctx.Logger.Printf("%10d %-13s T=%-10.5f PE=%-12.5f KE=%-12.5f E=%-12.5f P=%.5f",
		r.Step, r.Phase, r.Temp, r.PE, r.KE, r.Etot, r.Press)

	var errs []error
	for _, s := range t.sinks {
		if err := s.Record(r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("thermo: %w", err)
	}
	return nil
}

// Last is the most recent row emitted.
func (t *Thermo) Last() Row { return t.last }

func (t *Thermo) Close() error { return nil }
