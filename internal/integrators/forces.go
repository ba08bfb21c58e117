package integrators

import (
	"fmt"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// Forces is the ordered force pipeline run after every drift: force fields,
// then thermostats, then constraints.
type Forces struct {
	Fields      []dynamo.ForceField
	Thermostats []dynamo.Thermostat
	Constraints []dynamo.Constraint
}

// Evaluate recomputes System.Force from scratch and records the potential
// energy and virial on ctx.
func (f *Forces) Evaluate(ctx *dynamo.Context) error {
	ctx.System.ZeroForces()
	pe, virial := 0.0, 0.0
	for _, ff := range f.Fields {
		p, w, err := ff.Compute(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", ff.Name(), err)
		}
		pe += p
		virial += w
	}
	ctx.PotentialEnergy = pe
	ctx.Virial = virial

	for _, th := range f.Thermostats {
		if err := th.Apply(ctx); err != nil {
			return fmt.Errorf("%s: %w", th.Name(), err)
		}
	}
	for _, c := range f.Constraints {
		c.ConstrainForces(ctx)
	}
	return nil
}

func (f *Forces) ConstrainVelocities(ctx *dynamo.Context) {
	for _, c := range f.Constraints {
		c.ConstrainVelocities(ctx)
	}
}

// MaxCutoff is the largest interaction range over all force fields.
func (f *Forces) MaxCutoff() float64 {
	m := 0.0
	for _, ff := range f.Fields {
		m = max(m, ff.Cutoff())
	}
	return m
}
