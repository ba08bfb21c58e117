package integrators

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// VelocityVerlet advances positions and velocities with the kick-drift-kick
// splitting. Forces on entry to Step must be those of the current positions,
// which Setup guarantees for the first step.
type VelocityVerlet struct {
	Forces *Forces
}

func NewVelocityVerlet(forces *Forces) *VelocityVerlet {
	return &VelocityVerlet{Forces: forces}
}

// Setup evaluates forces for the current configuration before the first step
// of a phase.
func (v *VelocityVerlet) Setup(ctx *dynamo.Context) error {
	if err := v.Forces.Evaluate(ctx); err != nil {
		return err
	}
	v.Forces.ConstrainVelocities(ctx)
	return dynamo.CheckFinite(ctx.System, ctx.Step)
}

// Step performs one full timestep: half kick, drift with wrap, force
// recomputation (neighbor check, pair forces, thermostat, constraints) and the
// closing half kick.
func (v *VelocityVerlet) Step(ctx *dynamo.Context) error {
	sys := ctx.System
	dt := ctx.Dt

	v.kick(ctx, 0.5*dt)

	for i := range sys.Pos {
		sys.Pos[i] = sys.Box.Wrap(r3.Add(sys.Pos[i], r3.Scale(dt, sys.Vel[i])))
	}

	if err := v.Forces.Evaluate(ctx); err != nil {
		return err
	}

	v.kick(ctx, 0.5*dt)

	return dynamo.CheckFinite(sys, ctx.Step)
}

func (v *VelocityVerlet) kick(ctx *dynamo.Context, h float64) {
	sys := ctx.System
	for i := range sys.Vel {
		sys.Vel[i] = r3.Add(sys.Vel[i], r3.Scale(h/sys.Mass[i], sys.Force[i]))
	}
	v.Forces.ConstrainVelocities(ctx)
}
