package integrators

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

// Freeze holds a group in place: its forces and velocities are zeroed, so
// drift leaves positions bit-for-bit unchanged. Frozen particles still act on
// everything else through the force fields.
type Freeze struct {
	Group *particles.Group
}

func NewFreeze(g *particles.Group) *Freeze { return &Freeze{Group: g} }

func (f *Freeze) Name() string         { return "freeze/" + f.Group.Name() }
func (f *Freeze) Kind() dynamo.FixKind { return dynamo.KindConstraint }

func (f *Freeze) ConstrainForces(ctx *dynamo.Context) {
	for _, i := range f.Group.Indices() {
		ctx.System.Force[i] = r3.Vec{}
	}
}

func (f *Freeze) ConstrainVelocities(ctx *dynamo.Context) {
	for _, i := range f.Group.Indices() {
		ctx.System.Vel[i] = r3.Vec{}
	}
}
