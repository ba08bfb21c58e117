package metrics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

// Observable is an instantaneous scalar of the run state.
type Observable func(ctx *dynamo.Context) float64

func Temperature(g *particles.Group) Observable {
	return func(ctx *dynamo.Context) float64 { return ctx.System.Temperature(g) }
}

func KineticEnergy(g *particles.Group) Observable {
	return func(ctx *dynamo.Context) float64 { return ctx.System.KineticEnergy(g) }
}

func PotentialEnergy() Observable {
	return func(ctx *dynamo.Context) float64 { return ctx.PotentialEnergy }
}

// TotalEnergy is the potential energy plus the kinetic energy of every
// particle.
func TotalEnergy() Observable {
	return func(ctx *dynamo.Context) float64 {
		return ctx.PotentialEnergy + ctx.System.KineticEnergy(ctx.System.All())
	}
}

// Pressure is the virial pressure (2 KE + sum r·f) / 3V over all particles.
func Pressure() Observable {
	return func(ctx *dynamo.Context) float64 {
		sys := ctx.System
		ke := sys.KineticEnergy(sys.All())
		return (2*ke + ctx.Virial) / (3 * sys.Box.Volume())
	}
}

// COMSpeed is the magnitude of the centre of mass velocity of g.
func COMSpeed(g *particles.Group) Observable {
	return func(ctx *dynamo.Context) float64 { return r3.Norm(ctx.System.CenterOfMassVelocity(g)) }
}

// MaxForce is the largest single-particle force magnitude.
func MaxForce() Observable {
	return func(ctx *dynamo.Context) float64 {
		m := 0.0
		for _, f := range ctx.System.Force {
			m = math.Max(m, r3.Norm2(f))
		}
		return math.Sqrt(m)
	}
}
