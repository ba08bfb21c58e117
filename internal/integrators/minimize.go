package integrators

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
)

const maxBacktrack = 30

type MinimizeSettings struct {
	Etol float64 // relative energy change that ends the search
	Ftol float64 // global force 2-norm that ends the search
	Dmax float64 // largest single-particle displacement per iteration
}

type MinimizeResult struct {
	Iterations    int64
	InitialEnergy float64
	FinalEnergy   float64
	ForceNorm     float64
	Reason        string
}

// Minimizer performs steepest descent with a backtracking line search. Each
// iteration moves every particle along its force, the largest move being at
// most Dmax, and halves the step until the energy decreases. Constrained
// particles carry zero force and therefore never move.
type Minimizer struct {
	Forces   *Forces
	Settings MinimizeSettings

	x0 []r3.Vec
	f0 []r3.Vec
}

func NewMinimizer(forces *Forces, s MinimizeSettings) (*Minimizer, error) {
	if s.Dmax <= 0 {
		return nil, &dynamo.ConfigError{Field: "minimize.dmax", Reason: "must be positive"}
	}
	if s.Etol < 0 || s.Ftol < 0 {
		return nil, &dynamo.ConfigError{Field: "minimize", Reason: "tolerances must be non-negative"}
	}
	return &Minimizer{Forces: forces, Settings: s}, nil
}

// Run iterates until a tolerance is met, the line search fails, or the
// phase budget on ctx is used up. Cancellation is checked between iterations.
func (m *Minimizer) Run(goctx context.Context, ctx *dynamo.Context) (*MinimizeResult, error) {
	sys := ctx.System
	if err := m.Forces.Evaluate(ctx); err != nil {
		return nil, err
	}
	res := &MinimizeResult{InitialEnergy: ctx.PotentialEnergy, Reason: "max iterations"}
	e0 := ctx.PotentialEnergy

	for !ctx.Done() {
		select {
		case <-goctx.Done():
			res.FinalEnergy = ctx.PotentialEnergy
			return res, fmt.Errorf("%w: %w", dynamo.ErrCanceled, goctx.Err())
		default:
		}

		fnorm, fmax := forceNorms(sys.Force)
		res.ForceNorm = fnorm
		if fnorm <= m.Settings.Ftol {
			res.Reason = "force tolerance"
			break
		}
		if fmax == 0 {
			res.Reason = "zero force"
			break
		}

		ctx.BeginStep()
		res.Iterations++
		m.save(sys.Pos, sys.Force)

		alpha := m.Settings.Dmax / fmax
		accepted := false
		for try := 0; try < maxBacktrack; try++ {
			for i := range sys.Pos {
				sys.Pos[i] = sys.Box.Wrap(r3.Add(m.x0[i], r3.Scale(alpha, m.f0[i])))
			}
			if err := m.Forces.Evaluate(ctx); err != nil {
				return nil, err
			}
			if ctx.PotentialEnergy < e0 {
				accepted = true
				break
			}
			alpha *= 0.5
		}

		if !accepted {
			copy(sys.Pos, m.x0)
			if err := m.Forces.Evaluate(ctx); err != nil {
				return nil, err
			}
			res.Reason = "linesearch alpha is zero"
			break
		}

		e := ctx.PotentialEnergy
		if math.Abs(e0-e) <= m.Settings.Etol*0.5*(math.Abs(e)+math.Abs(e0)+math.SmallestNonzeroFloat64) {
			e0 = e
			res.Reason = "energy tolerance"
			break
		}
		e0 = e
	}

	res.FinalEnergy = ctx.PotentialEnergy
	res.ForceNorm, _ = forceNorms(sys.Force)
	if err := dynamo.CheckFinite(sys, ctx.Step); err != nil {
		return res, err
	}
	return res, nil
}

func (m *Minimizer) save(pos, force []r3.Vec) {
	if len(m.x0) != len(pos) {
		m.x0 = make([]r3.Vec, len(pos))
		m.f0 = make([]r3.Vec, len(pos))
	}
	copy(m.x0, pos)
	copy(m.f0, force)
}

func forceNorms(forces []r3.Vec) (norm, largest float64) {
	sum := 0.0
	for _, f := range forces {
		f2 := r3.Norm2(f)
		sum += f2
		largest = math.Max(largest, f2)
	}
	return math.Sqrt(sum), math.Sqrt(largest)
}
