package dynamo

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/solvmd/internal/particles"
)

// Domain errors for simulation operations.
var (
	// ErrConfiguration indicates an invalid parameter, missing pair coefficient
	// or an impossible geometry. Raised before any step is taken.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrNumericInstability indicates a non-finite position, velocity or force.
	ErrNumericInstability = errors.New("dynamo: numeric instability (NaN or Inf detected)")

	// ErrIO indicates a failed write of trajectory, energy or checkpoint data.
	ErrIO = errors.New("dynamo: output write failed")

	// ErrCanceled indicates the run was stopped at a step boundary.
	ErrCanceled = errors.New("dynamo: simulation canceled by context")
)

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// InstabilityError identifies the first non-finite quantity found after a step.
type InstabilityError struct {
	Step     int64
	Particle int // particle ID
	Quantity string
	Value    float64
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("%v: step %d: particle %d %s = %g", ErrNumericInstability, e.Step, e.Particle, e.Quantity, e.Value)
}

func (e *InstabilityError) Unwrap() error { return ErrNumericInstability }

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%v: %s %s: %v", ErrIO, e.Op, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// CheckFinite scans positions, velocities and forces and reports the first
// non-finite component.
func CheckFinite(sys *particles.System, step int64) error {
	for i := range sys.Pos {
		for _, q := range [...]struct {
			name string
			x    [3]float64
		}{
			{"position", [3]float64{sys.Pos[i].X, sys.Pos[i].Y, sys.Pos[i].Z}},
			{"velocity", [3]float64{sys.Vel[i].X, sys.Vel[i].Y, sys.Vel[i].Z}},
			{"force", [3]float64{sys.Force[i].X, sys.Force[i].Y, sys.Force[i].Z}},
		} {
			for _, v := range q.x {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return &InstabilityError{Step: step, Particle: sys.ID[i], Quantity: q.name, Value: v}
				}
			}
		}
	}
	return nil
}
