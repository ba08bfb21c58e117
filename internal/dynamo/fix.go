package dynamo

import "fmt"

// FixKind tags the closed set of components that can act on a run.
type FixKind int

const (
	KindForceField FixKind = iota
	KindThermostat
	KindConstraint
	KindSampler
)

func (k FixKind) String() string {
	switch k {
	case KindForceField:
		return "force-field"
	case KindThermostat:
		return "thermostat"
	case KindConstraint:
		return "constraint"
	case KindSampler:
		return "sampler"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Fix interface {
	Name() string
	Kind() FixKind
}

// ForceField adds conservative forces to System.Force and returns the
// potential energy and virial it contributed.
type ForceField interface {
	Fix
	Cutoff() float64
	Compute(ctx *Context) (pe, virial float64, err error)
}

// Thermostat adds bath forces after the force fields have run.
type Thermostat interface {
	Fix
	Apply(ctx *Context) error
}

// Constraint removes motion from a subset of particles. Forces are
// constrained after every force evaluation, velocities after every kick.
type Constraint interface {
	Fix
	ConstrainForces(ctx *Context)
	ConstrainVelocities(ctx *Context)
}

// Sampler observes the run after each completed step.
type Sampler interface {
	Fix
	OnStep(ctx *Context) error
	Close() error
}

// Metric accumulates a scalar observable over a run.
type Metric interface {
	Name() string
	Observe(ctx *Context)
	Value() float64
	Reset()
}

// Stateful is implemented by fixes and metrics that accumulate across steps.
// Their state travels with a checkpoint so a resumed run continues the same
// accumulation.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}
