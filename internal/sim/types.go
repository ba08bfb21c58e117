package sim

import (
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/integrators"
)

// Stage is the work done in one phase: its step budget and the fixes that
// are active only while it runs. Force fields and constraints are shared by
// every stage.
type Stage struct {
	Phase       dynamo.Phase
	Steps       int64
	Thermostats []dynamo.Thermostat
	Samplers    []dynamo.Sampler

	// Enter runs once when the phase is entered, never on resume.
	Enter func(ctx *dynamo.Context) error
}

// Checkpointer persists checkpoints at phase ends and on cancellation.
type Checkpointer interface {
	SaveCheckpoint(cp *dynamo.Checkpoint) error
}

type Result struct {
	Phase    dynamo.Phase
	Steps    int64
	Time     float64
	Minimize *integrators.MinimizeResult

	// Metrics hold the accumulators' values over the last dynamic phase run.
	Metrics map[string]float64
}

// runPhases is the fixed phase order of a run.
var runPhases = [...]dynamo.Phase{dynamo.Minimizing, dynamo.Equilibrating, dynamo.Producing}
