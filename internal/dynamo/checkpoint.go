package dynamo

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

const CheckpointVersion = 1

// Checkpoint is a restartable snapshot of a Context. Forces are stored with
// the energy and virial so a resumed run continues without evaluating the
// force pipeline again, which would consume thermostat noise.
type Checkpoint struct {
	Version   int     `json:"version"`
	Phase     string  `json:"phase"`
	PhaseStep int64   `json:"phase_step"`
	Step      int64   `json:"step"`
	Time      float64 `json:"time"`
	Seed      uint64  `json:"seed"`
	Dt        float64 `json:"dt"`

	BoxLo [3]float64 `json:"box_lo"`
	BoxL  float64    `json:"box_length"`

	ID   []int        `json:"id"`
	Type []int        `json:"type"`
	Pos  [][3]float64 `json:"pos"`
	Vel  [][3]float64 `json:"vel"`

	Force           [][3]float64 `json:"force,omitempty"`
	PotentialEnergy float64      `json:"pe"`
	Virial          float64      `json:"virial"`

	Sources map[string][]byte `json:"rng"`
	State   map[string][]byte `json:"state,omitempty"`

	// Outcome is the terminal phase the run reached after this checkpoint
	// was taken, empty while the run was still going.
	Outcome string `json:"outcome,omitempty"`
}

func Capture(c *Context) (*Checkpoint, error) {
	sys := c.System
	cp := &Checkpoint{
		Version:   CheckpointVersion,
		Phase:     c.Phase.String(),
		PhaseStep: c.PhaseStep,
		Step:      c.Step,
		Time:      c.Time,
		Seed:      c.Seed,
		Dt:        c.Dt,
		BoxLo:     [3]float64{sys.Box.Lo.X, sys.Box.Lo.Y, sys.Box.Lo.Z},
		BoxL:      sys.Box.L,
		ID:        append([]int(nil), sys.ID...),
		Type:      append([]int(nil), sys.Type...),
		Pos:       make([][3]float64, sys.Len()),
		Vel:       make([][3]float64, sys.Len()),
		Force:     make([][3]float64, sys.Len()),
		Sources:   make(map[string][]byte, len(c.sources)),

		PotentialEnergy: c.PotentialEnergy,
		Virial:          c.Virial,
	}
	for i := range sys.Pos {
		cp.Pos[i] = [3]float64{sys.Pos[i].X, sys.Pos[i].Y, sys.Pos[i].Z}
		cp.Vel[i] = [3]float64{sys.Vel[i].X, sys.Vel[i].Y, sys.Vel[i].Z}
		cp.Force[i] = [3]float64{sys.Force[i].X, sys.Force[i].Y, sys.Force[i].Z}
	}
	for name, src := range c.sources {
		b, err := src.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal rng %s: %w", name, err)
		}
		cp.Sources[name] = b
	}
	return cp, nil
}

// Restore loads cp into c. The context's system must have been built from the
// same configuration: same particle count, IDs and types.
func (cp *Checkpoint) Restore(c *Context) error {
	if cp.Version != CheckpointVersion {
		return fmt.Errorf("checkpoint version %d not supported", cp.Version)
	}
	sys := c.System
	if len(cp.ID) != sys.Len() || len(cp.Pos) != sys.Len() || len(cp.Vel) != sys.Len() {
		return &ConfigError{Field: "checkpoint", Reason: fmt.Sprintf("holds %d particles, system has %d", len(cp.ID), sys.Len())}
	}
	if cp.BoxL != sys.Box.L {
		return &ConfigError{Field: "checkpoint", Reason: fmt.Sprintf("box length %g differs from %g", cp.BoxL, sys.Box.L)}
	}
	for i := range cp.ID {
		if cp.ID[i] != sys.ID[i] || cp.Type[i] != sys.Type[i] {
			return &ConfigError{Field: "checkpoint", Reason: fmt.Sprintf("particle %d does not match the configured system", i)}
		}
	}
	phase, err := ParsePhase(cp.Phase)
	if err != nil {
		return err
	}

	for i := range cp.Pos {
		sys.Pos[i] = r3.Vec{X: cp.Pos[i][0], Y: cp.Pos[i][1], Z: cp.Pos[i][2]}
		sys.Vel[i] = r3.Vec{X: cp.Vel[i][0], Y: cp.Vel[i][1], Z: cp.Vel[i][2]}
	}
	sys.ZeroForces()
	if cp.HasForces() {
		for i, f := range cp.Force {
			sys.Force[i] = r3.Vec{X: f[0], Y: f[1], Z: f[2]}
		}
	}
	c.PotentialEnergy = cp.PotentialEnergy
	c.Virial = cp.Virial

	names := make([]string, 0, len(cp.Sources))
	for n := range cp.Sources {
		names = append(names, n)
	}
	sort.Strings(names)
	c.Seed = cp.Seed
	for _, n := range names {
		if err := c.Source(n).UnmarshalBinary(cp.Sources[n]); err != nil {
			return fmt.Errorf("restore rng %s: %w", n, err)
		}
	}

	c.Phase = phase
	c.PhaseStep = cp.PhaseStep
	c.Step = cp.Step
	c.Time = cp.Time
	c.Dt = cp.Dt
	return nil
}

// HasForces reports whether the checkpoint carries a force for every
// particle.
func (cp *Checkpoint) HasForces() bool {
	return len(cp.Force) > 0 && len(cp.Force) == len(cp.Pos)
}

// Resumable reports whether the run that saved cp stopped by cancellation,
// the only outcome a run can be continued from.
func (cp *Checkpoint) Resumable() error {
	switch cp.Outcome {
	case Canceled.String():
		return nil
	case "":
		return &ConfigError{Field: "checkpoint", Reason: "run did not stop by cancellation"}
	}
	return &ConfigError{Field: "checkpoint", Reason: fmt.Sprintf("run already %s", cp.Outcome)}
}
