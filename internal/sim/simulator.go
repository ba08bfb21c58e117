package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/integrators"
	"github.com/san-kum/solvmd/internal/sampler"
)

// Simulator drives a context through minimization, equilibration and
// production. Phases run in that order, each at most once.
type Simulator struct {
	ctx         *dynamo.Context
	fields      []dynamo.ForceField
	constraints []dynamo.Constraint
	stages      map[dynamo.Phase]*Stage
	minimize    integrators.MinimizeSettings
	metrics     []dynamo.Metric
	thermo      *sampler.Thermo
	checkpoints Checkpointer

	// forces on the system are current, as after a restore
	warm bool
	// accumulators were restored and continue into the current phase
	resumed bool
	last    *dynamo.Checkpoint
}

func New(ctx *dynamo.Context, fields []dynamo.ForceField, constraints []dynamo.Constraint) *Simulator {
	return &Simulator{
		ctx:         ctx,
		fields:      fields,
		constraints: constraints,
		stages:      make(map[dynamo.Phase]*Stage),
		metrics:     make([]dynamo.Metric, 0),
	}
}

func (s *Simulator) Context() *dynamo.Context { return s.ctx }

func (s *Simulator) SetStage(st Stage)                                 { s.stages[st.Phase] = &st }
func (s *Simulator) SetMinimize(settings integrators.MinimizeSettings) { s.minimize = settings }
func (s *Simulator) AddMetric(m dynamo.Metric)                         { s.metrics = append(s.metrics, m) }
func (s *Simulator) SetThermo(t *sampler.Thermo)                       { s.thermo = t }
func (s *Simulator) SetCheckpointer(c Checkpointer)                    { s.checkpoints = c }

// AddSampler appends sp to the samplers of phase p.
func (s *Simulator) AddSampler(p dynamo.Phase, sp dynamo.Sampler) {
	st, ok := s.stages[p]
	if !ok {
		st = &Stage{Phase: p}
		s.stages[p] = st
	}
	st.Samplers = append(st.Samplers, sp)
}

func (s *Simulator) stage(p dynamo.Phase) *Stage {
	if st, ok := s.stages[p]; ok {
		return st
	}
	return &Stage{Phase: p}
}

// Resume restores a checkpoint of a canceled run into the context, along
// with the state of every accumulating fix and metric. The next Run continues
// in the checkpoint's phase at its step.
func (s *Simulator) Resume(cp *dynamo.Checkpoint) error {
	if err := cp.Resumable(); err != nil {
		return err
	}
	if err := cp.Restore(s.ctx); err != nil {
		return err
	}
	if s.ctx.Phase.Terminal() {
		return &dynamo.ConfigError{Field: "checkpoint", Reason: fmt.Sprintf("run already %s", s.ctx.Phase)}
	}
	for key, st := range s.stateful() {
		data, ok := cp.State[key]
		if !ok {
			continue
		}
		if err := st.UnmarshalState(data); err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
	}
	s.warm = cp.HasForces()
	s.resumed = true
	s.last = cp
	s.ctx.Logger.Printf("restored checkpoint at step %d (%s, phase step %d)", cp.Step, cp.Phase, cp.PhaseStep)
	return nil
}

// Run executes the remaining phases. Cancellation of goctx is honoured at
// step boundaries: the run is checkpointed, moved to Canceled, and the
// returned error wraps dynamo.ErrCanceled. Any other error moves the run to
// Failed. Samplers are closed in every case.
func (s *Simulator) Run(goctx context.Context) (res *Result, err error) {
	ctx := s.ctx
	res = &Result{Metrics: make(map[string]float64)}
	defer func() {
		if cerr := s.closeSamplers(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		res.Phase = ctx.Phase
		res.Steps = ctx.Step
		res.Time = ctx.Time
	}()

	if ctx.Phase.Terminal() {
		return res, fmt.Errorf("run already %s", ctx.Phase)
	}
	// the checkpoint resumed from no longer describes a stopped run
	s.mark("")

	for _, p := range runPhases {
		if ctx.Phase > p {
			continue
		}
		st := s.stage(p)
		if ctx.Phase < p {
			if st.Steps == 0 {
				continue
			}
			if err := ctx.EnterPhase(p, st.Steps); err != nil {
				return res, s.stop(err)
			}
			s.warm, s.resumed = false, false
			if st.Enter != nil {
				if err := st.Enter(ctx); err != nil {
					return res, s.stop(fmt.Errorf("enter %s: %w", p, err))
				}
			}
		} else {
			ctx.PhaseSteps = st.Steps
			ctx.Logger.Printf("resuming %s at phase step %d of %d", p, ctx.PhaseStep, st.Steps)
		}

		if p == dynamo.Minimizing {
			err = s.runMinimize(goctx, res)
		} else {
			err = s.runDynamics(goctx, st, res)
		}
		if err != nil {
			return res, s.stop(err)
		}
		if err := s.checkpoint(""); err != nil {
			return res, s.stop(err)
		}
	}

	ctx.Stop(dynamo.Finished)
	s.mark(dynamo.Finished.String())
	return res, nil
}

func (s *Simulator) forces(thermostats []dynamo.Thermostat) *integrators.Forces {
	return &integrators.Forces{Fields: s.fields, Thermostats: thermostats, Constraints: s.constraints}
}

func (s *Simulator) runMinimize(goctx context.Context, res *Result) error {
	ctx := s.ctx
	m, err := integrators.NewMinimizer(s.forces(nil), s.minimize)
	if err != nil {
		return err
	}
	r, err := m.Run(goctx, ctx)
	res.Minimize = r
	if err != nil {
		return err
	}
	s.warm = false
	ctx.Logger.Printf("minimization stopped (%s) after %d iterations: energy %.6g -> %.6g, |f| %.4g",
		r.Reason, r.Iterations, r.InitialEnergy, r.FinalEnergy, r.ForceNorm)
	if s.thermo != nil {
		return s.thermo.Emit(ctx)
	}
	return nil
}

func (s *Simulator) runDynamics(goctx context.Context, st *Stage, res *Result) error {
	ctx := s.ctx
	vv := integrators.NewVelocityVerlet(s.forces(st.Thermostats))
	if !s.warm {
		if err := vv.Setup(ctx); err != nil {
			return err
		}
	}
	s.warm = false

	if !s.resumed {
		for _, m := range s.metrics {
			m.Reset()
		}
	}
	s.resumed = false

	for !ctx.Done() {
		select {
		case <-goctx.Done():
			return fmt.Errorf("%w: %w", dynamo.ErrCanceled, goctx.Err())
		default:
		}

		ctx.BeginStep()
		if err := vv.Step(ctx); err != nil {
			return err
		}
		for _, m := range s.metrics {
			m.Observe(ctx)
		}
		for _, sp := range st.Samplers {
			if err := sp.OnStep(ctx); err != nil {
				return fmt.Errorf("%s: %w", sp.Name(), err)
			}
		}
		if s.thermo != nil {
			if err := s.thermo.OnStep(ctx); err != nil {
				return err
			}
		}
	}

	for _, m := range s.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	return nil
}

// stop records err as the run outcome, checkpointing first if the run was
// canceled.
func (s *Simulator) stop(err error) error {
	if errors.Is(err, dynamo.ErrCanceled) {
		if cerr := s.checkpoint(dynamo.Canceled.String()); cerr != nil {
			s.ctx.Logger.Printf("checkpoint on cancel failed: %v", cerr)
		}
		s.ctx.Stop(dynamo.Canceled)
		return err
	}
	s.ctx.Stop(dynamo.Failed)
	s.mark(dynamo.Failed.String())
	return err
}

// checkpoint saves the current state, tagged with outcome when the run is
// about to stop.
func (s *Simulator) checkpoint(outcome string) error {
	if s.checkpoints == nil {
		return nil
	}
	cp, err := dynamo.Capture(s.ctx)
	if err != nil {
		return err
	}
	cp.Outcome = outcome
	cp.State = make(map[string][]byte)
	for key, st := range s.stateful() {
		data, err := st.MarshalState()
		if err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
		cp.State[key] = data
	}
	if err := s.checkpoints.SaveCheckpoint(cp); err != nil {
		return err
	}
	s.last = cp
	return nil
}

// mark saves the last checkpoint again with a new outcome.
func (s *Simulator) mark(outcome string) {
	if s.checkpoints == nil || s.last == nil || s.last.Outcome == outcome {
		return
	}
	cp := *s.last
	cp.Outcome = outcome
	if err := s.checkpoints.SaveCheckpoint(&cp); err != nil {
		s.ctx.Logger.Printf("marking checkpoint %q failed: %v", outcome, err)
		return
	}
	s.last = &cp
}

// stateful collects the accumulating metrics and fixes by checkpoint key.
func (s *Simulator) stateful() map[string]dynamo.Stateful {
	out := make(map[string]dynamo.Stateful)
	for _, m := range s.metrics {
		if st, ok := m.(dynamo.Stateful); ok {
			out["metric/"+m.Name()] = st
		}
	}
	for _, p := range runPhases {
		stage := s.stage(p)
		for _, th := range stage.Thermostats {
			if st, ok := th.(dynamo.Stateful); ok {
				out["fix/"+th.Name()] = st
			}
		}
		for _, sp := range stage.Samplers {
			if st, ok := sp.(dynamo.Stateful); ok {
				out["fix/"+sp.Name()] = st
			}
		}
	}
	return out
}

func (s *Simulator) closeSamplers() error {
	seen := make(map[dynamo.Sampler]bool)
	var errs []error
	for _, p := range runPhases {
		for _, sp := range s.stage(p).Samplers {
			if seen[sp] {
				continue
			}
			seen[sp] = true
			if err := sp.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", sp.Name(), err))
			}
		}
	}
	if s.thermo != nil {
		if err := s.thermo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
