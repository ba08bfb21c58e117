package experiment

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/integrators"
	"github.com/san-kum/solvmd/internal/metrics"
	"github.com/san-kum/solvmd/internal/neighbor"
	"github.com/san-kum/solvmd/internal/particles"
	"github.com/san-kum/solvmd/internal/physics"
	"github.com/san-kum/solvmd/internal/sampler"
	"github.com/san-kum/solvmd/internal/sim"
	"github.com/san-kum/solvmd/internal/thermostat"
)

// Names of the random streams drawn from the run seed.
const (
	StreamPlacement = "placement"
	StreamVelocity  = "velocity"
	StreamLangevin  = "langevin"
)

type Options struct {
	Logger *log.Logger

	// OutputDir resolves relative trajectory and energy paths.
	OutputDir string

	// Appending reopens existing output files instead of truncating them.
	Appending bool

	Sinks        []sampler.RowSink
	Checkpointer sim.Checkpointer
}

// Experiment is a fully assembled run: system, force field, fixes and the
// simulator that sequences them.
type Experiment struct {
	Config    *config.Config
	System    *particles.System
	Context   *dynamo.Context
	Pair      *physics.LennardJones
	Bath      *thermostat.Langevin
	Thermo    *sampler.Thermo
	Simulator *sim.Simulator

	Trajectory *sampler.Trajectory
	Energy     *sampler.EnergyAverage

	tempGroup *particles.Group
}

// New builds every component named by cfg. Configuration problems are
// reported here, before any step is taken.
func New(cfg *config.Config, opts Options) (_ *Experiment, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx := dynamo.NewContext(nil, cfg.Dt, cfg.Seed, logger)
	sys, err := particles.Initialize(particles.NewCubicBox(cfg.BoxLength), species(cfg), ctx.Source(StreamPlacement))
	if err != nil {
		return nil, &dynamo.ConfigError{Field: "species", Reason: err.Error()}
	}
	ctx.System = sys

	table, err := cfg.PairTable()
	if err != nil {
		return nil, err
	}
	builder := neighbor.NewBuilder(table.MaxCutoff(), cfg.Neighbor.Skin, cfg.Neighbor.Every, cfg.Neighbor.Delay, cfg.Neighbor.Check)
	backend, err := NewRegistry().GetBackend(cfg.Backend, cfg.Workers)
	if err != nil {
		return nil, err
	}
	lj, err := physics.NewLennardJones(table, builder, backend, cfg.Pair.MinDistance)
	if err != nil {
		return nil, err
	}
	logger.Printf("groups: %s", strings.Join(sys.GroupNames(), ", "))
	logger.Printf("%d particles in box %.4g, pair cutoff %.4g skin %.4g, %s backend with %d workers",
		sys.Len(), cfg.BoxLength, table.MaxCutoff(), cfg.Neighbor.Skin, backend.Name(), backend.Workers())

	var constraints []dynamo.Constraint
	for _, name := range cfg.Frozen {
		g, err := sys.Group(name)
		if err != nil {
			return nil, &dynamo.ConfigError{Field: "frozen", Reason: err.Error()}
		}
		constraints = append(constraints, integrators.NewFreeze(g))
	}

	mobile, err := sys.Group(cfg.VelocityGroup())
	if err != nil {
		return nil, &dynamo.ConfigError{Field: "velocity.group", Reason: err.Error()}
	}
	e := &Experiment{Config: cfg, System: sys, Context: ctx, Pair: lj, tempGroup: mobile}
	simulator := sim.New(ctx, []dynamo.ForceField{lj}, constraints)
	e.Simulator = simulator

	if cfg.Thermostat.Enabled {
		g, err := sys.Group(cfg.Thermostat.Group)
		if err != nil {
			return nil, &dynamo.ConfigError{Field: "thermostat.group", Reason: err.Error()}
		}
		tstart, tstop := cfg.ThermostatRange()
		e.Bath, err = thermostat.NewLangevin(g, tstart, tstop, cfg.Thermostat.Damp, cfg.Thermostat.ZeroDrift, ctx.Source(StreamLangevin))
		if err != nil {
			return nil, err
		}
		e.tempGroup = g
	}

	e.Thermo, err = sampler.NewThermo(e.tempGroup, cfg.Output.ThermoEvery, opts.Sinks...)
	if err != nil {
		return nil, err
	}
	simulator.SetThermo(e.Thermo)

	defer func() {
		if err != nil {
			e.closeOutputs()
		}
	}()
	policy := sampler.Policy{Retries: cfg.Output.IORetries, Backoff: cfg.Output.IOBackoff, BestEffort: cfg.Output.BestEffort}
	if cfg.Output.Trajectory != "" {
		sink, err := sampler.OpenSink(outputPath(opts.OutputDir, cfg.Output.Trajectory), opts.Appending, policy, logger)
		if err != nil {
			return nil, err
		}
		if e.Trajectory, err = sampler.NewTrajectory(sink, cfg.Output.DumpEvery); err != nil {
			sink.Close()
			return nil, err
		}
		if e.Trajectory.Sink().Compressed() {
			logger.Printf("trajectory %s is zstd compressed", e.Trajectory.Sink().Path())
		}
	}
	if cfg.Output.Energy != "" {
		sink, err := sampler.OpenSink(outputPath(opts.OutputDir, cfg.Output.Energy), opts.Appending, policy, logger)
		if err != nil {
			return nil, err
		}
		if e.Energy, err = sampler.NewEnergyAverage(sink, cfg.Output.EnergyEvery); err != nil {
			sink.Close()
			return nil, err
		}
	}

	simulator.SetMinimize(integrators.MinimizeSettings{Etol: cfg.Minimize.Etol, Ftol: cfg.Minimize.Ftol, Dmax: cfg.Minimize.Dmax})
	simulator.SetStage(sim.Stage{Phase: dynamo.Minimizing, Steps: cfg.Minimize.MaxIter})
	seeded := false
	for _, st := range []struct {
		phase dynamo.Phase
		steps int64
	}{
		{dynamo.Equilibrating, cfg.Phases.Equilibrate},
		{dynamo.Producing, cfg.Phases.Produce},
	} {
		stage := sim.Stage{Phase: st.phase, Steps: st.steps}
		if e.Bath != nil && activeIn(cfg.Thermostat.Phases, st.phase) {
			stage.Thermostats = append(stage.Thermostats, e.Bath)
		}
		if e.Trajectory != nil && activeIn(cfg.Output.DumpPhases, st.phase) {
			stage.Samplers = append(stage.Samplers, e.Trajectory)
		}
		if e.Energy != nil && activeIn(cfg.Output.EnergyPhases, st.phase) {
			stage.Samplers = append(stage.Samplers, e.Energy)
		}
		if !seeded && st.steps > 0 {
			stage.Enter = e.assignVelocities
			seeded = true
		}
		simulator.SetStage(stage)
	}

	for _, m := range e.metricSet() {
		simulator.AddMetric(m)
	}
	if opts.Checkpointer != nil {
		simulator.SetCheckpointer(opts.Checkpointer)
	}
	return e, nil
}

func species(cfg *config.Config) []particles.Species {
	out := make([]particles.Species, len(cfg.Species))
	for k, sp := range cfg.Species {
		var sites []r3.Vec
		for _, s := range sp.Sites {
			sites = append(sites, r3.Vec{X: s[0], Y: s[1], Z: s[2]})
		}
		out[k] = particles.Species{Name: sp.Name, Type: sp.Type, Mass: sp.Mass, Count: sp.Count, Sites: sites}
	}
	return out
}

func outputPath(dir, name string) string {
	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func activeIn(phases []string, p dynamo.Phase) bool {
	for _, n := range phases {
		if n == p.String() {
			return true
		}
	}
	return false
}

func (e *Experiment) assignVelocities(ctx *dynamo.Context) error {
	name := e.Config.VelocityGroup()
	g, err := ctx.System.Group(name)
	if err != nil {
		return err
	}
	t := e.Config.VelocityTemperature()
	ctx.Logger.Printf("velocities for %s drawn at T=%g", name, t)
	return ctx.System.AssignVelocities(g, t, ctx.Source(StreamVelocity))
}

func (e *Experiment) metricSet() []dynamo.Metric {
	ms := []dynamo.Metric{
		metrics.NewAverage("temp_avg", metrics.Temperature(e.tempGroup)),
		metrics.NewBlockAverage("temp_block", metrics.Temperature(e.tempGroup), 1000),
		metrics.NewAverage("pe_avg", metrics.PotentialEnergy()),
		metrics.NewAverage("etot_avg", metrics.TotalEnergy()),
		metrics.NewAverage("press_avg", metrics.Pressure()),
		metrics.NewAverage("com_speed", metrics.COMSpeed(e.tempGroup)),
		metrics.NewEnergyDrift(),
		metrics.NewStability(1e4),
	}
	if e.Bath != nil {
		ms = append(ms, metrics.NewBathExchange(e.Bath))
	}
	return ms
}

// Resume continues from a checkpoint instead of fresh initial conditions.
func (e *Experiment) Resume(cp *dynamo.Checkpoint) error {
	return e.Simulator.Resume(cp)
}

// Run executes the remaining phases and adds neighbor and solute statistics
// to the result's metrics.
func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	res, err := e.Simulator.Run(ctx)
	if res != nil {
		b := e.Pair.Neighbors()
		res.Metrics["neighbor_builds"] = float64(b.Builds)
		res.Metrics["neighbor_dangerous"] = float64(b.Dangerous)
		res.Metrics["neighbor_max_displacement"] = b.MaxDisplacement
		if e.Bath != nil {
			res.Metrics["bath_tally"] = e.Bath.Tally()
		}
		if g, gerr := e.System.Group("solute"); gerr == nil && g.Len() > 0 {
			res.Metrics["solute_displacement"] = e.soluteDisplacement(g)
		}
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", e.Config.Name, err)
	}
	return res, nil
}

// soluteDisplacement is the largest distance of a solute particle from its
// configured site.
func (e *Experiment) soluteDisplacement(g *particles.Group) float64 {
	var sites [][3]float64
	for _, sp := range e.Config.Species {
		if sp.Name == "solute" {
			sites = sp.Sites
		}
	}
	d := 0.0
	for k, i := range g.Indices() {
		if k >= len(sites) {
			break
		}
		s := sites[k]
		d = max(d, r3.Norm(e.System.Box.MinImage(r3.Sub(e.System.Pos[i], r3.Vec{X: s[0], Y: s[1], Z: s[2]}))))
	}
	return d
}

func (e *Experiment) closeOutputs() {
	if e.Trajectory != nil {
		e.Trajectory.Close()
	}
	if e.Energy != nil {
		e.Energy.Close()
	}
}
