package sim_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/experiment"
	"github.com/san-kum/solvmd/internal/particles"
	"github.com/san-kum/solvmd/internal/sampler"
	"github.com/san-kum/solvmd/internal/sim"
)

func smallConfig(seed uint64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Seed = seed
	cfg.Workers = 2
	cfg.Phases = config.PhasesConfig{Equilibrate: 300, Produce: 200}
	cfg.Output.Trajectory = ""
	cfg.Output.Energy = ""
	cfg.Output.ThermoEvery = 0
	return cfg
}

// recorder is a sampler that notes the phases it ran in and whether the
// solute ever left the origin.
type recorder struct {
	phases []dynamo.Phase
	steps  int
	moved  bool
	hook   func(ctx *dynamo.Context)
}

func (r *recorder) Name() string         { return "recorder" }
func (r *recorder) Kind() dynamo.FixKind { return dynamo.KindSampler }
func (r *recorder) Close() error         { return nil }

func (r *recorder) OnStep(ctx *dynamo.Context) error {
	if n := len(r.phases); n == 0 || r.phases[n-1] != ctx.Phase {
		r.phases = append(r.phases, ctx.Phase)
	}
	r.steps++
	if ctx.System.Pos[0] != (r3.Vec{}) || ctx.System.Vel[0] != (r3.Vec{}) {
		r.moved = true
	}
	if r.hook != nil {
		r.hook(ctx)
	}
	return nil
}

type memCheckpoints struct {
	saved []*dynamo.Checkpoint
}

func (m *memCheckpoints) SaveCheckpoint(cp *dynamo.Checkpoint) error {
	m.saved = append(m.saved, cp)
	return nil
}

func (m *memCheckpoints) last() *dynamo.Checkpoint {
	Expect(m.saved).NotTo(BeEmpty())
	return m.saved[len(m.saved)-1]
}

type nanField struct{}

func (nanField) Name() string         { return "nan" }
func (nanField) Kind() dynamo.FixKind { return dynamo.KindForceField }
func (nanField) Cutoff() float64      { return 0 }
func (nanField) Compute(ctx *dynamo.Context) (float64, float64, error) {
	if ctx.Step > 3 {
		ctx.System.Force[ctx.System.Len()-1].Y = math.Inf(1)
	}
	return 0, 0, nil
}

// brokenSampler fails once it has seen after steps.
type brokenSampler struct{ after int }

func (b *brokenSampler) Name() string         { return "broken" }
func (b *brokenSampler) Kind() dynamo.FixKind { return dynamo.KindSampler }
func (b *brokenSampler) Close() error         { return nil }

func (b *brokenSampler) OnStep(ctx *dynamo.Context) error {
	b.after--
	if b.after < 0 {
		return errors.New("disk full")
	}
	return nil
}

// readEnergy parses the rows of an energy average file.
func readEnergy(path string) ([]int64, []float64) {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	var steps []int64
	var values []float64
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		Expect(fields).To(HaveLen(2))
		step, err := strconv.ParseInt(fields[0], 10, 64)
		Expect(err).NotTo(HaveOccurred())
		v, err := strconv.ParseFloat(fields[1], 64)
		Expect(err).NotTo(HaveOccurred())
		steps = append(steps, step)
		values = append(values, v)
	}
	return steps, values
}

func build(cfg *config.Config, opts experiment.Options) *experiment.Experiment {
	exp, err := experiment.New(cfg, opts)
	Expect(err).NotTo(HaveOccurred())
	return exp
}

func withRecorder(exp *experiment.Experiment) *recorder {
	rec := &recorder{}
	exp.Simulator.AddSampler(dynamo.Equilibrating, rec)
	exp.Simulator.AddSampler(dynamo.Producing, rec)
	return rec
}

func maxDeviation(box particles.Box, a, b []r3.Vec) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, r3.Norm(box.MinImage(r3.Sub(a[i], b[i]))))
	}
	return d
}

var _ = Describe("Simulator", func() {
	var ckpt *memCheckpoints

	BeforeEach(func() {
		ckpt = &memCheckpoints{}
	})

	It("runs minimization, equilibration and production in order", func() {
		exp := build(smallConfig(1234), experiment.Options{Checkpointer: ckpt})
		rec := withRecorder(exp)

		res, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Phase).To(Equal(dynamo.Finished))
		Expect(rec.phases).To(Equal([]dynamo.Phase{dynamo.Equilibrating, dynamo.Producing}))
		Expect(rec.steps).To(Equal(500))

		Expect(res.Minimize).NotTo(BeNil())
		Expect(res.Minimize.Iterations).To(BeNumerically(">", 0))
		Expect(res.Minimize.FinalEnergy).To(BeNumerically("<", res.Minimize.InitialEnergy))
		Expect(res.Steps).To(Equal(int64(res.Minimize.Iterations) + 500))
		Expect(res.Time).To(BeNumerically("~", 500*0.002, 1e-9))

		// one per phase, then the last one again marked finished
		Expect(ckpt.saved).To(HaveLen(4))
		Expect(ckpt.last().Phase).To(Equal("producing"))
		Expect(ckpt.last().Outcome).To(Equal("finished"))
		Expect(ckpt.saved[2].Outcome).To(BeEmpty())
	})

	It("keeps the frozen solute at the origin on every step", func() {
		exp := build(smallConfig(1234), experiment.Options{})
		rec := withRecorder(exp)

		res, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(rec.moved).To(BeFalse())
		Expect(exp.System.Pos[0]).To(Equal(r3.Vec{}))
		Expect(res.Metrics).To(HaveKeyWithValue("solute_displacement", 0.0))
	})

	It("reproduces a run exactly from the same seed", func() {
		a := build(smallConfig(99), experiment.Options{})
		b := build(smallConfig(99), experiment.Options{})
		_, err := a.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		_, err = b.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(a.System.Pos).To(Equal(b.System.Pos))
		Expect(a.System.Vel).To(Equal(b.System.Vel))
	})

	It("gives a different trajectory for a different seed", func() {
		a := build(smallConfig(1), experiment.Options{})
		b := build(smallConfig(2), experiment.Options{})
		_, err := a.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		_, err = b.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(a.System.Pos).NotTo(Equal(b.System.Pos))
	})

	It("skips a phase with a zero budget", func() {
		cfg := smallConfig(1234)
		cfg.Phases.Equilibrate = 0
		exp := build(cfg, experiment.Options{})
		rec := withRecorder(exp)

		res, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.phases).To(Equal([]dynamo.Phase{dynamo.Producing}))
		Expect(res.Phase).To(Equal(dynamo.Finished))
		// velocities are drawn when the first dynamic phase starts
		solvent, _ := exp.System.Group("solvent")
		Expect(exp.System.KineticEnergy(solvent)).To(BeNumerically(">", 0))
	})

	It("stops at a step boundary when canceled and resumes from the checkpoint", func() {
		ref := build(smallConfig(7), experiment.Options{})
		refRes, err := ref.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		goctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		first := build(smallConfig(7), experiment.Options{Checkpointer: ckpt})
		rec := withRecorder(first)
		rec.hook = func(ctx *dynamo.Context) {
			if ctx.Phase == dynamo.Equilibrating && ctx.PhaseStep == 150 {
				cancel()
			}
		}

		res, err := first.Run(goctx)
		Expect(errors.Is(err, dynamo.ErrCanceled)).To(BeTrue(), "error: %v", err)
		Expect(res.Phase).To(Equal(dynamo.Canceled))
		Expect(rec.steps).To(Equal(150))

		cp := ckpt.last()
		Expect(cp.Phase).To(Equal("equilibrating"))
		Expect(cp.PhaseStep).To(Equal(int64(150)))
		Expect(cp.Outcome).To(Equal("canceled"))
		Expect(cp.HasForces()).To(BeTrue())
		Expect(cp.State).To(HaveKey("metric/temp_avg"))
		Expect(cp.State).To(HaveKey("fix/langevin/solvent"))

		second := build(smallConfig(7), experiment.Options{})
		Expect(second.Resume(cp)).To(Succeed())
		res, err = second.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Phase).To(Equal(dynamo.Finished))
		Expect(res.Steps).To(Equal(refRes.Steps))
		Expect(res.Minimize).To(BeNil())

		Expect(maxDeviation(ref.System.Box, ref.System.Pos, second.System.Pos)).To(BeNumerically("<", 1e-8))
		Expect(second.System.Pos[0]).To(Equal(r3.Vec{}))

		// accumulators continue over the whole production phase
		for _, name := range []string{"temp_avg", "pe_avg", "bath_exchange", "stability"} {
			Expect(res.Metrics[name]).To(BeNumerically("~", refRes.Metrics[name], 1e-6), name)
		}
		Expect(res.Metrics["bath_tally"]).To(BeNumerically("~", refRes.Metrics["bath_tally"], 1e-6))
	})

	It("averages full energy windows after minimization and across a resume", func() {
		const every = 40
		energyConfig := func() *config.Config {
			cfg := smallConfig(21)
			cfg.Output.Energy = "energy.dat"
			cfg.Output.EnergyEvery = every
			return cfg
		}

		refDir := GinkgoT().TempDir()
		ref := build(energyConfig(), experiment.Options{OutputDir: refDir})
		refRes, err := ref.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(refRes.Minimize.Iterations).To(BeNumerically(">", 0))

		steps, values := readEnergy(filepath.Join(refDir, "energy.dat"))
		// 500 dynamics steps fill 12 windows, the last 20 samples are dropped
		Expect(steps).To(HaveLen(12))
		for k, step := range steps {
			Expect(step).To(Equal(refRes.Minimize.Iterations + int64(every*(k+1))))
		}

		dir := GinkgoT().TempDir()
		goctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		first := build(energyConfig(), experiment.Options{OutputDir: dir, Checkpointer: ckpt})
		rec := withRecorder(first)
		rec.hook = func(ctx *dynamo.Context) {
			// mid-window: 150 is not a multiple of 40
			if ctx.Phase == dynamo.Equilibrating && ctx.PhaseStep == 150 {
				cancel()
			}
		}
		_, err = first.Run(goctx)
		Expect(errors.Is(err, dynamo.ErrCanceled)).To(BeTrue(), "error: %v", err)
		Expect(ckpt.last().State).To(HaveKey("fix/ave/pe"))

		second := build(energyConfig(), experiment.Options{OutputDir: dir, Appending: true})
		Expect(second.Resume(ckpt.last())).To(Succeed())
		_, err = second.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		gotSteps, gotValues := readEnergy(filepath.Join(dir, "energy.dat"))
		Expect(gotSteps).To(Equal(steps))
		for k := range values {
			Expect(gotValues[k]).To(BeNumerically("~", values[k], 1e-6))
		}
	})

	It("does not resume a finished run", func() {
		exp := build(smallConfig(3), experiment.Options{Checkpointer: ckpt})
		_, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		cp := ckpt.last()
		Expect(cp.Outcome).To(Equal("finished"))
		other := build(smallConfig(3), experiment.Options{})
		Expect(errors.Is(other.Resume(cp), dynamo.ErrConfiguration)).To(BeTrue())

		_, err = exp.Run(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("does not resume a run that failed after a phase checkpoint", func() {
		exp := build(smallConfig(5), experiment.Options{Checkpointer: ckpt})
		exp.Simulator.AddSampler(dynamo.Producing, &brokenSampler{after: 10})
		res, err := exp.Run(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(res.Phase).To(Equal(dynamo.Failed))

		cp := ckpt.last()
		Expect(cp.Phase).To(Equal("equilibrating"))
		Expect(cp.Outcome).To(Equal("failed"))
		other := build(smallConfig(5), experiment.Options{})
		Expect(errors.Is(other.Resume(cp), dynamo.ErrConfiguration)).To(BeTrue())
	})

	It("fails with the offending step and particle on non-finite forces", func() {
		sys, err := particles.Initialize(particles.NewCubicBox(6), []particles.Species{
			{Name: "solvent", Type: 1, Mass: 1, Count: 10},
		}, rand.NewSource(1))
		Expect(err).NotTo(HaveOccurred())
		ctx := dynamo.NewContext(sys, 0.002, 1, nil)

		s := sim.New(ctx, []dynamo.ForceField{nanField{}}, nil)
		s.SetStage(sim.Stage{Phase: dynamo.Equilibrating, Steps: 10})
		res, err := s.Run(context.Background())

		var inst *dynamo.InstabilityError
		Expect(errors.As(err, &inst)).To(BeTrue(), "error: %v", err)
		Expect(inst.Step).To(Equal(int64(4)))
		Expect(inst.Particle).To(Equal(10))
		// the closing half kick carries the force into the velocity
		Expect(inst.Quantity).To(Equal("velocity"))
		Expect(res.Phase).To(Equal(dynamo.Failed))
		Expect(ctx.Phase).To(Equal(dynamo.Failed))
	})

	It("reports neighbor and thermostat statistics", func() {
		exp := build(smallConfig(1234), experiment.Options{})
		res, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Metrics["neighbor_builds"]).To(BeNumerically(">=", 1))
		Expect(res.Metrics["neighbor_dangerous"]).To(BeZero())
		Expect(res.Metrics["temp_avg"]).To(BeNumerically(">", 0))
		Expect(res.Metrics).To(HaveKey("bath_exchange"))
		Expect(res.Metrics["stability"]).To(BeNumerically(">", 0.9))
	})
})

var _ = Describe("Reduced end-to-end scenario", Label("e2e"), func() {
	It("equilibrates the solvent to the bath temperature around a fixed solute", func() {
		if testing.Short() {
			Skip("long run")
		}
		dir := GinkgoT().TempDir()
		cfg := config.DefaultConfig()
		cfg.Workers = 2
		cfg.Phases = config.PhasesConfig{Equilibrate: 10000, Produce: 10000}
		cfg.Output.Trajectory = "traj.lammpstrj.zst"
		cfg.Output.DumpEvery = 1000

		Expect(cfg.BoxLength).To(Equal(6.29))
		Expect(cfg.Seed).To(Equal(uint64(1234)))
		Expect(cfg.Species[1].Count).To(Equal(125))

		exp := build(cfg, experiment.Options{OutputDir: dir})
		res, err := exp.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Phase).To(Equal(dynamo.Finished))

		Expect(res.Metrics["temp_avg"]).To(BeNumerically("~", cfg.Temperature, 0.05*cfg.Temperature))
		Expect(exp.System.Pos[0]).To(Equal(r3.Vec{}))

		rc, err := sampler.OpenRecords(filepath.Join(dir, "traj.lammpstrj.zst"))
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		frames, err := sampler.ReadSnapshots(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(frames).To(HaveLen(10))
		for _, f := range frames {
			Expect(f.ID[0]).To(Equal(1))
			Expect(f.Pos[0]).To(Equal(r3.Vec{}))
			Expect(f.ID).To(HaveLen(126))
		}

		energy, err := os.ReadFile(filepath.Join(dir, "energy.dat"))
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(energy)), "\n")
		Expect(lines[0]).To(Equal("# step avg_pe"))
		Expect(lines).To(HaveLen(1 + 200))
	})
})
