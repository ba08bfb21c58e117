package experiment

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/sampler"
	"github.com/san-kum/solvmd/internal/sim"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workers = 1
	cfg.Phases = config.PhasesConfig{Equilibrate: 40, Produce: 40}
	cfg.Output.Trajectory = ""
	cfg.Output.Energy = ""
	cfg.Output.ThermoEvery = 0
	return cfg
}

type rowRecorder struct {
	mu   sync.Mutex
	rows []sampler.Row
}

func (r *rowRecorder) Record(row sampler.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func TestNewBuildsSystem(t *testing.T) {
	e, err := New(testConfig(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 126, e.System.Len())
	solute, err := e.System.Group("solute")
	require.NoError(t, err)
	assert.Equal(t, 1, solute.Len())
	assert.Equal(t, r3.Vec{}, e.System.Pos[solute.Indices()[0]])

	solvent, err := e.System.Group("solvent")
	require.NoError(t, err)
	assert.Equal(t, 125, solvent.Len())

	assert.NotNil(t, e.Bath)
	assert.NotNil(t, e.Thermo)
	assert.Nil(t, e.Trajectory)
	assert.Nil(t, e.Energy)
}

func TestTemperatureGroupWithoutThermostat(t *testing.T) {
	cfg := testConfig()
	cfg.Thermostat.Enabled = false
	e, err := New(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "solvent", e.tempGroup.Name())
	assert.Equal(t, 3*125-3, e.tempGroup.DegreesOfFreedom())

	cfg.Velocity.Group = ""
	e, err = New(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "all", e.tempGroup.Name())

	cfg.Velocity.Group = "ions"
	_, err = New(cfg, Options{})
	var ce *dynamo.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "velocity.group", ce.Field)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = "gpu"
	_, err := New(cfg, Options{})

	var ce *dynamo.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "backend", ce.Field)
	assert.True(t, errors.Is(err, dynamo.ErrConfiguration))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Dt = 0
	_, err := New(cfg, Options{})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestRunWritesOutputsUnderDir(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Output.Trajectory = "traj.lammpstrj"
	cfg.Output.DumpEvery = 10
	cfg.Output.Energy = "energy.dat"
	cfg.Output.EnergyEvery = 5
	cfg.Output.ThermoEvery = 10

	rec := &rowRecorder{}
	e, err := New(cfg, Options{OutputDir: dir, Sinks: []sampler.RowSink{rec}})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dynamo.Finished, res.Phase)

	traj, err := os.ReadFile(filepath.Join(dir, "traj.lammpstrj"))
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(traj), "ITEM: TIMESTEP"))

	energy, err := os.ReadFile(filepath.Join(dir, "energy.dat"))
	require.NoError(t, err)
	assert.NotEmpty(t, energy)

	require.NotEmpty(t, rec.rows)
	assert.Equal(t, "minimizing", rec.rows[0].Phase)
	last := rec.rows[len(rec.rows)-1]
	assert.Equal(t, "producing", last.Phase)
}

func TestRunReportsNeighborAndSoluteMetrics(t *testing.T) {
	e, err := New(testConfig(), Options{})
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, res.Metrics["neighbor_builds"], 0.0)
	assert.Contains(t, res.Metrics, "neighbor_max_displacement")
	assert.Equal(t, 0.0, res.Metrics["solute_displacement"])
	assert.Contains(t, res.Metrics, "bath_tally")
	assert.Contains(t, res.Metrics, "temp_avg")
}

func TestRunErrorNamesConfig(t *testing.T) {
	e, err := New(testConfig(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, dynamo.ErrCanceled)
	assert.True(t, strings.HasPrefix(err.Error(), "solute-lj: "))
	assert.Equal(t, dynamo.Canceled, e.Context.Phase)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"auto", "cpu", "serial"}, r.ListBackends())

	b, err := r.GetBackend("", 1)
	require.NoError(t, err)
	assert.Equal(t, "serial", b.Name())

	b, err = r.GetBackend("cpu", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Workers())

	_, err = r.GetBackend("opencl", 1)
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestSummarize(t *testing.T) {
	results := []*sim.Result{
		{Metrics: map[string]float64{"temp_avg": 1.0, "pe_avg": -4, "only_here": 1}},
		{Metrics: map[string]float64{"temp_avg": 1.2, "pe_avg": -4}},
		{Metrics: map[string]float64{"temp_avg": 0.8, "pe_avg": -4}},
	}
	sums := Summarize(results)
	require.Len(t, sums, 2)

	assert.Equal(t, "pe_avg", sums[0].Name)
	assert.Equal(t, -4.0, sums[0].Mean)
	assert.Equal(t, 0.0, sums[0].StdErr)

	assert.Equal(t, "temp_avg", sums[1].Name)
	assert.InDelta(t, 1.0, sums[1].Mean, 1e-12)
	assert.InDelta(t, 0.2/math.Sqrt(3), sums[1].StdErr, 1e-12)
	assert.Equal(t, 3, sums[1].N)

	single := Summarize(results[:1])
	for _, s := range single {
		assert.True(t, math.IsNaN(s.StdErr))
	}
	assert.Nil(t, Summarize(nil))
}

func TestEnsembleSeedsReplicas(t *testing.T) {
	cfg := testConfig()
	cfg.Output.Trajectory = "should-not-exist.lammpstrj"

	results, err := NewEnsemble(cfg, 2, 7).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, dynamo.Finished, r.Phase)
	}
	assert.NotEqual(t, results[0].Metrics["pe_avg"], results[1].Metrics["pe_avg"])

	_, err = os.Stat("should-not-exist.lammpstrj")
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "should-not-exist.lammpstrj", cfg.Output.Trajectory)
}

func TestSweepVariesTemperature(t *testing.T) {
	cfg := testConfig()
	cfg.Phases = config.PhasesConfig{Equilibrate: 200, Produce: 200}
	sw := &Sweep{Base: cfg, ParamName: "temperature", ParamMin: 0.5, ParamMax: 2.0, NumSteps: 2}

	results, err := sw.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0.5, results[0].ParamValue)
	assert.Equal(t, 2.0, results[1].ParamValue)
	assert.Less(t, results[0].Metrics["temp_avg"], results[1].Metrics["temp_avg"])
	assert.Equal(t, 1.0, cfg.Temperature)
}

func TestSweepRejectsUnknownParam(t *testing.T) {
	sw := &Sweep{Base: testConfig(), ParamName: "charge", NumSteps: 3}
	_, err := sw.Run(context.Background())
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestSetCrossLeavesLikePairs(t *testing.T) {
	cfg := testConfig()
	SweepParams["epsilon"](cfg, 0.25)
	for _, c := range cfg.Pair.Coeffs {
		if c.I != c.J {
			assert.Equal(t, 0.25, c.Epsilon)
		} else if c.Style == "lj" {
			assert.Equal(t, 1.0, c.Epsilon)
		}
	}
}
