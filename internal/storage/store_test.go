package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/sampler"
)

func rows() []sampler.Row {
	return []sampler.Row{
		{Step: 100, Phase: "equilibrating", PhaseStep: 100, PhaseSteps: 200, Time: 0.2, Temp: 1.1, PE: -3.5, KE: 2, Etot: -1.5, Press: 0.4},
		{Step: 200, Phase: "equilibrating", PhaseStep: 200, PhaseSteps: 200, Time: 0.4, Temp: 0.98, PE: -3.9, KE: 1.8, Etot: -2.1, Press: 0.3},
	}
}

func newRun(t *testing.T) (*Store, *Run) {
	t.Helper()
	st := New(t.TempDir())
	run, err := st.Create(RunMetadata{Name: "solute-lj", Seed: 1234, Dt: 0.002, Particles: 126}, []byte("seed: 1234\n"))
	require.NoError(t, err)
	return st, run
}

func TestStoreCreateAndLoad(t *testing.T) {
	st, run := newRun(t)
	for _, r := range rows() {
		require.NoError(t, run.Record(r))
	}
	require.NoError(t, run.Finish(dynamo.Finished, 200, map[string]float64{"temp_avg": 1.02}, nil))

	meta, err := st.Load(run.ID())
	require.NoError(t, err)
	assert.Equal(t, "solute-lj", meta.Name)
	assert.Equal(t, "finished", meta.Phase)
	assert.Equal(t, int64(200), meta.Step)
	assert.Equal(t, 1.02, meta.Metrics["temp_avg"])
	assert.Empty(t, meta.Error)

	got, err := st.LoadThermo(run.ID())
	require.NoError(t, err)
	assert.Equal(t, rows(), got)

	cfg, err := st.LoadConfig(run.ID())
	require.NoError(t, err)
	assert.Equal(t, "seed: 1234\n", string(cfg))
}

func TestStoreUniqueIDs(t *testing.T) {
	st := New(t.TempDir())
	a, err := st.Create(RunMetadata{Name: "x"}, nil)
	require.NoError(t, err)
	b, err := st.Create(RunMetadata{Name: "x"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	runs, err := st.List()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListMissingDir(t *testing.T) {
	runs, err := New(filepath.Join(t.TempDir(), "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFinishKeepsError(t *testing.T) {
	st, run := newRun(t)
	runErr := &dynamo.InstabilityError{Step: 12, Particle: 3, Quantity: "force"}
	require.NoError(t, run.Finish(dynamo.Failed, 12, nil, runErr))

	meta, err := st.Load(run.ID())
	require.NoError(t, err)
	assert.Equal(t, "failed", meta.Phase)
	assert.Equal(t, runErr.Error(), meta.Error)
}

func TestCheckpointRoundTrip(t *testing.T) {
	st, run := newRun(t)
	cp := &dynamo.Checkpoint{
		Version: dynamo.CheckpointVersion,
		Phase:   "producing",
		Step:    42,
		ID:      []int{1, 2},
		Type:    []int{1, 2},
		Pos:     [][3]float64{{0, 0, 0}, {1, 2, 3}},
		Vel:     [][3]float64{{0, 0, 0}, {-1, 0, 1}},
		Sources: map[string][]byte{"langevin": {1, 2, 3}},
		State:   map[string][]byte{"fix/ave/pe": []byte(`{"sum":-3.5,"samples":2}`)},
		Outcome: "canceled",
	}
	require.NoError(t, run.SaveCheckpoint(cp))
	require.NoError(t, run.SaveCheckpoint(cp))

	got, err := st.LoadCheckpoint(run.ID())
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	_, err = os.Stat(filepath.Join(run.Dir(), checkpointFile+".tmp"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "temporary checkpoint left behind")
}

func TestOpenAppendsThermo(t *testing.T) {
	st, run := newRun(t)
	r := rows()
	require.NoError(t, run.Record(r[0]))
	require.NoError(t, run.Finish(dynamo.Canceled, 100, nil, nil))

	resumed, err := st.Open(run.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.Meta.Resumed)
	require.NoError(t, resumed.Record(r[1]))
	require.NoError(t, resumed.Finish(dynamo.Finished, 200, nil, nil))

	got, err := st.LoadThermo(run.ID())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestRunPath(t *testing.T) {
	_, run := newRun(t)
	assert.Equal(t, filepath.Join(run.Dir(), "traj.lammpstrj"), run.Path("traj.lammpstrj"))
	assert.Equal(t, "/tmp/out.dat", run.Path("/tmp/out.dat"))
	assert.Equal(t, "", run.Path(""))
}

func TestExport(t *testing.T) {
	st, run := newRun(t)
	for _, r := range rows() {
		require.NoError(t, run.Record(r))
	}
	require.NoError(t, run.Finish(dynamo.Finished, 200, map[string]float64{"temp_avg": 1}, nil))

	var buf bytes.Buffer
	require.NoError(t, st.ExportCSV(&buf, run.ID(), []string{"step", "temp"}))
	assert.Equal(t, "step,temp\n100,1.1\n200,0.98\n", buf.String())

	err := st.ExportCSV(&buf, run.ID(), []string{"density"})
	var uc *UnknownColumnError
	assert.ErrorAs(t, err, &uc)

	buf.Reset()
	require.NoError(t, st.ExportJSON(&buf, run.ID()))
	var data ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, 2, data.Steps)
	assert.Equal(t, rows(), data.Rows)

	temps, err := Column(data.Rows, "temp")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.1, 0.98}, temps)
}

func TestReadThermoRejectsGarbage(t *testing.T) {
	in := strings.Join(thermoHeader, ",") + "\nabc,equilibrating,1,1,0,0,0,0,0,0\n"
	_, err := ReadThermo(strings.NewReader(in))
	assert.Error(t, err)
}
