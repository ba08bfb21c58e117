package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/sampler"
)

const (
	metadataFile   = "metadata.json"
	thermoFile     = "thermo.csv"
	configFile     = "config.yaml"
	checkpointFile = "checkpoint.json"
)

var thermoHeader = []string{"step", "phase", "phase_step", "phase_steps", "time", "temp", "pe", "ke", "etot", "press"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Timestamp   time.Time          `json:"timestamp"`
	Updated     time.Time          `json:"updated"`
	Seed        uint64             `json:"seed"`
	Dt          float64            `json:"dt"`
	Temperature float64            `json:"temperature"`
	Particles   int                `json:"particles"`
	Phase       string             `json:"phase"`
	Step        int64              `json:"step"`
	Error       string             `json:"error,omitempty"`
	Resumed     int                `json:"resumed,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Run is an open run directory. It records thermo rows as they arrive and
// implements sampler.RowSink.
type Run struct {
	Meta RunMetadata

	dir    string
	thermo *os.File
	w      *csv.Writer
}

// Create makes a fresh run directory for meta.Name, storing the YAML the run
// was configured with next to the metadata.
func (s *Store) Create(meta RunMetadata, configYAML []byte) (*Run, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("%s_%d", meta.Name, time.Now().Unix())
	runID := base
	for n := 2; ; n++ {
		err := os.Mkdir(filepath.Join(s.baseDir, runID), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		runID = fmt.Sprintf("%s-%d", base, n)
	}

	dir := s.Dir(runID)
	if err := os.WriteFile(filepath.Join(dir, configFile), configYAML, 0644); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, thermoFile))
	if err != nil {
		return nil, err
	}
	r := &Run{dir: dir, thermo: f, w: csv.NewWriter(f)}
	if err := r.w.Write(thermoHeader); err != nil {
		f.Close()
		return nil, err
	}
	r.w.Flush()

	meta.ID = runID
	meta.Timestamp = time.Now()
	meta.Phase = dynamo.Uninitialized.String()
	r.Meta = meta
	if err := r.writeMeta(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Open reopens an existing run for resumption. New thermo rows are appended.
func (s *Store) Open(runID string) (*Run, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	dir := s.Dir(runID)
	f, err := os.OpenFile(filepath.Join(dir, thermoFile), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	meta.Resumed++
	return &Run{Meta: *meta, dir: dir, thermo: f, w: csv.NewWriter(f)}, nil
}

func (r *Run) ID() string  { return r.Meta.ID }
func (r *Run) Dir() string { return r.dir }

// Path resolves an output file name inside the run directory. Absolute
// paths are returned unchanged.
func (r *Run) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.dir, name)
}

func (r *Run) Record(row sampler.Row) error {
	rec := []string{
		strconv.FormatInt(row.Step, 10),
		row.Phase,
		strconv.FormatInt(row.PhaseStep, 10),
		strconv.FormatInt(row.PhaseSteps, 10),
		strconv.FormatFloat(row.Time, 'f', 6, 64),
		strconv.FormatFloat(row.Temp, 'g', 10, 64),
		strconv.FormatFloat(row.PE, 'g', 10, 64),
		strconv.FormatFloat(row.KE, 'g', 10, 64),
		strconv.FormatFloat(row.Etot, 'g', 10, 64),
		strconv.FormatFloat(row.Press, 'g', 10, 64),
	}
	if err := r.w.Write(rec); err != nil {
		return &dynamo.IOError{Op: "write", Path: r.thermo.Name(), Err: err}
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return &dynamo.IOError{Op: "write", Path: r.thermo.Name(), Err: err}
	}
	return nil
}

// SaveCheckpoint replaces the run's checkpoint. The file is written under a
// temporary name and renamed so a crash never leaves a torn checkpoint.
func (r *Run) SaveCheckpoint(cp *dynamo.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, checkpointFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &dynamo.IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &dynamo.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Finish records the final phase, step and metrics and closes the thermo
// file. runErr, if any, is kept in the metadata.
func (r *Run) Finish(phase dynamo.Phase, step int64, metrics map[string]float64, runErr error) error {
	r.Meta.Phase = phase.String()
	r.Meta.Step = step
	r.Meta.Metrics = metrics
	r.Meta.Error = ""
	if runErr != nil {
		r.Meta.Error = runErr.Error()
	}
	err := r.writeMeta()
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *Run) Close() error {
	if r.thermo == nil {
		return nil
	}
	r.w.Flush()
	err := r.thermo.Close()
	r.thermo = nil
	return err
}

func (r *Run) writeMeta() error {
	r.Meta.Updated = time.Now()
	f, err := os.Create(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Meta)
}

// List returns every run with readable metadata, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) LoadConfig(runID string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir(runID), configFile))
}

func (s *Store) LoadCheckpoint(runID string) (*dynamo.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), checkpointFile))
	if err != nil {
		return nil, err
	}
	var cp dynamo.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", runID, err)
	}
	return &cp, nil
}

// LoadThermo reads back the thermo rows of a run.
func (s *Store) LoadThermo(runID string) ([]sampler.Row, error) {
	f, err := os.Open(filepath.Join(s.Dir(runID), thermoFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadThermo(f)
}

func ReadThermo(r io.Reader) ([]sampler.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(thermoHeader)

	rows := make([]sampler.Row, 0)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		if line == 1 || rec[0] == thermoHeader[0] {
			continue
		}
		row, err := parseRow(rec)
		if err != nil {
			return rows, fmt.Errorf("thermo line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (sampler.Row, error) {
	var row sampler.Row
	var err error
	ints := []*int64{&row.Step, nil, &row.PhaseStep, &row.PhaseSteps}
	for k, dst := range ints {
		if dst == nil {
			continue
		}
		if *dst, err = strconv.ParseInt(rec[k], 10, 64); err != nil {
			return row, err
		}
	}
	row.Phase = rec[1]
	floats := []*float64{&row.Time, &row.Temp, &row.PE, &row.KE, &row.Etot, &row.Press}
	for k, dst := range floats {
		if *dst, err = strconv.ParseFloat(rec[4+k], 64); err != nil {
			return row, err
		}
	}
	return row, nil
}
