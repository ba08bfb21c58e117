package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/san-kum/solvmd/internal/sampler"
)

type ExportData struct {
	Run     RunMetadata        `json:"run"`
	Steps   int                `json:"steps"`
	Rows    []sampler.Row      `json:"rows"`
	Metrics map[string]float64 `json:"metrics"`
}

// ExportJSON writes a run's metadata and thermo rows as one indented JSON
// document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	rows, err := s.LoadThermo(runID)
	if err != nil {
		return err
	}
	data := ExportData{
		Run:     *meta,
		Steps:   len(rows),
		Rows:    rows,
		Metrics: meta.Metrics,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportCSV writes the selected thermo columns of a run. An empty column
// list selects the step, time and energy columns.
func (s *Store) ExportCSV(w io.Writer, runID string, columns []string) error {
	rows, err := s.LoadThermo(runID)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		columns = []string{"step", "time", "temp", "pe", "ke", "etot"}
	}
	get := make([]func(sampler.Row) string, len(columns))
	for k, c := range columns {
		f, ok := columnGetters[c]
		if !ok {
			return &UnknownColumnError{Column: c}
		}
		get[k] = f
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	rec := make([]string, len(columns))
	for _, row := range rows {
		for k, f := range get {
			rec[k] = f(row)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return "unknown column: " + e.Column
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }

var columnGetters = map[string]func(sampler.Row) string{
	"step":       func(r sampler.Row) string { return strconv.FormatInt(r.Step, 10) },
	"phase":      func(r sampler.Row) string { return r.Phase },
	"phase_step": func(r sampler.Row) string { return strconv.FormatInt(r.PhaseStep, 10) },
	"time":       func(r sampler.Row) string { return strconv.FormatFloat(r.Time, 'f', 6, 64) },
	"temp":       func(r sampler.Row) string { return formatFloat(r.Temp) },
	"pe":         func(r sampler.Row) string { return formatFloat(r.PE) },
	"ke":         func(r sampler.Row) string { return formatFloat(r.KE) },
	"etot":       func(r sampler.Row) string { return formatFloat(r.Etot) },
	"press":      func(r sampler.Row) string { return formatFloat(r.Press) },
}

// Column extracts a numeric thermo column by name for plotting.
func Column(rows []sampler.Row, name string) ([]float64, error) {
	pick := map[string]func(sampler.Row) float64{
		"step":  func(r sampler.Row) float64 { return float64(r.Step) },
		"time":  func(r sampler.Row) float64 { return r.Time },
		"temp":  func(r sampler.Row) float64 { return r.Temp },
		"pe":    func(r sampler.Row) float64 { return r.PE },
		"ke":    func(r sampler.Row) float64 { return r.KE },
		"etot":  func(r sampler.Row) float64 { return r.Etot },
		"press": func(r sampler.Row) float64 { return r.Press },
	}[name]
	if pick == nil {
		return nil, &UnknownColumnError{Column: name}
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = pick(r)
	}
	return out, nil
}
