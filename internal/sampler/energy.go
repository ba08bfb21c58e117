package sampler

import (
	"encoding/json"
	"strconv"

	"github.com/san-kum/solvmd/internal/dynamo"
)

const energyHeader = "# step avg_pe\n"

// EnergyAverage samples the potential energy after every step it observes and
// writes the mean of each Every consecutive samples as one row, labelled with
// the step that closed the window. Windows are counted by the sampler, so
// minimizer iterations never shorten them. A window still open when the run
// ends is discarded; a checkpoint carries it over to the resumed run.
type EnergyAverage struct {
	Every int64

	sink    *Sink
	sum     float64
	samples int
	line    []byte
}

// NewEnergyAverage writes the column header when the sink is empty.
func NewEnergyAverage(sink *Sink, every int64) (*EnergyAverage, error) {
	if every <= 0 {
		return nil, &dynamo.ConfigError{Field: "output.energy_every", Reason: "must be positive"}
	}
	if sink.Offset() == 0 {
		if err := sink.Write([]byte(energyHeader)); err != nil {
			return nil, err
		}
	}
	return &EnergyAverage{Every: every, sink: sink}, nil
}

func (e *EnergyAverage) Name() string         { return "ave/pe" }
func (e *EnergyAverage) Kind() dynamo.FixKind { return dynamo.KindSampler }

func (e *EnergyAverage) OnStep(ctx *dynamo.Context) error {
	e.sum += ctx.PotentialEnergy
	e.samples++
	if int64(e.samples) < e.Every {
		return nil
	}
	avg := e.sum / float64(e.samples)
	e.sum, e.samples = 0, 0

	e.line = strconv.AppendInt(e.line[:0], ctx.Step, 10)
	e.line = append(e.line, ' ')
	e.line = strconv.AppendFloat(e.line, avg, 'f', 8, 64)
	e.line = append(e.line, '\n')
	return e.sink.Write(e.line)
}

// Pending is the number of samples not yet written.
func (e *EnergyAverage) Pending() int { return e.samples }

func (e *EnergyAverage) Close() error { return e.sink.Close() }

type windowState struct {
	Sum     float64 `json:"sum"`
	Samples int     `json:"samples"`
}

func (e *EnergyAverage) MarshalState() ([]byte, error) {
	return json.Marshal(windowState{Sum: e.sum, Samples: e.samples})
}

func (e *EnergyAverage) UnmarshalState(data []byte) error {
	var s windowState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.sum, e.samples = s.Sum, s.Samples
	return nil
}
