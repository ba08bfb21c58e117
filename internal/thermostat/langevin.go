package thermostat

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

// Boltzmann constant in reduced units.
const KB = 1.0

// Langevin couples a group to a heat bath. Each particle receives a drag
// -m v / damp and a Gaussian random force with variance 2 m kB T / (damp dt)
// per component.
type Langevin struct {
	Group     *particles.Group
	TStart    float64
	TStop     float64
	Damp      float64
	ZeroDrift bool

	normal distuv.Normal
	noise  []r3.Vec
	tally  float64
}

func NewLangevin(g *particles.Group, tstart, tstop, damp float64, zeroDrift bool, src rand.Source) (*Langevin, error) {
	if g == nil {
		return nil, &dynamo.ConfigError{Field: "thermostat.group", Reason: "required"}
	}
	if damp <= 0 || math.IsNaN(damp) {
		return nil, &dynamo.ConfigError{Field: "thermostat.damp", Reason: fmt.Sprintf("must be positive, got %g", damp)}
	}
	if tstart < 0 || tstop < 0 {
		return nil, &dynamo.ConfigError{Field: "thermostat.temperature", Reason: "must be non-negative"}
	}
	if src == nil {
		return nil, fmt.Errorf("langevin: random source is required")
	}
	return &Langevin{
		Group:     g,
		TStart:    tstart,
		TStop:     tstop,
		Damp:      damp,
		ZeroDrift: zeroDrift,
		normal:    distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		noise:     make([]r3.Vec, g.Len()),
	}, nil
}

func (l *Langevin) Name() string         { return "langevin/" + l.Group.Name() }
func (l *Langevin) Kind() dynamo.FixKind { return dynamo.KindThermostat }

// Target is the bath temperature at the current point of the phase, ramping
// linearly from TStart to TStop.
func (l *Langevin) Target(ctx *dynamo.Context) float64 {
	return l.TStart + (l.TStop-l.TStart)*ctx.PhaseProgress()
}

// Apply adds drag and noise to System.Force for every group member. With
// ZeroDrift the group mean of the random forces is removed so the bath puts no
// net momentum into the group.
func (l *Langevin) Apply(ctx *dynamo.Context) error {
	sys := ctx.System
	idx := l.Group.Indices()
	if len(idx) == 0 {
		return nil
	}
	temp := l.Target(ctx)
	pref := math.Sqrt(2 * KB * temp / (l.Damp * ctx.Dt))

	var mean r3.Vec
	for k, i := range idx {
		sigma := pref * math.Sqrt(sys.Mass[i])
		l.noise[k] = r3.Vec{
			X: sigma * l.normal.Rand(),
			Y: sigma * l.normal.Rand(),
			Z: sigma * l.normal.Rand(),
		}
		mean = r3.Add(mean, l.noise[k])
	}
	if l.ZeroDrift {
		mean = r3.Scale(1/float64(len(idx)), mean)
	} else {
		mean = r3.Vec{}
	}

	for k, i := range idx {
		drag := r3.Scale(-sys.Mass[i]/l.Damp, sys.Vel[i])
		f := r3.Add(drag, r3.Sub(l.noise[k], mean))
		sys.Force[i] = r3.Add(sys.Force[i], f)
		l.tally -= r3.Dot(f, sys.Vel[i]) * ctx.Dt
	}
	return nil
}

// Tally is the cumulative energy the bath has removed from the group; negative
// when it has heated the group.
func (l *Langevin) Tally() float64 { return l.tally }

func (l *Langevin) MarshalState() ([]byte, error) { return json.Marshal(l.tally) }

func (l *Langevin) UnmarshalState(data []byte) error { return json.Unmarshal(data, &l.tally) }
