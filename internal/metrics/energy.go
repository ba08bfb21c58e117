package metrics

import (
	"math"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// Average is the running mean of an observable.
type Average struct {
	name    string
	obs     Observable
	sum     float64
	sumSq   float64
	last    float64
	samples int
}

func NewAverage(name string, obs Observable) *Average {
	return &Average{name: name, obs: obs}
}

func (a *Average) Name() string { return a.name }

func (a *Average) Observe(ctx *dynamo.Context) {
	v := a.obs(ctx)
	a.last = v
	a.sum += v
	a.sumSq += v * v
	a.samples++
}

func (a *Average) Value() float64 {
	if a.samples == 0 {
		return 0
	}
	return a.sum / float64(a.samples)
}

// Last is the most recent sample.
func (a *Average) Last() float64 { return a.last }

func (a *Average) Samples() int { return a.samples }

// StdDev is the sample standard deviation of the observed values.
func (a *Average) StdDev() float64 {
	if a.samples < 2 {
		return 0
	}
	n := float64(a.samples)
	mean := a.sum / n
	v := (a.sumSq - n*mean*mean) / (n - 1)
	return math.Sqrt(math.Max(v, 0))
}

func (a *Average) Reset() {
	a.sum, a.sumSq, a.last = 0, 0, 0
	a.samples = 0
}

// EnergyDrift tracks the largest relative deviation of the total energy from
// its first sample. Only meaningful without a thermostat.
type EnergyDrift struct {
	name          string
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(ctx *dynamo.Context) {
	energy := TotalEnergy()(ctx)
	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}
