package dynamo

import (
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"

	"golang.org/x/exp/rand"

	"github.com/san-kum/solvmd/internal/particles"
)

// Phase is a stage of a run. Phases only move forward.
type Phase int

const (
	Uninitialized Phase = iota
	Minimizing
	Equilibrating
	Producing
	Finished
	Canceled
	Failed
)

var phaseNames = [...]string{"uninitialized", "minimizing", "equilibrating", "producing", "finished", "canceled", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no further phase can follow p.
func (p Phase) Terminal() bool { return p >= Finished }

// Dynamic reports whether p advances time with the integrator.
func (p Phase) Dynamic() bool { return p == Equilibrating || p == Producing }

func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return Uninitialized, fmt.Errorf("unknown phase: %s", s)
}

// Context is the explicit state of one run. Components receive it on every
// call instead of reaching for package-level state.
type Context struct {
	System *particles.System
	Logger *log.Logger

	Seed uint64
	Dt   float64

	Phase      Phase
	PhaseSteps int64 // budget of the current phase
	Step       int64 // global step counter, never reset
	PhaseStep  int64
	Time       float64

	PotentialEnergy float64
	Virial          float64 // sum over pairs of r·f

	sources map[string]*rand.PCGSource
}

func NewContext(sys *particles.System, dt float64, seed uint64, logger *log.Logger) *Context {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Context{
		System:  sys,
		Logger:  logger,
		Seed:    seed,
		Dt:      dt,
		sources: make(map[string]*rand.PCGSource),
	}
}

// Source returns the random stream owned by the named component, creating it
// from the run seed on first use. Streams are independent of each other and
// of the order in which components ask for them.
func (c *Context) Source(name string) *rand.PCGSource {
	if src, ok := c.sources[name]; ok {
		return src
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	src := &rand.PCGSource{}
	src.Seed(c.Seed ^ h.Sum64())
	c.sources[name] = src
	return src
}

// EnterPhase moves the run to p with the given step budget.
func (c *Context) EnterPhase(p Phase, budget int64) error {
	if c.Phase.Terminal() {
		return fmt.Errorf("cannot enter %s: run already %s", p, c.Phase)
	}
	if p <= c.Phase {
		return fmt.Errorf("cannot enter %s from %s", p, c.Phase)
	}
	if budget < 0 {
		return &ConfigError{Field: p.String(), Reason: "negative step budget"}
	}
	c.Logger.Printf("phase %s -> %s (%d steps)", c.Phase, p, budget)
	c.Phase = p
	c.PhaseSteps = budget
	c.PhaseStep = 0
	return nil
}

// Stop moves the run into a terminal phase.
func (c *Context) Stop(p Phase) {
	if !p.Terminal() || c.Phase.Terminal() {
		return
	}
	c.Logger.Printf("phase %s -> %s at step %d", c.Phase, p, c.Step)
	c.Phase = p
}

// BeginStep advances the counters. Simulated time only advances in dynamic
// phases.
func (c *Context) BeginStep() {
	c.Step++
	c.PhaseStep++
	if c.Phase.Dynamic() {
		c.Time += c.Dt
	}
}

// PhaseProgress is the completed fraction of the current phase budget.
func (c *Context) PhaseProgress() float64 {
	if c.PhaseSteps <= 0 {
		return 1
	}
	return math.Min(1, float64(c.PhaseStep)/float64(c.PhaseSteps))
}

// Done reports whether the current phase budget is used up.
func (c *Context) Done() bool {
	return c.PhaseStep >= c.PhaseSteps
}
