package compute

import (
	"runtime"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// minRows is the smallest chunk handed to a worker; below it the kernel runs
// serially.
const minRows = 16

type SerialBackend struct{}

func NewSerialBackend() *SerialBackend { return &SerialBackend{} }

func (s *SerialBackend) Name() string { return "serial" }
func (s *SerialBackend) Workers() int { return 1 }

func (s *SerialBackend) Accumulate(n int, forces []r3.Vec, kernel Kernel) Tally {
	p := Partial{Force: forces}
	kernel(0, n, &p)
	return Tally{Energy: p.Energy, Virial: p.Virial}
}

type CPUBackend struct {
	workers  int
	partials []Partial
}

// NewCPUBackend uses runtime.NumCPU workers when workers is not positive.
func NewCPUBackend(workers int) *CPUBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPUBackend{workers: workers}
}

func (c *CPUBackend) Name() string { return "cpu" }
func (c *CPUBackend) Workers() int { return c.workers }

func (c *CPUBackend) Accumulate(n int, forces []r3.Vec, kernel Kernel) Tally {
	if n < 2*minRows || c.workers <= 1 {
		return NewSerialBackend().Accumulate(n, forces, kernel)
	}

	c.ensurePartials(len(forces))
	for w := range c.partials {
		p := &c.partials[w]
		clear(p.Force)
		p.Energy, p.Virial = 0, 0
	}

	dynamo.ParallelFor(n, minRows, c.workers, func(worker, start, end int) {
		kernel(start, end, &c.partials[worker])
	})

	// merge in worker order so the floating point sum is reproducible
	var t Tally
	for w := range c.partials {
		p := &c.partials[w]
		for i := range forces {
			forces[i] = r3.Add(forces[i], p.Force[i])
		}
		t.Energy += p.Energy
		t.Virial += p.Virial
	}
	return t
}

func (c *CPUBackend) ensurePartials(n int) {
	if len(c.partials) == c.workers && len(c.partials[0].Force) == n {
		return
	}
	c.partials = make([]Partial, c.workers)
	for w := range c.partials {
		c.partials[w].Force = make([]r3.Vec, n)
	}
}
