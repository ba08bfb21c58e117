package compute

import "gonum.org/v1/gonum/spatial/r3"

// Partial is one worker's private accumulator. Force has one entry per
// particle so a kernel may write to any index without synchronisation.
type Partial struct {
	Force  []r3.Vec
	Energy float64
	Virial float64
}

// Kernel evaluates rows [start, end) and accumulates into p.
type Kernel func(start, end int, p *Partial)

// Tally is the reduced scalar output of a kernel run.
type Tally struct {
	Energy float64
	Virial float64
}

type Backend interface {
	Name() string
	Workers() int
	// Accumulate runs kernel over n rows and adds the merged forces into
	// forces. The result is deterministic for a fixed worker count.
	Accumulate(n int, forces []r3.Vec, kernel Kernel) Tally
}

// AutoSelectBackend returns a CPU backend using every available core, or a
// serial one when workers is 1.
func AutoSelectBackend(workers int) Backend {
	if workers == 1 {
		return NewSerialBackend()
	}
	return NewCPUBackend(workers)
}
