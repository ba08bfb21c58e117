// Package compute provides the reduction backends used by the pair-force
// kernel.
//
//   - Serial: one accumulator writing straight into the force array
//   - CPU: one private accumulator per worker, merged after the barrier
//
// # Usage
//
//	backend := compute.AutoSelectBackend(cfg.Workers)
//	tally := backend.Accumulate(sys.Len(), sys.Force, kernel)
//
// Results from the CPU backend are bit-for-bit reproducible for a given
// worker count, but differ from the serial sum in the last few bits.
package compute
