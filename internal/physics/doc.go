// Package physics implements the pair interactions of the Lennard-Jones
// solute/solvent model.
//
// # Potential
//
// Every type pair uses the 12-6 potential truncated and shifted at its own
// cutoff rc so the energy is exactly zero there:
//
//	E(r) = 4ε[(σ/r)^12 - (σ/r)^6] - E(rc),  r < rc
//
// Three styles are supported:
//
//   - lj: attractive and repulsive, explicit cutoff
//   - wca: cutoff fixed at 2^(1/6)σ, purely repulsive
//   - null: ε = 0, no force; the pair is still listed so coefficients are
//     complete
//
// # Units
//
// Reduced Lennard-Jones units: lengths in σ, energies in ε, kB = 1.
package physics
