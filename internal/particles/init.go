package particles

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Species describes one particle type to place. When Sites is non-empty the
// particles sit at those coordinates and Count must match; otherwise Count
// particles are placed uniformly at random.
type Species struct {
	Name  string
	Type  int
	Mass  float64
	Count int
	Sites []r3.Vec
}

// Initialize creates a system in box from species, in order. Random placement
// draws x, y, z for each particle from src in sequence, so a fixed seed always
// reproduces the same configuration. No overlap rejection is performed. Each
// named species is registered as a group.
func Initialize(box Box, species []Species, src rand.Source) (*System, error) {
	if box.L <= 0 || math.IsNaN(box.L) || math.IsInf(box.L, 0) {
		return nil, fmt.Errorf("box length must be positive and finite, got %g", box.L)
	}
	total := 0
	for _, sp := range species {
		if sp.Count < 0 {
			return nil, fmt.Errorf("species %q: negative count %d", sp.Name, sp.Count)
		}
		if sp.Mass <= 0 {
			return nil, fmt.Errorf("species %q: mass must be positive, got %g", sp.Name, sp.Mass)
		}
		if len(sp.Sites) > 0 && len(sp.Sites) != sp.Count {
			return nil, fmt.Errorf("species %q: %d sites for %d particles", sp.Name, len(sp.Sites), sp.Count)
		}
		total += sp.Count
	}

	sys := NewSystem(box, total)
	hi := box.Hi()
	ux := distuv.Uniform{Min: box.Lo.X, Max: hi.X, Src: src}
	uy := distuv.Uniform{Min: box.Lo.Y, Max: hi.Y, Src: src}
	uz := distuv.Uniform{Min: box.Lo.Z, Max: hi.Z, Src: src}

	for _, sp := range species {
		var idx []int
		for k := 0; k < sp.Count; k++ {
			var p r3.Vec
			if len(sp.Sites) > 0 {
				p = sp.Sites[k]
			} else {
				p = r3.Vec{X: ux.Rand(), Y: uy.Rand(), Z: uz.Rand()}
			}
			idx = append(idx, sys.Add(sp.Type, sp.Mass, p))
		}
		if sp.Name == "" {
			continue
		}
		g, err := NewGroup(sp.Name, total, idx)
		if err != nil {
			return nil, err
		}
		sys.Define(g)
	}
	return sys, nil
}

// AssignVelocities draws Gaussian velocities for every particle in g, removes
// the group's centre of mass motion and rescales to exactly temperature.
// Particles outside g are untouched.
func (s *System) AssignVelocities(g *Group, temperature float64, src rand.Source) error {
	if temperature < 0 || math.IsNaN(temperature) {
		return fmt.Errorf("temperature must be non-negative, got %g", temperature)
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for _, i := range g.Indices() {
		sd := math.Sqrt(temperature / s.Mass[i])
		s.Vel[i] = r3.Vec{X: sd * normal.Rand(), Y: sd * normal.Rand(), Z: sd * normal.Rand()}
	}

	if g.Len() > 1 {
		vcm := s.CenterOfMassVelocity(g)
		for _, i := range g.Indices() {
			s.Vel[i] = r3.Sub(s.Vel[i], vcm)
		}
	}

	current := s.Temperature(g)
	if current == 0 {
		return nil
	}
	scale := math.Sqrt(temperature / current)
	for _, i := range g.Indices() {
		s.Vel[i] = r3.Scale(scale, s.Vel[i])
	}
	return nil
}
