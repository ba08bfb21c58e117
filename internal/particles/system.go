package particles

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// System holds per-particle state as parallel arrays indexed by position in
// the arrays, not by ID.
type System struct {
	Box   Box
	ID    []int
	Type  []int
	Mass  []float64
	Pos   []r3.Vec
	Vel   []r3.Vec
	Force []r3.Vec

	groups map[string]*Group
}

func NewSystem(box Box, capacity int) *System {
	return &System{
		Box:    box,
		ID:     make([]int, 0, capacity),
		Type:   make([]int, 0, capacity),
		Mass:   make([]float64, 0, capacity),
		Pos:    make([]r3.Vec, 0, capacity),
		Vel:    make([]r3.Vec, 0, capacity),
		Force:  make([]r3.Vec, 0, capacity),
		groups: make(map[string]*Group),
	}
}

func (s *System) Len() int { return len(s.ID) }

// Add appends a particle at the wrapped position p and returns its index.
// IDs are assigned sequentially starting at 1.
func (s *System) Add(typ int, mass float64, p r3.Vec) int {
	i := len(s.ID)
	s.ID = append(s.ID, i+1)
	s.Type = append(s.Type, typ)
	s.Mass = append(s.Mass, mass)
	s.Pos = append(s.Pos, s.Box.Wrap(p))
	s.Vel = append(s.Vel, r3.Vec{})
	s.Force = append(s.Force, r3.Vec{})
	return i
}

func (s *System) ZeroForces() {
	clear(s.Force)
}

// Types returns the distinct particle types present, ascending.
func (s *System) Types() []int {
	types := slices.Clone(s.Type)
	slices.Sort(types)
	return slices.Compact(types)
}

// ByType selects every particle whose type is in types.
func (s *System) ByType(name string, types ...int) (*Group, error) {
	var idx []int
	for i, t := range s.Type {
		if slices.Contains(types, t) {
			idx = append(idx, i)
		}
	}
	return NewGroup(name, s.Len(), idx)
}

func (s *System) All() *Group {
	if g, ok := s.groups["all"]; ok && g.Len() == s.Len() {
		return g
	}
	idx := make([]int, s.Len())
	for i := range idx {
		idx[i] = i
	}
	g, _ := NewGroup("all", s.Len(), idx)
	s.groups["all"] = g
	return g
}

// Define registers g under its name, replacing any previous definition.
func (s *System) Define(g *Group) {
	s.groups[g.Name()] = g
}

// Group looks up a named group. "all" is always defined.
func (s *System) Group(name string) (*Group, error) {
	if name == "all" {
		return s.All(), nil
	}
	g, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown group: %s", name)
	}
	return g, nil
}

func (s *System) GroupNames() []string {
	names := make([]string, 0, len(s.groups))
	for n := range s.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SortedByID returns particle indices ordered by ascending ID.
func (s *System) SortedByID() []int {
	order := make([]int, s.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.ID[order[a]] < s.ID[order[b]] })
	return order
}

func (s *System) KineticEnergy(g *Group) float64 {
	ke := 0.0
	for _, i := range g.Indices() {
		ke += 0.5 * s.Mass[i] * r3.Norm2(s.Vel[i])
	}
	return ke
}

// Temperature is the kinetic temperature of g in units where kB = 1.
func (s *System) Temperature(g *Group) float64 {
	dof := g.DegreesOfFreedom()
	if dof == 0 {
		return 0
	}
	return 2 * s.KineticEnergy(g) / float64(dof)
}

func (s *System) Momentum(g *Group) r3.Vec {
	var p r3.Vec
	for _, i := range g.Indices() {
		p = r3.Add(p, r3.Scale(s.Mass[i], s.Vel[i]))
	}
	return p
}

func (s *System) TotalMass(g *Group) float64 {
	m := 0.0
	for _, i := range g.Indices() {
		m += s.Mass[i]
	}
	return m
}

// CenterOfMassVelocity is the mass-weighted mean velocity of g.
func (s *System) CenterOfMassVelocity(g *Group) r3.Vec {
	m := s.TotalMass(g)
	if m == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/m, s.Momentum(g))
}

// Clone returns a deep copy including group definitions.
func (s *System) Clone() *System {
	c := &System{
		Box:    s.Box,
		ID:     slices.Clone(s.ID),
		Type:   slices.Clone(s.Type),
		Mass:   slices.Clone(s.Mass),
		Pos:    slices.Clone(s.Pos),
		Vel:    slices.Clone(s.Vel),
		Force:  slices.Clone(s.Force),
		groups: make(map[string]*Group, len(s.groups)),
	}
	for k, g := range s.groups {
		c.groups[k] = g
	}
	return c
}
