package particles

import (
	"fmt"
	"slices"
)

// Group is a named, immutable set of particle indices.
type Group struct {
	name    string
	indices []int
	member  []bool
}

// NewGroup builds a group over a system of n particles. Indices are sorted and
// de-duplicated.
func NewGroup(name string, n int, indices []int) (*Group, error) {
	idx := slices.Clone(indices)
	slices.Sort(idx)
	idx = slices.Compact(idx)
	member := make([]bool, n)
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("group %q: index %d out of range [0,%d)", name, i, n)
		}
		member[i] = true
	}
	return &Group{name: name, indices: idx, member: member}, nil
}

func (g *Group) Name() string { return g.name }
func (g *Group) Len() int     { return len(g.indices) }

// Indices returns the member indices in ascending order. The slice must not be
// modified.
func (g *Group) Indices() []int { return g.indices }

func (g *Group) Contains(i int) bool {
	return i >= 0 && i < len(g.member) && g.member[i]
}

// DegreesOfFreedom counts translational degrees of freedom with the centre of
// mass motion removed.
func (g *Group) DegreesOfFreedom() int {
	dof := 3*len(g.indices) - 3
	if dof < 0 {
		return 0
	}
	return dof
}
