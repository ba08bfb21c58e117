package neighbor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

// List is a half neighbor list in compressed row form: the neighbors of i are
// Neighbors[Offsets[i]:Offsets[i+1]], all with index j > i.
type List struct {
	Cutoff float64
	Skin   float64

	Offsets   []int32
	Neighbors []int32

	bins [3]int
	ref  []r3.Vec
}

// Build bins particles into cells no smaller than cutoff+skin and collects
// every pair within that range from the 27 surrounding cells.
func Build(sys *particles.System, cutoff, skin float64) (*List, error) {
	if err := checkGeometry(sys.Box, cutoff, skin); err != nil {
		return nil, err
	}
	l := &List{Cutoff: cutoff, Skin: skin}
	l.build(sys)
	return l, nil
}

func checkGeometry(box particles.Box, cutoff, skin float64) error {
	if cutoff <= 0 || skin < 0 {
		return &dynamo.ConfigError{Field: "neighbor", Reason: fmt.Sprintf("cutoff %g must be positive and skin %g non-negative", cutoff, skin)}
	}
	if cutoff+skin > 0.5*box.L {
		return &dynamo.ConfigError{
			Field:  "neighbor",
			Reason: fmt.Sprintf("cutoff+skin %g exceeds half the box length %g", cutoff+skin, 0.5*box.L),
		}
	}
	return nil
}

func (l *List) build(sys *particles.System) {
	n := sys.Len()
	rl := l.Cutoff + l.Skin
	rl2 := rl * rl
	box := sys.Box

	nb := int(math.Floor(box.L / rl))
	if nb < 1 {
		nb = 1
	}
	l.bins = [3]int{nb, nb, nb}
	size := box.L / float64(nb)
	ncell := nb * nb * nb

	// counting sort of particles into cells
	cellOf := make([]int, n)
	count := make([]int, ncell+1)
	for i, p := range sys.Pos {
		c := cellIdx(binOf(p.X-box.Lo.X, size, nb), binOf(p.Y-box.Lo.Y, size, nb), binOf(p.Z-box.Lo.Z, size, nb), nb)
		cellOf[i] = c
		count[c+1]++
	}
	for c := 0; c < ncell; c++ {
		count[c+1] += count[c]
	}
	members := make([]int, n)
	fill := append([]int(nil), count[:ncell]...)
	for i, c := range cellOf {
		members[fill[c]] = i
		fill[c]++
	}

	stencils := make([][]int, ncell)
	for c := range stencils {
		stencils[c] = stencil(c, nb)
	}

	l.Offsets = make([]int32, n+1)
	l.Neighbors = l.Neighbors[:0]
	for i := 0; i < n; i++ {
		pi := sys.Pos[i]
		for _, c := range stencils[cellOf[i]] {
			for _, j := range members[count[c]:count[c+1]] {
				if j <= i {
					continue
				}
				if r3.Norm2(box.MinImage(r3.Sub(sys.Pos[j], pi))) < rl2 {
					l.Neighbors = append(l.Neighbors, int32(j))
				}
			}
		}
		l.Offsets[i+1] = int32(len(l.Neighbors))
	}

	if cap(l.ref) < n {
		l.ref = make([]r3.Vec, n)
	}
	l.ref = l.ref[:n]
	copy(l.ref, sys.Pos)
}

// Of returns the neighbors of particle i with index greater than i.
func (l *List) Of(i int) []int32 {
	return l.Neighbors[l.Offsets[i]:l.Offsets[i+1]]
}

func (l *List) Len() int     { return len(l.Offsets) - 1 }
func (l *List) Pairs() int   { return len(l.Neighbors) }
func (l *List) Bins() [3]int { return l.bins }

// MaxDisplacement is the largest minimum-image distance any particle has
// moved since the list was built.
func (l *List) MaxDisplacement(sys *particles.System) float64 {
	m2 := 0.0
	for i, p := range sys.Pos {
		d2 := r3.Norm2(sys.Box.MinImage(r3.Sub(p, l.ref[i])))
		m2 = math.Max(m2, d2)
	}
	return math.Sqrt(m2)
}

// NeedsRebuild reports whether some particle has moved more than half the
// skin, after which a pair may have crossed into the cutoff unseen.
func (l *List) NeedsRebuild(sys *particles.System) bool {
	if sys.Len() != len(l.ref) {
		return true
	}
	half2 := 0.25 * l.Skin * l.Skin
	for i, p := range sys.Pos {
		if r3.Norm2(sys.Box.MinImage(r3.Sub(p, l.ref[i]))) > half2 {
			return true
		}
	}
	return false
}

func binOf(x, size float64, nb int) int {
	b := int(x / size)
	if b < 0 {
		return 0
	}
	if b >= nb {
		return nb - 1
	}
	return b
}

func cellIdx(x, y, z, nb int) int {
	return x + y*nb + z*nb*nb
}

// stencil lists the distinct cells adjacent to c, including c, with periodic
// wrap. With fewer than three bins on an axis several offsets land on the same
// cell and are kept once.
func stencil(c, nb int) []int {
	cx, cy, cz := c%nb, (c/nb)%nb, c/(nb*nb)
	seen := make(map[int]struct{}, 27)
	out := make([]int, 0, 27)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				k := cellIdx(pMod(cx+dx, nb), pMod(cy+dy, nb), pMod(cz+dz, nb), nb)
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out
}

func pMod(x, y int) int {
	x = x % y
	if x < 0 {
		x += y
	}
	return x
}
