package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/compute"
	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/neighbor"
)

// LennardJones evaluates shifted 12-6 pair forces over a neighbor list.
type LennardJones struct {
	table    *PairTable
	builder  *neighbor.Builder
	backend  compute.Backend
	minDist2 float64
}

// NewLennardJones builds the force field. When minDistance is positive pair
// distances are floored at it, which keeps overlapping random starts finite.
func NewLennardJones(table *PairTable, builder *neighbor.Builder, backend compute.Backend, minDistance float64) (*LennardJones, error) {
	if table == nil || builder == nil {
		return nil, fmt.Errorf("lennard-jones: table and neighbor builder are required")
	}
	if builder.Cutoff < table.MaxCutoff() {
		return nil, &dynamo.ConfigError{
			Field:  "neighbor",
			Reason: fmt.Sprintf("list cutoff %g below largest pair cutoff %g", builder.Cutoff, table.MaxCutoff()),
		}
	}
	if minDistance < 0 {
		return nil, &dynamo.ConfigError{Field: "min_distance", Reason: "must be non-negative"}
	}
	if backend == nil {
		backend = compute.NewSerialBackend()
	}
	return &LennardJones{table: table, builder: builder, backend: backend, minDist2: minDistance * minDistance}, nil
}

func (lj *LennardJones) Name() string                 { return "pair/lj" }
func (lj *LennardJones) Kind() dynamo.FixKind         { return dynamo.KindForceField }
func (lj *LennardJones) Cutoff() float64              { return lj.table.MaxCutoff() }
func (lj *LennardJones) Table() *PairTable            { return lj.table }
func (lj *LennardJones) Neighbors() *neighbor.Builder { return lj.builder }

// Compute refreshes the neighbor list if needed and adds pair forces to
// System.Force. During minimization the list is checked on every call.
func (lj *LennardJones) Compute(ctx *dynamo.Context) (float64, float64, error) {
	sys := ctx.System
	list, rebuilt, err := lj.builder.Update(sys, ctx.Step, ctx.Phase == dynamo.Minimizing)
	if err != nil {
		return 0, 0, err
	}
	if rebuilt && lj.builder.Builds%1000 == 0 {
		ctx.Logger.Printf("neighbor: %d builds, %d dangerous, %d pairs", lj.builder.Builds, lj.builder.Dangerous, list.Pairs())
	}

	box := sys.Box
	pos := sys.Pos
	types := sys.Type
	minD2 := lj.minDist2

	t := lj.backend.Accumulate(sys.Len(), sys.Force, func(start, end int, p *compute.Partial) {
		for i := start; i < end; i++ {
			ti := types[i]
			fi := r3.Vec{}
			for _, jj := range list.Of(i) {
				j := int(jj)
				c := lj.table.Get(ti, types[j])
				if c == nil || c.Null() {
					continue
				}
				d := box.MinImage(r3.Sub(pos[i], pos[j]))
				r2 := r3.Norm2(d)
				if r2 >= c.cut2 {
					continue
				}
				scale := 0.0
				if r2 < minD2 {
					if r2 > 0 {
						scale = c.ForceOverR(minD2) * math.Sqrt(minD2/r2)
					}
					p.Energy += c.Energy(minD2)
				} else {
					scale = c.ForceOverR(r2)
					p.Energy += c.Energy(r2)
				}
				f := r3.Scale(scale, d)
				fi = r3.Add(fi, f)
				p.Force[j] = r3.Sub(p.Force[j], f)
				p.Virial += scale * r2
			}
			p.Force[i] = r3.Add(p.Force[i], fi)
		}
	})
	return t.Energy, t.Virial, nil
}
