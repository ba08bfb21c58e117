package particles

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box is a periodic cube with bounds [Lo, Lo+L) on every axis.
type Box struct {
	Lo r3.Vec
	L  float64
}

// NewCubicBox returns a box of side length centered on the origin.
func NewCubicBox(length float64) Box {
	h := -0.5 * length
	return Box{Lo: r3.Vec{X: h, Y: h, Z: h}, L: length}
}

func (b Box) Hi() r3.Vec {
	return r3.Vec{X: b.Lo.X + b.L, Y: b.Lo.Y + b.L, Z: b.Lo.Z + b.L}
}

func (b Box) Volume() float64 { return b.L * b.L * b.L }

func (b Box) Contains(p r3.Vec) bool {
	return inRange(p.X, b.Lo.X, b.L) && inRange(p.Y, b.Lo.Y, b.L) && inRange(p.Z, b.Lo.Z, b.L)
}

// Wrap maps p into the canonical image. Coordinates already inside the box
// are returned unchanged, so Wrap(Wrap(p)) == Wrap(p) bit for bit.
func (b Box) Wrap(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: wrapCoord(p.X, b.Lo.X, b.L),
		Y: wrapCoord(p.Y, b.Lo.Y, b.L),
		Z: wrapCoord(p.Z, b.Lo.Z, b.L),
	}
}

// MinImage returns the shortest periodic image of displacement d.
func (b Box) MinImage(d r3.Vec) r3.Vec {
	return r3.Vec{
		X: d.X - b.L*math.Round(d.X/b.L),
		Y: d.Y - b.L*math.Round(d.Y/b.L),
		Z: d.Z - b.L*math.Round(d.Z/b.L),
	}
}

// Distance2 is the squared minimum-image distance between a and b.
func (b Box) Distance2(a, c r3.Vec) float64 {
	return r3.Norm2(b.MinImage(r3.Sub(a, c)))
}

func inRange(x, lo, l float64) bool {
	return x >= lo && x < lo+l
}

func wrapCoord(x, lo, l float64) float64 {
	if inRange(x, lo, l) {
		return x
	}
	w := lo + math.Mod(x-lo, l)
	if w < lo {
		w += l
	}
	if w >= lo+l {
		// x-lo was a tiny negative number and w+l rounded up to the upper bound
		w = lo
	}
	return w
}
