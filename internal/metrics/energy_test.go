package metrics

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

func testContext(t *testing.T) *dynamo.Context {
	t.Helper()
	sys, err := particles.Initialize(particles.NewCubicBox(4), []particles.Species{
		{Name: "gas", Type: 1, Mass: 2, Count: 10},
	}, rand.NewSource(1))
	if err != nil {
		t.Fatal(err)
	}
	return dynamo.NewContext(sys, 0.002, 1, nil)
}

func TestObservables(t *testing.T) {
	ctx := testContext(t)
	sys := ctx.System
	for i := range sys.Vel {
		sys.Vel[i] = r3.Vec{X: 1}
	}
	ctx.PotentialEnergy = -3
	ctx.Virial = 12

	g := sys.All()
	if ke := KineticEnergy(g)(ctx); ke != 10 {
		t.Errorf("kinetic energy %g, expected 10", ke)
	}
	if temp := Temperature(g)(ctx); math.Abs(temp-20.0/27.0) > 1e-12 {
		t.Errorf("temperature %g", temp)
	}
	if e := TotalEnergy()(ctx); e != 7 {
		t.Errorf("total energy %g, expected 7", e)
	}
	if p := Pressure()(ctx); math.Abs(p-(20.0+12.0)/(3*64)) > 1e-12 {
		t.Errorf("pressure %g", p)
	}
	if v := COMSpeed(g)(ctx); math.Abs(v-1) > 1e-12 {
		t.Errorf("com speed %g", v)
	}
}

func TestAverage(t *testing.T) {
	ctx := testContext(t)
	a := NewAverage("pe", PotentialEnergy())
	for _, pe := range []float64{1, 2, 3, 4} {
		ctx.PotentialEnergy = pe
		a.Observe(ctx)
	}
	if a.Value() != 2.5 || a.Last() != 4 || a.Samples() != 4 {
		t.Errorf("mean %g last %g samples %d", a.Value(), a.Last(), a.Samples())
	}
	if sd := a.StdDev(); math.Abs(sd-math.Sqrt(5.0/3.0)) > 1e-12 {
		t.Errorf("stddev %g", sd)
	}
	a.Reset()
	if a.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestEnergyDrift(t *testing.T) {
	ctx := testContext(t)
	d := NewEnergyDrift()
	for _, pe := range []float64{-10, -10.5, -9.8} {
		ctx.PotentialEnergy = pe
		d.Observe(ctx)
	}
	if math.Abs(d.Value()-0.05) > 1e-12 {
		t.Errorf("drift %g, expected 0.05", d.Value())
	}
	d.Reset()
	if d.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestBlockAverage(t *testing.T) {
	b := NewBlockAverage("x", nil, 4)
	for i := 0; i < 10; i++ {
		b.Add(float64(i))
	}
	if b.Blocks() != 2 {
		t.Fatalf("expected 2 complete blocks, got %d", b.Blocks())
	}
	if math.Abs(b.Value()-4.5) > 1e-12 {
		t.Errorf("mean %g, expected 4.5", b.Value())
	}
	// block means 1.5 and 5.5
	if se := b.StdErr(); math.Abs(se-2) > 1e-12 {
		t.Errorf("stderr %g, expected 2", se)
	}
	b.Reset()
	if !math.IsNaN(b.StdErr()) || b.Value() != 0 {
		t.Error("reset did not clear blocks")
	}
}

func TestStability(t *testing.T) {
	ctx := testContext(t)
	s := NewStability(100)
	s.Observe(ctx)
	ctx.System.Force[3] = r3.Vec{Z: 1e3}
	s.Observe(ctx)
	if s.Value() != 0.5 {
		t.Errorf("stability %g, expected 0.5", s.Value())
	}
}

type fakeBath struct{ tally float64 }

func (f *fakeBath) Tally() float64 { return f.tally }

func TestBathExchange(t *testing.T) {
	ctx := testContext(t)
	bath := &fakeBath{tally: 5}
	m := NewBathExchange(bath)
	for i := 0; i < 5; i++ {
		m.Observe(ctx)
		bath.tally += 0.25
	}
	if math.Abs(m.Value()-0.25) > 1e-12 {
		t.Errorf("exchange per step %g, expected 0.25", m.Value())
	}
}
