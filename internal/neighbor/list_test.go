package neighbor

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/particles"
)

func randomSystem(t testing.TB, l float64, n int, seed uint64) *particles.System {
	t.Helper()
	sys, err := particles.Initialize(particles.NewCubicBox(l), []particles.Species{
		{Name: "solvent", Type: 1, Mass: 1, Count: n},
	}, rand.NewSource(seed))
	if err != nil {
		t.Fatal(err)
	}
	return sys
}

type pair struct{ i, j int }

func brutePairs(sys *particles.System, rc float64) map[pair]bool {
	out := make(map[pair]bool)
	for i := 0; i < sys.Len(); i++ {
		for j := i + 1; j < sys.Len(); j++ {
			if sys.Box.Distance2(sys.Pos[i], sys.Pos[j]) < rc*rc {
				out[pair{i, j}] = true
			}
		}
	}
	return out
}

func TestBuildComplete(t *testing.T) {
	tests := []struct {
		name   string
		length float64
		n      int
		cutoff float64
		skin   float64
		bins   int
	}{
		{"two bins", 6.29, 126, 2.5, 0.3, 2},
		{"three bins", 9.0, 300, 2.5, 0.3, 3},
		{"many bins", 20.0, 800, 2.5, 0.3, 7},
		{"wca cutoff", 6.29, 126, 1.122462, 0.3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := randomSystem(t, tt.length, tt.n, 1234)
			l, err := Build(sys, tt.cutoff, tt.skin)
			if err != nil {
				t.Fatal(err)
			}
			if l.Bins()[0] != tt.bins {
				t.Errorf("expected %d bins, got %d", tt.bins, l.Bins()[0])
			}

			got := make(map[pair]bool)
			for i := 0; i < l.Len(); i++ {
				for _, j := range l.Of(i) {
					if int(j) <= i {
						t.Fatalf("pair (%d,%d) not in half-list order", i, j)
					}
					p := pair{i, int(j)}
					if got[p] {
						t.Fatalf("pair %v listed twice", p)
					}
					got[p] = true
				}
			}

			want := brutePairs(sys, tt.cutoff+tt.skin)
			if len(got) != len(want) {
				t.Errorf("expected %d pairs, got %d", len(want), len(got))
			}
			for p := range want {
				if !got[p] {
					t.Errorf("missing pair %v", p)
				}
			}
		})
	}
}

func TestBuildRejectsLargeCutoff(t *testing.T) {
	sys := randomSystem(t, 5, 10, 1)
	_, err := Build(sys, 2.5, 0.3)
	if !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestNeedsRebuild(t *testing.T) {
	sys := randomSystem(t, 10, 50, 3)
	l, err := Build(sys, 2.5, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if l.NeedsRebuild(sys) {
		t.Fatal("fresh list needs rebuild")
	}
	sys.Pos[7] = sys.Box.Wrap(r3.Add(sys.Pos[7], r3.Vec{X: 0.19}))
	if l.NeedsRebuild(sys) {
		t.Error("displacement below half skin triggered rebuild")
	}
	sys.Pos[7] = sys.Box.Wrap(r3.Add(sys.Pos[7], r3.Vec{X: 0.02}))
	if !l.NeedsRebuild(sys) {
		t.Error("displacement above half skin missed")
	}
}

func TestNeedsRebuildAcrossBoundary(t *testing.T) {
	sys := particles.NewSystem(particles.NewCubicBox(10), 2)
	sys.Add(1, 1, r3.Vec{X: 4.99})
	sys.Add(1, 1, r3.Vec{X: -2})
	l, err := Build(sys, 2.5, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	sys.Pos[0] = sys.Box.Wrap(r3.Vec{X: 5.05})
	if l.NeedsRebuild(sys) {
		t.Errorf("periodic wrap counted as displacement %g", l.MaxDisplacement(sys))
	}
}

func TestBuilderCadence(t *testing.T) {
	sys := randomSystem(t, 10, 50, 5)
	b := NewBuilder(2.5, 0.4, 2, 4, true)

	if _, rebuilt, err := b.Update(sys, 0, false); err != nil || !rebuilt {
		t.Fatalf("first update must build: %v", err)
	}
	sys.Pos[0] = sys.Box.Wrap(r3.Add(sys.Pos[0], r3.Vec{Y: 1}))

	for step := int64(1); step < 4; step++ {
		if _, rebuilt, _ := b.Update(sys, step, false); rebuilt {
			t.Errorf("rebuilt during delay at step %d", step)
		}
	}
	if _, rebuilt, _ := b.Update(sys, 5, false); rebuilt {
		t.Error("rebuilt off the every-2 schedule")
	}
	if _, rebuilt, _ := b.Update(sys, 6, false); !rebuilt {
		t.Error("missed scheduled rebuild")
	}
	if b.Builds != 2 || b.Dangerous != 0 {
		t.Errorf("expected 2 builds and none dangerous, got %d and %d", b.Builds, b.Dangerous)
	}

	// a rebuild on the first step past the delay may have come too late
	sys.Pos[1] = sys.Box.Wrap(r3.Add(sys.Pos[1], r3.Vec{Z: 0.3}))
	if _, rebuilt, _ := b.Update(sys, 10, false); !rebuilt {
		t.Error("missed rebuild at the end of the delay")
	}
	if b.Builds != 3 || b.Dangerous != 1 {
		t.Errorf("expected 3 builds and 1 dangerous, got %d and %d", b.Builds, b.Dangerous)
	}
	if math.Abs(b.MaxDisplacement-1) > 1e-9 {
		t.Errorf("max displacement %g, expected 1", b.MaxDisplacement)
	}

	if _, rebuilt, _ := b.Update(sys, 11, true); rebuilt {
		t.Error("strict update rebuilt without displacement")
	}
}

func BenchmarkBuild(b *testing.B) {
	sys := randomSystem(b, 20, 4000, 9)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(sys, 2.5, 0.3); err != nil {
			b.Fatal(err)
		}
	}
}
