package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// continuing an accumulator from its saved state must give the same value as
// never having stopped
func TestStateContinuesAccumulation(t *testing.T) {
	ctx := testContext(t)
	bath := &fakeBath{}
	fresh := func() []dynamo.Metric {
		return []dynamo.Metric{
			NewAverage("pe", PotentialEnergy()),
			NewBlockAverage("pe_block", PotentialEnergy(), 3),
			NewEnergyDrift(),
			NewStability(0.5),
			NewBathExchange(bath),
		}
	}
	observe := func(ms []dynamo.Metric, from, to int) {
		for i := from; i < to; i++ {
			ctx.PotentialEnergy = -10 + math.Sin(float64(i))
			bath.tally = 0.1 * float64(i)
			ctx.System.Force[0].X = float64(i % 3)
			for _, m := range ms {
				m.Observe(ctx)
			}
		}
	}

	whole := fresh()
	observe(whole, 0, 20)

	first, second := fresh(), fresh()
	observe(first, 0, 8)
	for k, m := range first {
		data, err := m.(dynamo.Stateful).MarshalState()
		if err != nil {
			t.Fatal(err)
		}
		if err := second[k].(dynamo.Stateful).UnmarshalState(data); err != nil {
			t.Fatal(err)
		}
	}
	observe(second, 8, 20)

	for k := range whole {
		if got, want := second[k].Value(), whole[k].Value(); math.Abs(got-want) > 1e-12 {
			t.Errorf("%s: %g after restore, %g uninterrupted", whole[k].Name(), got, want)
		}
	}
	if got, want := second[1].(*BlockAverage).StdErr(), whole[1].(*BlockAverage).StdErr(); math.Abs(got-want) > 1e-12 {
		t.Errorf("block stderr %g after restore, %g uninterrupted", got, want)
	}
}
