package metrics

import "github.com/san-kum/solvmd/internal/dynamo"

// Tallier reports cumulative energy exchanged with a heat bath.
type Tallier interface {
	Tally() float64
}

// BathExchange is the mean energy per step the thermostat removes from the
// system, measured from the first observed step.
type BathExchange struct {
	name    string
	bath    Tallier
	start   float64
	current float64
	samples int
}

func NewBathExchange(bath Tallier) *BathExchange {
	return &BathExchange{
		name: "bath_exchange",
		bath: bath,
	}
}

func (b *BathExchange) Name() string {
	return b.name
}

func (b *BathExchange) Observe(ctx *dynamo.Context) {
	if b.samples == 0 {
		b.start = b.bath.Tally()
	}
	b.current = b.bath.Tally()
	b.samples++
}

func (b *BathExchange) Value() float64 {
	if b.samples < 2 {
		return 0
	}
	return (b.current - b.start) / float64(b.samples-1)
}

func (b *BathExchange) Reset() {
	b.start, b.current = 0, 0
	b.samples = 0
}
