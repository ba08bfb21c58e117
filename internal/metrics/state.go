package metrics

import "encoding/json"

type averageState struct {
	Sum     float64 `json:"sum"`
	SumSq   float64 `json:"sum_sq"`
	Last    float64 `json:"last"`
	Samples int     `json:"samples"`
}

func (a *Average) MarshalState() ([]byte, error) {
	return json.Marshal(averageState{Sum: a.sum, SumSq: a.sumSq, Last: a.last, Samples: a.samples})
}

func (a *Average) UnmarshalState(data []byte) error {
	var s averageState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.sum, a.sumSq, a.last, a.samples = s.Sum, s.SumSq, s.Last, s.Samples
	return nil
}

type blockState struct {
	Means   []float64 `json:"means"`
	Weights []float64 `json:"weights"`
	Sum     float64   `json:"sum"`
	Count   int       `json:"count"`
}

func (b *BlockAverage) MarshalState() ([]byte, error) {
	return json.Marshal(blockState{Means: b.means, Weights: b.weights, Sum: b.sum, Count: b.count})
}

func (b *BlockAverage) UnmarshalState(data []byte) error {
	var s blockState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b.means, b.weights, b.sum, b.count = s.Means, s.Weights, s.Sum, s.Count
	return nil
}

type driftState struct {
	Initial float64 `json:"initial"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

func (e *EnergyDrift) MarshalState() ([]byte, error) {
	return json.Marshal(driftState{Initial: e.initialEnergy, Max: e.maxDrift, Samples: e.samples})
}

func (e *EnergyDrift) UnmarshalState(data []byte) error {
	var s driftState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.initialEnergy, e.maxDrift, e.samples = s.Initial, s.Max, s.Samples
	return nil
}

type stabilityState struct {
	Violations int `json:"violations"`
	Samples    int `json:"samples"`
}

func (s *Stability) MarshalState() ([]byte, error) {
	return json.Marshal(stabilityState{Violations: s.violations, Samples: s.samples})
}

func (s *Stability) UnmarshalState(data []byte) error {
	var st stabilityState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.violations, s.samples = st.Violations, st.Samples
	return nil
}

type bathState struct {
	Start   float64 `json:"start"`
	Current float64 `json:"current"`
	Samples int     `json:"samples"`
}

func (b *BathExchange) MarshalState() ([]byte, error) {
	return json.Marshal(bathState{Start: b.start, Current: b.current, Samples: b.samples})
}

func (b *BathExchange) UnmarshalState(data []byte) error {
	var s bathState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b.start, b.current, b.samples = s.Start, s.Current, s.Samples
	return nil
}
