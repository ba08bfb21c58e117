package experiment

import (
	"context"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/solvmd/internal/config"
	"github.com/san-kum/solvmd/internal/sim"
)

// Ensemble runs independent replicas of one configuration that differ only
// in their seed. Replicas write no output files.
type Ensemble struct {
	base      *config.Config
	numRuns   int
	seedStart uint64
}

func NewEnsemble(cfg *config.Config, numRuns int, seedStart uint64) *Ensemble {
	return &Ensemble{base: cfg, numRuns: numRuns, seedStart: seedStart}
}

// Run executes every replica concurrently, each on a single worker.
func (e *Ensemble) Run(ctx context.Context) ([]*sim.Result, error) {
	results := make([]*sim.Result, e.numRuns)
	errs := make([]error, e.numRuns)

	var wg sync.WaitGroup
	for i := 0; i < e.numRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			cfg := e.base.Clone()
			cfg.Seed = e.seedStart + uint64(idx)
			cfg.Workers = 1
			cfg.Output.Trajectory = ""
			cfg.Output.Energy = ""
			cfg.Output.ThermoEvery = 0

			exp, err := New(cfg, Options{})
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = exp.Run(ctx)
		}(i)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// Summary is the across-replica mean and standard error of one metric.
type Summary struct {
	Name   string
	Mean   float64
	StdErr float64
	N      int
}

// Summarize aggregates every metric present in all results.
func Summarize(results []*sim.Result) []Summary {
	if len(results) == 0 {
		return nil
	}
	var names []string
	for name := range results[0].Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Summary, 0, len(names))
	for _, name := range names {
		xs := make([]float64, 0, len(results))
		for _, r := range results {
			if v, ok := r.Metrics[name]; ok && !math.IsNaN(v) {
				xs = append(xs, v)
			}
		}
		if len(xs) != len(results) {
			continue
		}
		s := Summary{Name: name, Mean: stat.Mean(xs, nil), N: len(xs), StdErr: math.NaN()}
		if len(xs) > 1 {
			s.StdErr = stat.StdErr(stat.StdDev(xs, nil), float64(len(xs)))
		}
		out = append(out, s)
	}
	return out
}
