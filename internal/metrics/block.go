package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// BlockAverage groups consecutive samples into fixed-size blocks and uses the
// spread of block means to estimate the statistical error of the mean of a
// correlated series.
type BlockAverage struct {
	name      string
	obs       Observable
	blockSize int

	means   []float64
	weights []float64
	sum     float64
	count   int
}

func NewBlockAverage(name string, obs Observable, blockSize int) *BlockAverage {
	if blockSize < 1 {
		blockSize = 1
	}
	return &BlockAverage{name: name, obs: obs, blockSize: blockSize}
}

func (b *BlockAverage) Name() string { return b.name }

func (b *BlockAverage) Observe(ctx *dynamo.Context) {
	b.Add(b.obs(ctx))
}

// Add records one sample directly.
func (b *BlockAverage) Add(v float64) {
	b.sum += v
	b.count++
	if b.count == b.blockSize {
		b.means = append(b.means, b.sum/float64(b.count))
		b.weights = append(b.weights, float64(b.count))
		b.sum, b.count = 0, 0
	}
}

// Value is the mean over all samples, including a partial last block.
func (b *BlockAverage) Value() float64 {
	means, weights := b.blocks()
	if len(means) == 0 {
		return 0
	}
	return stat.Mean(means, weights)
}

// StdErr estimates the standard error of Value from complete blocks. It is
// NaN with fewer than two blocks.
func (b *BlockAverage) StdErr() float64 {
	if len(b.means) < 2 {
		return math.NaN()
	}
	return stat.StdErr(stat.StdDev(b.means, nil), float64(len(b.means)))
}

func (b *BlockAverage) Blocks() int { return len(b.means) }

func (b *BlockAverage) Reset() {
	b.means = b.means[:0]
	b.weights = b.weights[:0]
	b.sum, b.count = 0, 0
}

func (b *BlockAverage) blocks() ([]float64, []float64) {
	if b.count == 0 {
		return b.means, b.weights
	}
	means := append(append([]float64(nil), b.means...), b.sum/float64(b.count))
	weights := append(append([]float64(nil), b.weights...), float64(b.count))
	return means, weights
}
