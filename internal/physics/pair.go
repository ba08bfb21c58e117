package physics

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// WCACutoff is the potential minimum 2^(1/6) in units of sigma.
var WCACutoff = math.Pow(2, 1.0/6.0)

type Style int

const (
	StyleLJ Style = iota
	StyleWCA
	StyleNull
)

func (s Style) String() string {
	switch s {
	case StyleLJ:
		return "lj"
	case StyleWCA:
		return "wca"
	case StyleNull:
		return "null"
	}
	return fmt.Sprintf("style(%d)", int(s))
}

func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(s) {
	case "", "lj", "lj/cut":
		return StyleLJ, nil
	case "wca":
		return StyleWCA, nil
	case "null", "none":
		return StyleNull, nil
	}
	return StyleLJ, fmt.Errorf("unknown pair style: %s", s)
}

// Coeff holds one type pair's parameters with the constants the kernel needs
// precomputed.
type Coeff struct {
	Epsilon float64
	Sigma   float64
	Cutoff  float64
	Style   Style

	cut2  float64
	lj1   float64 // 48 eps sigma^12
	lj2   float64 // 24 eps sigma^6
	lj3   float64 // 4 eps sigma^12
	lj4   float64 // 4 eps sigma^6
	shift float64
}

func newCoeff(eps, sigma, cutoff float64, style Style) *Coeff {
	c := &Coeff{Epsilon: eps, Sigma: sigma, Cutoff: cutoff, Style: style}
	if style == StyleWCA {
		c.Cutoff = WCACutoff * sigma
	}
	if style == StyleNull || eps == 0 {
		c.Style = StyleNull
		c.Epsilon = 0
		return c
	}
	s6 := math.Pow(sigma, 6)
	s12 := s6 * s6
	c.cut2 = c.Cutoff * c.Cutoff
	c.lj1 = 48 * eps * s12
	c.lj2 = 24 * eps * s6
	c.lj3 = 4 * eps * s12
	c.lj4 = 4 * eps * s6
	inv6 := 1 / (c.cut2 * c.cut2 * c.cut2)
	c.shift = inv6 * (c.lj3*inv6 - c.lj4)
	return c
}

func (c *Coeff) Null() bool { return c.Style == StyleNull }

// Energy is the shifted pair energy at squared distance r2, zero at and
// beyond the cutoff.
func (c *Coeff) Energy(r2 float64) float64 {
	if c.Null() || r2 >= c.cut2 {
		return 0
	}
	inv6 := 1 / (r2 * r2 * r2)
	return inv6*(c.lj3*inv6-c.lj4) - c.shift
}

// ForceOverR is |F|/r at squared distance r2, positive when repulsive. The
// force on i from j is ForceOverR * (ri - rj).
func (c *Coeff) ForceOverR(r2 float64) float64 {
	if c.Null() || r2 >= c.cut2 {
		return 0
	}
	inv2 := 1 / r2
	inv6 := inv2 * inv2 * inv2
	return inv6 * (c.lj1*inv6 - c.lj2) * inv2
}

// PairTable is a symmetric table of pair coefficients over types 1..N.
type PairTable struct {
	ntypes int
	coeffs []*Coeff
}

func NewPairTable(ntypes int) *PairTable {
	return &PairTable{ntypes: ntypes, coeffs: make([]*Coeff, (ntypes+1)*(ntypes+1))}
}

func (t *PairTable) NumTypes() int { return t.ntypes }

func (t *PairTable) idx(i, j int) int { return i*(t.ntypes+1) + j }

func (t *PairTable) inRange(i, j int) bool {
	return i >= 1 && j >= 1 && i <= t.ntypes && j <= t.ntypes
}

// Set defines the (i,j) and (j,i) entries. A zero cutoff is only allowed for
// wca and null pairs, whose cutoff is implied.
func (t *PairTable) Set(i, j int, eps, sigma, cutoff float64, style Style) error {
	field := fmt.Sprintf("pair_coeff %d %d", i, j)
	if !t.inRange(i, j) {
		return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("type out of range 1..%d", t.ntypes)}
	}
	if eps < 0 || math.IsNaN(eps) {
		return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("epsilon %g must be non-negative", eps)}
	}
	if style != StyleNull && eps > 0 {
		if sigma <= 0 || math.IsNaN(sigma) {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("sigma %g must be positive", sigma)}
		}
		if style == StyleLJ && (cutoff <= 0 || math.IsNaN(cutoff)) {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("cutoff %g must be positive", cutoff)}
		}
	}
	c := newCoeff(eps, sigma, cutoff, style)
	t.coeffs[t.idx(i, j)] = c
	t.coeffs[t.idx(j, i)] = c
	return nil
}

// Get returns the coefficients for the type pair, or nil if unset.
func (t *PairTable) Get(i, j int) *Coeff {
	if !t.inRange(i, j) {
		return nil
	}
	return t.coeffs[t.idx(i, j)]
}

// MixGeometric fills unset cross terms from the diagonal entries with
// epsilon_ij = sqrt(eps_i eps_j), sigma_ij = sqrt(sigma_i sigma_j) and the
// larger of the two cutoffs.
func (t *PairTable) MixGeometric() {
	for i := 1; i <= t.ntypes; i++ {
		for j := i + 1; j <= t.ntypes; j++ {
			if t.Get(i, j) != nil {
				continue
			}
			ci, cj := t.Get(i, i), t.Get(j, j)
			if ci == nil || cj == nil {
				continue
			}
			eps := math.Sqrt(ci.Epsilon * cj.Epsilon)
			sigma := math.Sqrt(ci.Sigma * cj.Sigma)
			cut := math.Max(ci.Cutoff, cj.Cutoff)
			style := StyleLJ
			if eps == 0 {
				style = StyleNull
			}
			c := newCoeff(eps, sigma, cut, style)
			t.coeffs[t.idx(i, j)] = c
			t.coeffs[t.idx(j, i)] = c
		}
	}
}

// Validate checks that every pair among types has coefficients.
func (t *PairTable) Validate(types []int) error {
	for a, i := range types {
		for _, j := range types[a:] {
			if !t.inRange(i, j) {
				return &dynamo.ConfigError{Field: "pair_coeff", Reason: fmt.Sprintf("type %d has no coefficients (table covers 1..%d)", max(i, j), t.ntypes)}
			}
			if t.Get(i, j) == nil {
				return &dynamo.ConfigError{Field: fmt.Sprintf("pair_coeff %d %d", i, j), Reason: "missing"}
			}
		}
	}
	return nil
}

// MaxCutoff is the largest cutoff over non-null pairs.
func (t *PairTable) MaxCutoff() float64 {
	m := 0.0
	for _, c := range t.coeffs {
		if c != nil && !c.Null() {
			m = math.Max(m, c.Cutoff)
		}
	}
	return m
}

// Energy is the pair energy between types i and j at distance r.
func (t *PairTable) Energy(i, j int, r float64) float64 {
	c := t.Get(i, j)
	if c == nil {
		return 0
	}
	return c.Energy(r * r)
}

// Force is -dE/dr between types i and j at distance r.
func (t *PairTable) Force(i, j int, r float64) float64 {
	c := t.Get(i, j)
	if c == nil {
		return 0
	}
	return c.ForceOverR(r*r) * r
}
