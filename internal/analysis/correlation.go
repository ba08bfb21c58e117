package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// windowFactor is the Sokal window constant: summation stops at the first
// lag W with W >= windowFactor*tau(W).
const windowFactor = 5

// Autocorrelation returns rho(k) for lags 0..maxLag of the mean-removed series.
// The series is zero padded to avoid wraparound. A constant series has
// rho(0) = 1 and zero elsewhere.
func Autocorrelation(xs []float64, maxLag int) []float64 {
	n := len(xs)
	if n == 0 {
		return nil
	}
	if maxLag < 0 || maxLag > n-1 {
		maxLag = n - 1
	}

	m := 1
	for m < 2*n {
		m <<= 1
	}
	mean := stat.Mean(xs, nil)
	seq := make([]float64, m)
	for i, x := range xs {
		seq[i] = x - mean
	}

	fft := fourier.NewFFT(m)
	coeff := fft.Coefficients(nil, seq)
	for i, c := range coeff {
		a := cmplx.Abs(c)
		coeff[i] = complex(a*a, 0)
	}
	acov := fft.Sequence(nil, coeff)

	rho := make([]float64, maxLag+1)
	rho[0] = 1
	if acov[0] <= 0 {
		return rho
	}
	for k := 1; k <= maxLag; k++ {
		rho[k] = acov[k] / acov[0]
	}
	return rho
}

// IntegratedTime returns tau = 1 + 2*sum(rho(k)) in units of the sampling
// interval. It is at least 1.
func IntegratedTime(xs []float64) float64 {
	rho := Autocorrelation(xs, len(xs)/2)
	tau := 1.0
	for w := 1; w < len(rho); w++ {
		tau += 2 * rho[w]
		if float64(w) >= windowFactor*tau {
			break
		}
	}
	return math.Max(tau, 1)
}

// PowerSpectrum returns |X(f)|^2 for the n/2+1 non-negative frequencies of
// the mean-removed series.
func PowerSpectrum(xs []float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	mean := stat.Mean(xs, nil)
	seq := make([]float64, len(xs))
	for i, x := range xs {
		seq[i] = x - mean
	}
	coeff := fourier.NewFFT(len(seq)).Coefficients(nil, seq)
	ps := make([]float64, len(coeff))
	for i, c := range coeff {
		a := cmplx.Abs(c)
		ps[i] = a * a
	}
	return ps
}

// SeriesStats summarizes a correlated series.
type SeriesStats struct {
	N      int
	Mean   float64
	StdDev float64
	Tau    float64 // integrated autocorrelation time, in samples
	NEff   float64 // N / Tau
	StdErr float64 // of the mean, corrected for correlation
}

func Analyze(xs []float64) SeriesStats {
	s := SeriesStats{N: len(xs), Tau: 1}
	if len(xs) == 0 {
		s.Mean, s.StdDev, s.StdErr = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Mean = stat.Mean(xs, nil)
	s.NEff = float64(len(xs))
	if len(xs) < 2 {
		s.StdDev, s.StdErr = math.NaN(), math.NaN()
		return s
	}
	s.StdDev = stat.StdDev(xs, nil)
	s.Tau = IntegratedTime(xs)
	s.NEff = float64(len(xs)) / s.Tau
	s.StdErr = s.StdDev * math.Sqrt(s.Tau/float64(len(xs)))
	return s
}
