// Package analysis characterizes time series sampled from a run.
//
// Successive thermo rows of an MD trajectory are correlated, so their naive
// standard error is too small. The package estimates how correlated they are:
//
//   - [Autocorrelation]: normalized autocorrelation function via FFT
//   - [IntegratedTime]: integrated autocorrelation time with a self-consistent window
//   - [PowerSpectrum]: power of each frequency of the mean-removed series
//   - [Analyze]: mean, spread and error bar corrected for correlation
//
// # Error Bars
//
//	s := analysis.Analyze(temps)
//	fmt.Printf("T = %.4f +/- %.4f (%.0f independent samples)\n", s.Mean, s.StdErr, s.NEff)
package analysis
