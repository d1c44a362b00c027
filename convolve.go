package knnemd

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// maxSupport bounds the length of a count distribution. A feature whose
// largest neighborhood sum exceeds it is rejected rather than allocating
// an unbounded histogram.
const maxSupport = 1 << 24

// directConvolutionLimit is the multiply-add budget above which repeated
// direct convolution is replaced by a single FFT.
const directConvolutionLimit = 1 << 22

// countPMF returns the empirical probability mass function of integral,
// non-negative values over the support 0..max(values).
func countPMF(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("knnemd: empty count vector")
	}
	top := 0
	for _, v := range values {
		if v < 0 || v >= maxSupport {
			return nil, fmt.Errorf("knnemd: count %g outside [0, %d)", v, maxSupport)
		}
		top = max(top, int(v))
	}
	pmf := make([]float64, top+1)
	for _, v := range values {
		pmf[int(v)]++
	}
	floats.Scale(1/float64(len(values)), pmf)
	return pmf, nil
}

// convolvePower returns the distribution of the sum of times independent
// draws from pmf: its times-fold self-convolution, over the support
// 0..(len(pmf)-1)*times.
func convolvePower(pmf []float64, times int) []float64 {
	if times <= 1 || len(pmf) == 1 {
		out := make([]float64, (len(pmf)-1)*max(times, 1)+1)
		if len(pmf) == 1 {
			out[0] = 1
		} else {
			copy(out, pmf)
		}
		return out
	}
	outLen := (len(pmf)-1)*times + 1
	// Repeated direct convolution costs about len(pmf)·outLen·times/2.
	if work := float64(len(pmf)) * float64(outLen) / 2 * float64(times); work <= directConvolutionLimit {
		return convolvePowerDirect(pmf, times)
	}
	return convolvePowerFFT(pmf, times, outLen)
}

func convolvePowerDirect(pmf []float64, times int) []float64 {
	acc := append([]float64(nil), pmf...)
	for k := 1; k < times; k++ {
		acc = convolve(acc, pmf)
	}
	return acc
}

// convolve returns the full linear convolution of a and b.
func convolve(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, av := range a {
		if av == 0 {
			continue
		}
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}

// convolvePowerFFT raises the spectrum of pmf to the given power. The
// transform length is at least outLen so the circular convolution does not
// wrap. Round-off negatives are clamped and the mass renormalized to 1.
func convolvePowerFFT(pmf []float64, times, outLen int) []float64 {
	n := 1
	for n < outLen {
		n <<= 1
	}
	seq := make([]float64, n)
	copy(seq, pmf)

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, seq)
	for i, c := range coeff {
		coeff[i] = complexPow(c, times)
	}
	fft.Sequence(seq, coeff)

	out := seq[:outLen]
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}

// complexPow computes c^k for k >= 1 by repeated squaring.
func complexPow(c complex128, k int) complex128 {
	res := complex(1, 0)
	for k > 0 {
		if k&1 == 1 {
			res *= c
		}
		c *= c
		k >>= 1
	}
	return res
}
