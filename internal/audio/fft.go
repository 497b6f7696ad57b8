package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// maxRadix is the largest prime factor a length may have to go through
// gonum's mixed-radix FFT. FFTPACK's generic pass is quadratic in the
// factor, so other lengths use Bluestein's algorithm instead.
const maxRadix = 7

// realFFT is an unnormalized real-input DFT of a fixed length n, matching
// the conventions of fourier.FFT: coefficients returns n/2+1 bins and
// sequence followed by coefficients scales by n.
type realFFT interface {
	coefficients(seq []float64) []complex128
	sequence(coeff []complex128) []float64
}

func newRealFFT(n int) realFFT {
	if largestPrimeFactor(n) <= maxRadix {
		return mixedRadix{fourier.NewFFT(n)}
	}
	return newBluestein(n)
}

func largestPrimeFactor(n int) int {
	if n < 2 {
		return n
	}
	largest := 1
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			largest = p
			n /= p
		}
	}
	if n > 1 {
		largest = n
	}
	return largest
}

type mixedRadix struct {
	fft *fourier.FFT
}

func (m mixedRadix) coefficients(seq []float64) []complex128 {
	return m.fft.Coefficients(nil, seq)
}

func (m mixedRadix) sequence(coeff []complex128) []float64 {
	return m.fft.Sequence(nil, coeff)
}

// bluestein computes a DFT of any length n as a circular convolution of
// power-of-two length, which gonum transforms in O(n log n).
type bluestein struct {
	n      int
	fft    *fourier.CmplxFFT
	chirp  []complex128 // exp(-iπk²/n)
	kernel []complex128 // transform of the wrapped conjugate chirp
}

func newBluestein(n int) *bluestein {
	l := 1
	for l < 2*n-1 {
		l <<= 1
	}

	chirp := make([]complex128, n)
	for k := range chirp {
		// k² mod 2n keeps the phase small for long inputs.
		r := int64(k) * int64(k) % int64(2*n)
		chirp[k] = cmplx.Rect(1, -math.Pi*float64(r)/float64(n))
	}

	b := make([]complex128, l)
	b[0] = 1
	for k := 1; k < n; k++ {
		c := cmplx.Conj(chirp[k])
		b[k], b[l-k] = c, c
	}

	fft := fourier.NewCmplxFFT(l)
	return &bluestein{n: n, fft: fft, chirp: chirp, kernel: fft.Coefficients(nil, b)}
}

// transform returns the unnormalized forward DFT of x, len(x) == n.
func (b *bluestein) transform(x []complex128) []complex128 {
	l := len(b.kernel)
	a := make([]complex128, l)
	for k, v := range x {
		a[k] = v * b.chirp[k]
	}
	b.fft.Coefficients(a, a)
	for i := range a {
		a[i] *= b.kernel[i]
	}
	b.fft.Sequence(a, a)

	scale := complex(1/float64(l), 0)
	out := make([]complex128, b.n)
	for k := range out {
		out[k] = a[k] * b.chirp[k] * scale
	}
	return out
}

func (b *bluestein) coefficients(seq []float64) []complex128 {
	x := make([]complex128, b.n)
	for i, v := range seq {
		x[i] = complex(v, 0)
	}
	return b.transform(x)[:b.n/2+1]
}

// sequence rebuilds the Hermitian spectrum and inverts it as
// conj(DFT(conj(Y))). Like FFTPACK, it ignores the imaginary parts of the
// DC and Nyquist bins.
func (b *bluestein) sequence(coeff []complex128) []float64 {
	n := b.n
	y := make([]complex128, n)
	for k := 0; k <= n/2; k++ {
		y[k] = cmplx.Conj(coeff[k])
	}
	for k := n/2 + 1; k < n; k++ {
		y[k] = coeff[n-k]
	}
	y[0] = complex(real(y[0]), 0)
	if n%2 == 0 {
		y[n/2] = complex(real(y[n/2]), 0)
	}

	z := b.transform(y)
	out := make([]float64, n)
	for i, v := range z {
		out[i] = real(v)
	}
	return out
}
