// Package dsp provides the spectral primitives shared by the analyzers:
// cached FFT plans, mel filterbanks, MFCC extraction, and frame-level
// spectral features.
package dsp

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// logFloor guards log inputs against zero energies.
const logFloor = 1e-10

// Plan bundles a Hanning window with a pool of FFT instances for one
// buffer size. Plans are immutable once built and safe for concurrent use.
type Plan struct {
	size   int
	window []float64
	ffts   sync.Pool
}

var (
	planMu sync.RWMutex
	plans  = make(map[int]*Plan)
)

// GetPlan returns the process-wide plan for the given buffer size,
// constructing it lazily on first use.
func GetPlan(size int) *Plan {
	planMu.RLock()
	p, ok := plans[size]
	planMu.RUnlock()
	if ok {
		return p
	}

	planMu.Lock()
	defer planMu.Unlock()
	if p, ok = plans[size]; ok {
		return p
	}

	// Hanning window
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	p = &Plan{
		size:   size,
		window: window,
	}
	p.ffts.New = func() any { return fourier.NewFFT(size) }
	plans[size] = p
	return p
}

// Size returns the plan's buffer size in samples.
func (p *Plan) Size() int { return p.size }

// Bins returns the number of spectrum bins the plan produces.
func (p *Plan) Bins() int { return p.size/2 + 1 }

// Magnitude computes the windowed magnitude spectrum of one frame.
// The frame must be exactly Size() samples long; shorter frames are
// zero-padded.
func (p *Plan) Magnitude(frame []float64) []float64 {
	windowed := make([]float64, p.size)
	for i := 0; i < len(frame) && i < p.size; i++ {
		windowed[i] = frame[i] * p.window[i]
	}

	fft := p.ffts.Get().(*fourier.FFT)
	coeffs := fft.Coefficients(nil, windowed)
	p.ffts.Put(fft)

	spectrum := make([]float64, len(coeffs))
	for i, c := range coeffs {
		spectrum[i] = math.Hypot(real(c), imag(c))
	}
	return spectrum
}

// BinHz returns the width of one spectrum bin in Hz.
func BinHz(sampleRate, fftSize int) float64 {
	return float64(sampleRate) / float64(fftSize)
}
