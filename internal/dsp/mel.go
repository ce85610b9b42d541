package dsp

import (
	"math"
	"sync"

	"github.com/Krichev/karaoke/internal/types"
)

// MelBank is a triangular mel filterbank for one (sampleRate, fftSize)
// pair. Banks are immutable once built and safe for concurrent use.
type MelBank struct {
	sampleRate int
	fftSize    int
	filters    [][]float64
}

type melKey struct {
	sampleRate int
	fftSize    int
}

var (
	melMu sync.RWMutex
	banks = make(map[melKey]*MelBank)
)

// GetMelBank returns the process-wide filterbank for the given rates,
// constructing it lazily on first use. The bank spans MelLowHz to
// sampleRate/2 with NumMelFilters triangular filters.
func GetMelBank(sampleRate, fftSize int) *MelBank {
	key := melKey{sampleRate, fftSize}

	melMu.RLock()
	b, ok := banks[key]
	melMu.RUnlock()
	if ok {
		return b
	}

	melMu.Lock()
	defer melMu.Unlock()
	if b, ok = banks[key]; ok {
		return b
	}

	b = &MelBank{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		filters:    buildMelFilters(types.NumMelFilters, fftSize, sampleRate),
	}
	banks[key] = b
	return b
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

func buildMelFilters(numFilters, fftSize, sampleRate int) [][]float64 {
	nyquist := float64(sampleRate) / 2
	lowMel := hzToMel(types.MelLowHz)
	highMel := hzToMel(nyquist)

	// Mel-spaced edge frequencies, converted back to FFT bin indices
	binPoints := make([]int, numFilters+2)
	for i := range binPoints {
		mel := lowMel + float64(i)*(highMel-lowMel)/float64(numFilters+1)
		hz := melToHz(mel)
		binPoints[i] = int(math.Floor(hz * float64(fftSize) / float64(sampleRate)))
	}

	bins := fftSize/2 + 1
	filters := make([][]float64, numFilters)
	for i := 0; i < numFilters; i++ {
		filters[i] = make([]float64, bins)

		for j := binPoints[i]; j < binPoints[i+1] && j < bins; j++ {
			if binPoints[i+1] != binPoints[i] {
				filters[i][j] = float64(j-binPoints[i]) / float64(binPoints[i+1]-binPoints[i])
			}
		}
		for j := binPoints[i+1]; j < binPoints[i+2] && j < bins; j++ {
			if binPoints[i+2] != binPoints[i+1] {
				filters[i][j] = float64(binPoints[i+2]-j) / float64(binPoints[i+2]-binPoints[i+1])
			}
		}
	}

	return filters
}

// MFCC computes the first MFCCCoefficients cepstral coefficients from a
// magnitude spectrum: filterbank energies, log compression, then DCT-II.
func (b *MelBank) MFCC(spectrum []float64) [types.MFCCCoefficients]float64 {
	numFilters := len(b.filters)
	melEnergies := make([]float64, numFilters)
	for i := 0; i < numFilters; i++ {
		for j := 0; j < len(spectrum) && j < len(b.filters[i]); j++ {
			melEnergies[i] += spectrum[j] * spectrum[j] * b.filters[i][j]
		}
		if melEnergies[i] < logFloor {
			melEnergies[i] = logFloor
		}
		melEnergies[i] = math.Log(melEnergies[i])
	}

	var mfcc [types.MFCCCoefficients]float64
	for i := 0; i < types.MFCCCoefficients; i++ {
		for j := 0; j < numFilters; j++ {
			mfcc[i] += melEnergies[j] * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/float64(numFilters))
		}
	}
	return mfcc
}
