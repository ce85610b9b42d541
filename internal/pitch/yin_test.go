package pitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

func sineFrame(freq float64, n int) []float64 {
	frame := make([]float64, n)
	for i := range frame {
		frame[i] = math.Sin(2 * math.Pi * freq * float64(i) / testRate)
	}
	return frame
}

func TestDetectSine(t *testing.T) {
	det := NewDetector(testRate)

	cases := []float64{110, 220, 440, 880}
	for _, freq := range cases {
		hz, prob := det.Detect(sineFrame(freq, 2048))
		require.Greater(t, hz, 0.0, "expected %g Hz to be voiced", freq)
		assert.InDelta(t, freq, hz, freq*0.02, "detected %g for %g", hz, freq)
		assert.Greater(t, prob, 0.5)
	}
}

func TestDetectSilenceUnvoiced(t *testing.T) {
	det := NewDetector(testRate)
	hz, prob := det.Detect(make([]float64, 2048))
	assert.Equal(t, Unvoiced, hz)
	assert.Equal(t, 0.0, prob)
}

func TestDetectNoiseLowConfidence(t *testing.T) {
	det := NewDetector(testRate)

	// Deterministic pseudo-noise: no strong periodicity in range.
	frame := make([]float64, 2048)
	seed := uint64(0x9E3779B97F4A7C15)
	for i := range frame {
		seed = seed*6364136223846793005 + 1442695040888963407
		frame[i] = float64(int64(seed))/math.MaxInt64*0.1 + 0.9*math.Sin(2*math.Pi*float64(i*i%977)/977)
	}

	hz, prob := det.Detect(frame)
	if hz > 0 {
		// If something is detected, the confidence must stay bounded.
		assert.LessOrEqual(t, prob, 1.0)
		assert.GreaterOrEqual(t, prob, 0.0)
	}
}

func TestDetectTooShortFrame(t *testing.T) {
	det := NewDetector(testRate)
	hz, _ := det.Detect([]float64{0.5, -0.5})
	assert.Equal(t, Unvoiced, hz)
}

func TestDetectorRangeExcludesLowPitch(t *testing.T) {
	// A 100 Hz tone is invisible to a detector floored at 300 Hz.
	det := NewDetectorRange(testRate, 300, 1000)
	hz, _ := det.Detect(sineFrame(100, 2048))
	if hz > 0 {
		// A harmonic may fire at a multiple, never at 100 itself.
		assert.Greater(t, hz, 250.0)
	}
}

func TestProbabilityBounds(t *testing.T) {
	det := NewDetector(testRate)
	for _, freq := range []float64{80, 440, 1200} {
		_, prob := det.Detect(sineFrame(freq, 2048))
		assert.GreaterOrEqual(t, prob, 0.0)
		assert.LessOrEqual(t, prob, 1.0)
	}
}
