package onset

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krichev/karaoke/internal/audio"
)

const testRate = 44100

// burstBuffer synthesizes silence with sine bursts starting at the given
// times.
func burstBuffer(burstStartsMs []float64, burstMs, totalMs float64) *audio.Buffer {
	samples := make([]float64, int(totalMs/1000*testRate))
	for _, startMs := range burstStartsMs {
		start := int(startMs / 1000 * testRate)
		end := start + int(burstMs/1000*testRate)
		for i := start; i < end && i < len(samples); i++ {
			samples[i] = 0.6 * math.Sin(2*math.Pi*880*float64(i)/testRate)
		}
	}
	return &audio.Buffer{SampleRate: testRate, Channels: 1, Samples: samples}
}

func TestEnergyDetectBursts(t *testing.T) {
	starts := []float64{200, 700, 1200, 1700}
	buf := burstBuffer(starts, 150, 2200)

	det := NewEnergyDetector()
	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, onsets, len(starts))

	for i, want := range starts {
		assert.InDelta(t, want, onsets[i], 40, "onset %d", i)
	}
}

func TestEnergyDetectDebounce(t *testing.T) {
	// Bursts 60 ms apart collapse under a 100 ms debounce.
	starts := []float64{200, 260, 320, 800}
	buf := burstBuffer(starts, 40, 1200)

	det := NewEnergyDetector()
	det.MinOnsetIntervalMs = 100

	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)

	for i := 1; i < len(onsets); i++ {
		assert.GreaterOrEqual(t, onsets[i]-onsets[i-1], det.MinOnsetIntervalMs,
			"consecutive onsets %d and %d violate debounce", i-1, i)
	}
}

func TestEnergyDetectStrictlyIncreasing(t *testing.T) {
	buf := burstBuffer([]float64{100, 400, 700, 1000, 1300}, 120, 1600)

	det := NewEnergyDetector()
	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)

	for i := 1; i < len(onsets); i++ {
		assert.Greater(t, onsets[i], onsets[i-1])
	}
}

func TestEnergyDetectSilence(t *testing.T) {
	buf := &audio.Buffer{SampleRate: testRate, Channels: 1, Samples: make([]float64, testRate)}

	det := NewEnergyDetector()
	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)
	assert.Empty(t, onsets)
}

func TestEnergyDetectCancellation(t *testing.T) {
	buf := burstBuffer([]float64{200, 700}, 150, 10000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	det := NewEnergyDetector()
	_, err := det.Detect(ctx, buf)
	assert.Error(t, err)
}

func TestPercussiveDetectClicks(t *testing.T) {
	// Impulse train: sharp clicks every 500 ms.
	samples := make([]float64, testRate*2)
	clicks := []float64{250, 750, 1250, 1750}
	for _, ms := range clicks {
		start := int(ms / 1000 * testRate)
		for i := 0; i < 200 && start+i < len(samples); i++ {
			samples[start+i] = 0.8 * math.Exp(-float64(i)/40)
		}
	}
	buf := &audio.Buffer{SampleRate: testRate, Channels: 1, Samples: samples}

	det := NewPercussiveDetector()
	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)
	require.NotEmpty(t, onsets)

	// Ordered in time, salience positive, gap respected.
	for i, o := range onsets {
		assert.Greater(t, o.Salience, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, (o.TimeS-onsets[i-1].TimeS)*1000, det.MinGapMs)
		}
	}
}

func TestPercussiveDetectSilence(t *testing.T) {
	buf := &audio.Buffer{SampleRate: testRate, Channels: 1, Samples: make([]float64, testRate)}

	det := NewPercussiveDetector()
	onsets, err := det.Detect(context.Background(), buf)
	require.NoError(t, err)
	assert.Empty(t, onsets)
}
