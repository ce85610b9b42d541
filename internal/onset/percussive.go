package onset

import (
	"context"

	"gonum.org/v1/gonum/stat"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/dsp"
	"github.com/Krichev/karaoke/internal/types"
)

// Onset is one percussive event: its time in seconds and the flux
// salience that triggered it.
type Onset struct {
	TimeS    float64
	Salience float64
}

// PercussiveDetector finds note starts by peak-picking the half-wave
// rectified spectral flux of overlapping FFT frames.
type PercussiveDetector struct {
	BufferSize int
	HopSize    int
	// Sensitivity scales the flux threshold: threshold = mean + Sensitivity
	// * stddev over the whole flux envelope. Lower values fire more onsets.
	Sensitivity float64
	// MinGapMs suppresses peaks closer than this to the previous onset.
	MinGapMs float64
}

// NewPercussiveDetector creates a detector with the engine defaults: the
// standard analysis window with a quarter-window hop.
func NewPercussiveDetector() *PercussiveDetector {
	return &PercussiveDetector{
		BufferSize:  types.BufferSize,
		HopSize:     types.BufferSize / 4,
		Sensitivity: 1.5,
		MinGapMs:    50.0,
	}
}

// Detect returns (time, salience) pairs ordered by time.
func (d *PercussiveDetector) Detect(ctx context.Context, buf *audio.Buffer) ([]Onset, error) {
	plan := dsp.GetPlan(d.BufferSize)
	framer := audio.NewFramer(buf, d.BufferSize, d.HopSize)

	var flux []float64
	var frameMs []float64
	prev := make([]float64, plan.Bins())

	for {
		frame, ok := framer.Next()
		if !ok {
			break
		}
		if frame.Index%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, types.ErrCancelled
			}
		}

		spectrum := plan.Magnitude(frame.Samples)
		flux = append(flux, dsp.Flux(spectrum, prev))
		frameMs = append(frameMs, frame.StartMs)
		copy(prev, spectrum)
	}
	if len(flux) < 3 {
		return nil, nil
	}

	// The first frame's flux compares against silence and always spikes.
	flux[0] = 0

	threshold := stat.Mean(flux, nil) + d.Sensitivity*stat.StdDev(flux, nil)

	var onsets []Onset
	lastMs := -d.MinGapMs
	for i := 1; i < len(flux)-1; i++ {
		if flux[i] <= threshold {
			continue
		}
		// Local maximum only.
		if flux[i] < flux[i-1] || flux[i] < flux[i+1] {
			continue
		}
		if frameMs[i]-lastMs < d.MinGapMs {
			continue
		}
		onsets = append(onsets, Onset{
			TimeS:    frameMs[i] / 1000.0,
			Salience: flux[i],
		})
		lastMs = frameMs[i]
	}

	return onsets, nil
}
