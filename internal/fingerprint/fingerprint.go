// Package fingerprint extracts per-onset timbre descriptors used for
// sound-similarity scoring.
package fingerprint

import (
	"context"
	"math"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/dsp"
	"github.com/Krichev/karaoke/internal/types"
)

// transientFloor ends the transient once the level falls below this
// fraction of the peak sample.
const transientFloor = 0.1

// Extractor computes sound fingerprints from onset segments.
type Extractor struct {
	BufferSize int
}

// NewExtractor creates an extractor with the engine's default window.
func NewExtractor() *Extractor {
	return &Extractor{BufferSize: types.BufferSize}
}

// AtOnsets fingerprints the fixed-length segment after each onset time.
func (e *Extractor) AtOnsets(ctx context.Context, buf *audio.Buffer, onsetsMs []float64) ([]types.SoundFingerprint, error) {
	prints := make([]types.SoundFingerprint, 0, len(onsetsMs))
	for _, t := range onsetsMs {
		if err := ctx.Err(); err != nil {
			return nil, types.ErrCancelled
		}
		prints = append(prints, e.Extract(buf, t))
	}
	return prints, nil
}

// Extract fingerprints the segment of SegmentDurationMs starting at
// onsetMs, clipped to the buffer bounds. An empty segment yields a zero
// fingerprint.
func (e *Extractor) Extract(buf *audio.Buffer, onsetMs float64) types.SoundFingerprint {
	segment := buf.Segment(onsetMs, types.SegmentDurationMs)
	if len(segment) == 0 {
		return types.SoundFingerprint{}
	}

	plan := dsp.GetPlan(e.BufferSize)
	bank := dsp.GetMelBank(buf.SampleRate, e.BufferSize)

	// Mean magnitude spectrum over the segment's overlapped frames. Short
	// segments become a single zero-padded frame.
	spectrum := make([]float64, plan.Bins())
	frames := 0
	hop := e.BufferSize / 2
	for pos := 0; pos == 0 || pos+e.BufferSize <= len(segment); pos += hop {
		end := pos + e.BufferSize
		if end > len(segment) {
			end = len(segment)
		}
		mag := plan.Magnitude(segment[pos:end])
		for i := range spectrum {
			spectrum[i] += mag[i]
		}
		frames++
	}
	for i := range spectrum {
		spectrum[i] /= float64(frames)
	}

	return types.SoundFingerprint{
		MFCC:                bank.MFCC(spectrum),
		SpectralCentroidHz:  dsp.Centroid(spectrum, buf.SampleRate, e.BufferSize),
		SpectralRolloffHz:   dsp.Rolloff(spectrum, buf.SampleRate, e.BufferSize, types.RolloffFraction),
		ZeroCrossingRate:    dsp.ZCR(segment),
		RMSEnergy:           dsp.RMS(segment),
		SpectralFlatness:    dsp.Flatness(spectrum),
		TransientDurationMs: transientDurationMs(segment, buf.SampleRate),
	}
}

// transientDurationMs measures the time from the peak sample to the first
// later sample below transientFloor of the peak. It runs to the segment
// end when the level never decays that far.
func transientDurationMs(segment []float64, sampleRate int) float64 {
	peakIdx := 0
	peak := 0.0
	for i, s := range segment {
		if a := math.Abs(s); a > peak {
			peak = a
			peakIdx = i
		}
	}
	if peak == 0 {
		return 0
	}

	end := len(segment)
	for i := peakIdx + 1; i < len(segment); i++ {
		if math.Abs(segment[i]) < transientFloor*peak {
			end = i
			break
		}
	}
	return float64(end-peakIdx) / float64(sampleRate) * 1000.0
}
