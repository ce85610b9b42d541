// Package onset locates the start times of notes and percussive events.
// Two detectors are provided: an energy detector working on dBFS levels
// (rhythm path) and a spectral-flux detector (note path).
package onset

import (
	"context"
	"math"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/types"
)

const (
	// energyWindowMs is the RMS window for level tracking.
	energyWindowMs = 20.0
	// energyOverlap is the window overlap fraction (75% -> 5 ms hop).
	energyOverlap = 0.75
	// dynamicRangeDB keeps the threshold within 20 dB of the loudest window.
	dynamicRangeDB = 20.0
	// silenceFloorDB stands in for log(0) on all-zero windows.
	silenceFloorDB = -120.0
	// cancelCheckEvery is how many windows pass between cancellation checks.
	cancelCheckEvery = 64
)

// EnergyDetector finds onsets by tracking the dBFS level of short RMS
// windows with a rising-edge rule and exit hysteresis.
type EnergyDetector struct {
	// SilenceThresholdDB is the absolute floor below which nothing counts
	// as sound.
	SilenceThresholdDB float64
	// MinOnsetIntervalMs debounces onsets closer than this to the
	// previously accepted one.
	MinOnsetIntervalMs float64
}

// NewEnergyDetector creates a detector with the engine defaults.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		SilenceThresholdDB: types.SilenceDefaultDB,
		MinOnsetIntervalMs: types.DefaultMinOnsetIntervalMs,
	}
}

// Detect returns strictly increasing onset times in milliseconds.
func (d *EnergyDetector) Detect(ctx context.Context, buf *audio.Buffer) ([]float64, error) {
	windowSamples := int(energyWindowMs / 1000.0 * float64(buf.SampleRate))
	if windowSamples < 1 {
		windowSamples = 1
	}
	hop := int(float64(windowSamples) * (1 - energyOverlap))
	if hop < 1 {
		hop = 1
	}

	// First pass: dBFS level per window.
	var levels []float64
	var times []float64
	peakDB := silenceFloorDB
	for pos, i := 0, 0; pos+windowSamples <= len(buf.Samples); pos, i = pos+hop, i+1 {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, types.ErrCancelled
			}
		}

		db := dbfs(buf.Samples[pos : pos+windowSamples])
		levels = append(levels, db)
		times = append(times, float64(pos)/float64(buf.SampleRate)*1000.0)
		if db > peakDB {
			peakDB = db
		}
	}
	if len(levels) == 0 {
		return nil, nil
	}

	threshold := d.SilenceThresholdDB
	if peakDB-dynamicRangeDB > threshold {
		threshold = peakDB - dynamicRangeDB
	}

	// Second pass: rising-edge rule with exit hysteresis and debounce.
	var onsets []float64
	inSound := false
	prevDB := silenceFloorDB
	lastOnset := math.Inf(-1)

	for i, db := range levels {
		if inSound {
			if db < threshold-types.HysteresisDB {
				inSound = false
			}
		} else if db > threshold && db > prevDB+types.RiseDB {
			inSound = true
			t := times[i]
			if t-lastOnset >= d.MinOnsetIntervalMs {
				onsets = append(onsets, t)
				lastOnset = t
			}
		}
		prevDB = db
	}

	return onsets, nil
}

// dbfs converts a window to its RMS level in dB relative to full scale.
func dbfs(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return silenceFloorDB
	}
	return 20 * math.Log10(rms)
}
