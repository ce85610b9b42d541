// Package notes merges onset and pitch analysis into note events.
package notes

import (
	"context"
	"math"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/onset"
	"github.com/Krichev/karaoke/internal/pitch"
	"github.com/Krichev/karaoke/internal/types"
)

const (
	// pitchMatchWindowMs pairs pitch frames within this distance of an onset.
	pitchMatchWindowMs = 100.0
	// segmentBreakHz opens a new note in the fallback segmenter when the
	// pitch jumps by more than this.
	segmentBreakHz = 50.0
	// cancelCheckEvery is how many frames pass between cancellation checks.
	cancelCheckEvery = 64
)

// PitchFrame is one voiced YIN observation.
type PitchFrame struct {
	TimeMs      float64
	PitchHz     float64
	Probability float64
}

// Extractor converts a decoded buffer into ordered note events.
type Extractor struct {
	BufferSize int
	HopSize    int
}

// NewExtractor creates an extractor with the engine's default windowing.
func NewExtractor() *Extractor {
	return &Extractor{
		BufferSize: types.BufferSize,
		HopSize:    types.BufferSize / 2,
	}
}

// Extract runs both passes: percussive onsets, then YIN pitch frames, and
// merges them. With no detectable onsets it falls back to segmenting the
// continuous pitch stream.
func (e *Extractor) Extract(ctx context.Context, buf *audio.Buffer) ([]types.NoteEvent, error) {
	detector := onset.NewPercussiveDetector()
	detector.BufferSize = e.BufferSize
	onsets, err := detector.Detect(ctx, buf)
	if err != nil {
		return nil, err
	}

	frames, err := e.PitchFrames(ctx, buf)
	if err != nil {
		return nil, err
	}

	if len(onsets) == 0 {
		return segmentPitchStream(frames), nil
	}
	return mergeOnsetsWithPitch(onsets, frames), nil
}

// PitchFrames runs YIN over the buffer and returns the voiced frames.
func (e *Extractor) PitchFrames(ctx context.Context, buf *audio.Buffer) ([]PitchFrame, error) {
	det := pitch.NewDetector(buf.SampleRate)
	framer := audio.NewFramer(buf, e.BufferSize, e.HopSize)

	var frames []PitchFrame
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

		hz, prob := det.Detect(frame.Samples)
		if hz > 0 {
			frames = append(frames, PitchFrame{
				TimeMs:      frame.StartMs,
				PitchHz:     hz,
				Probability: prob,
			})
		}
	}
	return frames, nil
}

// mergeOnsetsWithPitch builds one note per onset from the pitch frames
// near it. Notes shorter than the minimum duration or without a voiced
// pitch are discarded.
func mergeOnsetsWithPitch(onsets []onset.Onset, frames []PitchFrame) []types.NoteEvent {
	var lastPitchMs float64
	if len(frames) > 0 {
		lastPitchMs = frames[len(frames)-1].TimeMs
	}

	var events []types.NoteEvent
	for i, o := range onsets {
		onsetMs := o.TimeS * 1000.0

		var pitchSum, probSum float64
		var count int
		for _, f := range frames {
			if math.Abs(f.TimeMs-onsetMs) < pitchMatchWindowMs {
				pitchSum += f.PitchHz
				probSum += f.Probability
				count++
			}
		}
		if count == 0 {
			continue
		}

		var durationMs float64
		if i+1 < len(onsets) {
			durationMs = onsets[i+1].TimeS*1000.0 - onsetMs
		} else {
			durationMs = lastPitchMs - onsetMs
		}

		meanPitch := pitchSum / float64(count)
		if durationMs < types.MinNoteDurationMs || meanPitch <= 0 {
			continue
		}

		events = append(events, types.NoteEvent{
			OnsetMs:    onsetMs,
			PitchHz:    meanPitch,
			DurationMs: durationMs,
			Amplitude:  probSum / float64(count),
		})
	}
	return events
}

// segmentPitchStream is the fallback used when onset detection produced
// nothing: contiguous pitch frames are grouped into notes, with a new note
// opened whenever the pitch jumps.
func segmentPitchStream(frames []PitchFrame) []types.NoteEvent {
	var events []types.NoteEvent
	if len(frames) == 0 {
		return events
	}

	start := 0
	for i := 1; i <= len(frames); i++ {
		if i < len(frames) && math.Abs(frames[i].PitchHz-frames[start].PitchHz) <= segmentBreakHz {
			continue
		}

		run := frames[start:i]
		durationMs := run[len(run)-1].TimeMs - run[0].TimeMs
		if durationMs >= types.MinNoteDurationMs {
			var pitchSum, probSum float64
			for _, f := range run {
				pitchSum += f.PitchHz
				probSum += f.Probability
			}
			events = append(events, types.NoteEvent{
				OnsetMs:    run[0].TimeMs,
				PitchHz:    pitchSum / float64(len(run)),
				DurationMs: durationMs,
				Amplitude:  probSum / float64(len(run)),
			})
		}
		start = i
	}
	return events
}

// FromPitchValues converts the legacy pitch-array reference shape (one
// value per fixed interval, 0 for silence) into note events. A zero or
// negative interval assumes the historical 100 ms sampling.
func FromPitchValues(values []float64, intervalMs float64) []types.NoteEvent {
	if intervalMs <= 0 {
		intervalMs = 100.0
	}

	frames := make([]PitchFrame, 0, len(values))
	for i, v := range values {
		if v <= 0 {
			continue
		}
		frames = append(frames, PitchFrame{
			TimeMs:      float64(i) * intervalMs,
			PitchHz:     v,
			Probability: 1,
		})
	}
	return segmentPitchStream(frames)
}
