// Package audio decodes encoded sources into normalized mono sample
// buffers and slices them into analysis frames.
package audio

// Buffer holds decoded audio: mono samples normalized to [-1, 1] plus the
// source sample rate. Channels records the source channel count before the
// mono downmix.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float64
}

// DurationMs returns the buffer length in milliseconds.
func (b *Buffer) DurationMs() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate) * 1000.0
}

// SampleAt converts a time in milliseconds to a sample index, clipped to
// the buffer bounds.
func (b *Buffer) SampleAt(tMs float64) int {
	idx := int(tMs / 1000.0 * float64(b.SampleRate))
	if idx < 0 {
		return 0
	}
	if idx > len(b.Samples) {
		return len(b.Samples)
	}
	return idx
}

// Segment returns the samples covering [startMs, startMs+durMs), clipped to
// the buffer bounds. The returned slice aliases the buffer.
func (b *Buffer) Segment(startMs, durMs float64) []float64 {
	lo := b.SampleAt(startMs)
	hi := b.SampleAt(startMs + durMs)
	if hi < lo {
		hi = lo
	}
	return b.Samples[lo:hi]
}

// downmix collapses interleaved channels to mono by arithmetic mean.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
