package audio

// Frame is one analysis window. Samples aliases the source buffer and is
// only valid while the buffer is alive.
type Frame struct {
	Index   uint64
	StartMs float64
	Samples []float64
}

// Framer slides fixed-size windows over a buffer with a configurable hop.
// It is a finite, non-restartable sequence; the final partial window is
// dropped.
type Framer struct {
	buf        *Buffer
	bufferSize int
	hopSize    int
	pos        int
	index      uint64
}

// NewFramer creates a windower over buf. bufferSize is the window length in
// samples and hopSize the advance per frame; hopSize must be positive.
func NewFramer(buf *Buffer, bufferSize, hopSize int) *Framer {
	if hopSize <= 0 {
		hopSize = bufferSize
	}
	return &Framer{
		buf:        buf,
		bufferSize: bufferSize,
		hopSize:    hopSize,
	}
}

// Next returns the next frame, or false when the sequence is exhausted.
func (f *Framer) Next() (Frame, bool) {
	if f.pos+f.bufferSize > len(f.buf.Samples) {
		return Frame{}, false
	}

	frame := Frame{
		Index:   f.index,
		StartMs: float64(f.pos) / float64(f.buf.SampleRate) * 1000.0,
		Samples: f.buf.Samples[f.pos : f.pos+f.bufferSize],
	}
	f.pos += f.hopSize
	f.index++
	return frame, true
}

// Count returns the total number of frames the sequence will produce.
func (f *Framer) Count() int {
	n := len(f.buf.Samples)
	if n < f.bufferSize {
		return 0
	}
	return (n-f.bufferSize)/f.hopSize + 1
}
