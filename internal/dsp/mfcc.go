package dsp

import (
	"context"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/types"
)

// cancelCheckEvery is how many frames pass between cancellation checks.
const cancelCheckEvery = 64

// ExtractMFCC computes one MFCC vector per analysis frame over the whole
// buffer, using 50% overlapped windows of bufferSize samples.
func ExtractMFCC(ctx context.Context, buf *audio.Buffer, bufferSize int) ([][]float64, error) {
	plan := GetPlan(bufferSize)
	bank := GetMelBank(buf.SampleRate, bufferSize)
	framer := audio.NewFramer(buf, bufferSize, bufferSize/2)

	var out [][]float64
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
		coeffs := bank.MFCC(spectrum)
		out = append(out, coeffs[:])
	}
	return out, nil
}
