package rhythm

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krichev/karaoke/internal/types"
)

const testRate = 44100

// clapWAV synthesizes a 16-bit mono WAV with sine bursts at the given
// start times.
func clapWAV(t *testing.T, burstStartsMs []float64, totalMs float64) []byte {
	t.Helper()

	n := int(totalMs / 1000 * testRate)
	samples := make([]float64, n)
	for _, startMs := range burstStartsMs {
		start := int(startMs / 1000 * testRate)
		end := start + int(0.12*testRate)
		for i := start; i < end && i < n; i++ {
			samples[i] = 0.6 * math.Sin(2*math.Pi*1760*float64(i)/testRate)
		}
	}

	var body bytes.Buffer
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(16))
	binary.Write(&body, binary.LittleEndian, uint16(1))
	binary.Write(&body, binary.LittleEndian, uint16(1))
	binary.Write(&body, binary.LittleEndian, uint32(testRate))
	binary.Write(&body, binary.LittleEndian, uint32(testRate*2))
	binary.Write(&body, binary.LittleEndian, uint16(2))
	binary.Write(&body, binary.LittleEndian, uint16(16))
	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(samples)*2))
	for _, s := range samples {
		binary.Write(&body, binary.LittleEndian, int16(s*32767))
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestExtractPatternNormalizes(t *testing.T) {
	wav := clapWAV(t, []float64{300, 800, 1300, 1800}, 2400)

	analyzer := NewAnalyzer(nil)
	pattern, err := analyzer.ExtractPattern(context.Background(),
		types.FromBytes(wav, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)

	require.Equal(t, uint32(4), pattern.TotalBeats)
	require.Len(t, pattern.OnsetTimesMs, 4)
	assert.Equal(t, 0.0, pattern.OnsetTimesMs[0])
	assert.InDelta(t, 300.0, pattern.TrimmedStartMs, 40)
	assert.InDelta(t, 1800.0, pattern.TrimmedEndMs, 40)
	assert.InDelta(t, 2400.0, pattern.OriginalDurationMs, 1)

	require.Len(t, pattern.IntervalsMs, 3)
	for _, iv := range pattern.IntervalsMs {
		assert.InDelta(t, 500.0, iv, 40)
	}
	assert.InDelta(t, 120, int(pattern.EstimatedBPM), 6)
	assert.Equal(t, "4/4", pattern.TimeSignature)
	assert.Equal(t, types.PatternVersion, pattern.Version)
	assert.False(t, pattern.SoundSimilarityEnabled)
}

func TestExtractPatternIdempotentModuloTrim(t *testing.T) {
	// Extracting from a clip trimmed at the first onset yields the same
	// normalized sequence.
	full := clapWAV(t, []float64{400, 900, 1400}, 2000)
	trimmed := clapWAV(t, []float64{0, 500, 1000}, 1600)

	analyzer := NewAnalyzer(nil)
	ctx := context.Background()

	a, err := analyzer.ExtractPattern(ctx, types.FromBytes(full, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)
	b, err := analyzer.ExtractPattern(ctx, types.FromBytes(trimmed, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)

	require.Equal(t, len(a.OnsetTimesMs), len(b.OnsetTimesMs))
	for i := range a.OnsetTimesMs {
		assert.InDelta(t, a.OnsetTimesMs[i], b.OnsetTimesMs[i], 25, "onset %d", i)
	}
}

func TestExtractPatternSingleOnset(t *testing.T) {
	wav := clapWAV(t, []float64{500}, 1200)

	analyzer := NewAnalyzer(nil)
	pattern, err := analyzer.ExtractPattern(context.Background(),
		types.FromBytes(wav, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), pattern.TotalBeats)
	assert.Empty(t, pattern.IntervalsMs)
	assert.Equal(t, uint32(0), pattern.EstimatedBPM)
}

func TestExtractPatternWithFingerprints(t *testing.T) {
	wav := clapWAV(t, []float64{300, 800, 1300}, 1800)

	analyzer := NewAnalyzer(nil)
	pattern, err := analyzer.ExtractPatternWithFingerprints(context.Background(),
		types.FromBytes(wav, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)

	assert.True(t, pattern.SoundSimilarityEnabled)
	require.Len(t, pattern.BeatFingerprints, len(pattern.OnsetTimesMs))
	for i, fp := range pattern.BeatFingerprints {
		assert.False(t, fp.IsZero(), "fingerprint %d is zero", i)
		assert.Greater(t, fp.RMSEnergy, 0.0, "fingerprint %d", i)
	}
}

func TestScoreWithSoundSimilarityBlendsWeights(t *testing.T) {
	wav := clapWAV(t, []float64{300, 800, 1300}, 1800)

	analyzer := NewAnalyzer(nil)
	ctx := context.Background()

	pattern, err := analyzer.ExtractPatternWithFingerprints(ctx,
		types.FromBytes(wav, "audio/wav"), types.SilenceDefaultDB, types.DefaultMinOnsetIntervalMs)
	require.NoError(t, err)

	absolute := make([]float64, len(pattern.OnsetTimesMs))
	for i, o := range pattern.OnsetTimesMs {
		absolute[i] = o + pattern.TrimmedStartMs
	}

	result, err := analyzer.ScoreWithSoundSimilarity(ctx, pattern, absolute, nil, nil, SoundOptions{
		UserAudio: types.FromBytes(wav, "audio/wav"),
	})
	require.NoError(t, err)

	require.Len(t, result.SoundDetails, len(pattern.BeatFingerprints))

	// Same audio against itself: timing and sound both near perfect.
	assert.Greater(t, result.OverallScore, 95.0)
	for _, d := range result.SoundDetails {
		assert.Greater(t, d.MFCCSimilarity, 99.0)
		assert.Greater(t, d.OverallSoundScore, 99.0)
		assert.False(t, d.Missed)
	}

	// combined = timingWeight*timing + soundWeight*sound, within 1e-6.
	meta := result.DetailedMetrics["soundSimilarity"].(map[string]any)
	soundScore := meta["soundScore"].(float64)
	want := pattern.TimingWeight*result.OverallScore + pattern.SoundWeight*soundScore
	assert.InDelta(t, want, result.CombinedScore, 1e-6)
}

func TestScoreWithSoundSimilarityWithoutFingerprints(t *testing.T) {
	pattern := &types.RhythmPattern{
		Version:       types.PatternVersion,
		TimeSignature: "4/4",
		OnsetTimesMs:  []float64{0, 500, 1000},
		IntervalsMs:   []float64{500, 500},
		TotalBeats:    3,
		TimingWeight:  types.DefaultTimingWeight,
		SoundWeight:   types.DefaultSoundWeight,
	}

	analyzer := NewAnalyzer(nil)
	result, err := analyzer.ScoreWithSoundSimilarity(context.Background(), pattern,
		[]float64{0, 500, 1000}, nil, nil, SoundOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.SoundDetails)
	assert.Equal(t, 100.0, result.OverallScore)
}

func TestCompareBeatIdentity(t *testing.T) {
	fp := types.SoundFingerprint{
		MFCC:               [types.MFCCCoefficients]float64{12, -3, 4, 1, 0.5, -2, 0.1, 0, 1, 2, -1, 0.4, 0.2},
		SpectralCentroidHz: 2500,
		RMSEnergy:          0.4,
		ZeroCrossingRate:   0.2,
	}

	d := compareBeat(0, fp, fp)
	assert.InDelta(t, 100.0, d.MFCCSimilarity, 1e-6)
	assert.InDelta(t, 100.0, d.BrightnessMatch, 1e-9)
	assert.InDelta(t, 100.0, d.EnergyMatch, 1e-9)
	assert.InDelta(t, 100.0, d.OverallSoundScore, 1e-6)
	assert.Equal(t, types.QualityClear, d.UserQuality)
	assert.Equal(t, d.UserQuality, d.ReferenceQuality)
}

func TestRatioMatch(t *testing.T) {
	assert.InDelta(t, 50.0, ratioMatch(1000, 2000), 1e-9)
	assert.InDelta(t, 100.0, ratioMatch(0.3, 0.3), 1e-9)
	assert.Equal(t, 0.0, ratioMatch(0, 0))
}
