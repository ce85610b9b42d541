package rhythm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krichev/karaoke/internal/types"
)

func pattern(onsets []float64) *types.RhythmPattern {
	p := &types.RhythmPattern{
		Version:       types.PatternVersion,
		TimeSignature: "4/4",
		TotalBeats:    uint32(len(onsets)),
		OnsetTimesMs:  onsets,
		TimingWeight:  types.DefaultTimingWeight,
		SoundWeight:   types.DefaultSoundWeight,
	}
	if len(onsets) >= 2 {
		p.IntervalsMs = make([]float64, len(onsets)-1)
		for i := 1; i < len(onsets); i++ {
			p.IntervalsMs[i-1] = onsets[i] - onsets[i-1]
		}
		p.EstimatedBPM = estimateBPM(p.IntervalsMs)
	}
	return p
}

func tol(v float64) *float64 { return &v }

func TestScorePatternPerfectMatch(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	result := ScorePattern(ref, []float64{0, 500, 1000, 1500}, tol(150), nil)

	assert.Equal(t, 100.0, result.OverallScore)
	assert.Equal(t, 4, result.PerfectBeats)
	assert.Equal(t, 0, result.MissedBeats)
	assert.True(t, result.Passed)
}

func TestScorePatternUniformlyLate(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	// Every beat shifted by the same 1050 ms; normalizing to the first
	// user beat removes a uniform shift entirely.
	result := ScorePattern(ref, []float64{1050, 1550, 2050, 2550}, tol(150), nil)

	// Normalized user onsets equal the reference exactly.
	assert.InDelta(t, 100.0, result.OverallScore, 1e-9)
}

func TestScorePatternConstantOffsetAfterFirstBeat(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	// First beat on time, the rest 50 ms late.
	result := ScorePattern(ref, []float64{0, 550, 1050, 1550}, tol(150), nil)

	want := 100 * math.Exp(-50.0/150.0)
	require.Len(t, result.PerBeatScores, 4)
	assert.InDelta(t, 100.0, result.PerBeatScores[0], 1e-9)
	for i := 1; i < 4; i++ {
		assert.InDelta(t, want, result.PerBeatScores[i], 1e-9, "beat %d", i)
	}
	// 50 ms is not strictly below the 50 ms perfect cutoff.
	assert.Equal(t, 1, result.PerfectBeats)
	assert.Equal(t, 3, result.GoodBeats)
	assert.Equal(t, 0, result.MissedBeats)
	assert.InDelta(t, (100+3*want)/4, result.OverallScore, 1e-9)
}

func TestScorePatternOneMissedBeat(t *testing.T) {
	// Spec scenario: user drops the third beat. Pairing by index puts
	// the last user beat 500 ms off, beyond max tolerance (250 ms).
	ref := pattern([]float64{0, 500, 1000, 1500})
	result := ScorePattern(ref, []float64{0, 500, 1500}, tol(150), nil)

	assert.Equal(t, 1, result.MissedBeats)
	// mean(100, 100, 0) - 5 penalty for the count mismatch.
	assert.InDelta(t, 61.666666, result.OverallScore, 1e-3)
}

func TestScorePatternMissingBeatMonotonicity(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	full := ScorePattern(ref, []float64{0, 500, 1000, 1500}, tol(150), nil)
	dropped := ScorePattern(ref, []float64{0, 500, 1500}, tol(150), nil)

	assert.GreaterOrEqual(t, dropped.MissedBeats, 1)
	assert.LessOrEqual(t, dropped.OverallScore, full.OverallScore)
}

func TestScorePatternDerivedTolerance(t *testing.T) {
	// Mean interval 600 ms: tolerance = min(150, 200) = 150, max 300.
	ref := pattern([]float64{0, 600, 1200})
	result := ScorePattern(ref, []float64{0, 700, 1300}, nil, nil)

	want := 100 * math.Exp(-100.0/150.0)
	require.Len(t, result.PerBeatScores, 3)
	assert.InDelta(t, want, result.PerBeatScores[1], 1e-9)
}

func TestScorePatternMinScore(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	minScore := uint32(90)

	pass := ScorePattern(ref, []float64{0, 500, 1000, 1500}, tol(150), &minScore)
	assert.True(t, pass.Passed)

	fail := ScorePattern(ref, []float64{0, 700, 1200, 1700}, tol(150), &minScore)
	assert.False(t, fail.Passed)
}

func TestScorePatternInsufficientBeats(t *testing.T) {
	empty := &types.RhythmPattern{Version: types.PatternVersion, TimeSignature: "4/4"}
	result := ScorePattern(empty, []float64{0, 500}, nil, nil)

	assert.Equal(t, 0.0, result.OverallScore)
	assert.Equal(t, "Insufficient beats to score", result.Feedback)

	result = ScorePattern(pattern([]float64{0, 500}), nil, nil, nil)
	assert.Equal(t, "Insufficient beats to score", result.Feedback)
}

func TestScorePatternErrorStats(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000})
	result := ScorePattern(ref, []float64{0, 520, 1080}, tol(150), nil)

	require.Len(t, result.AbsoluteErrorsMs, 3)
	assert.InDelta(t, (0+20+80)/3.0, result.AverageErrorMs, 1e-9)
	assert.InDelta(t, 80.0, result.MaxErrorMs, 1e-9)
	assert.InDelta(t, 20.0, result.TimingErrorsMs[1], 1e-9)
}

func TestScorePatternFeedbackBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{95, scoreFeedback(95)},
		{80, scoreFeedback(80)},
		{65, scoreFeedback(65)},
		{45, scoreFeedback(45)},
		{10, scoreFeedback(10)},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		assert.NotEmpty(t, tc.want)
		seen[tc.want] = true
	}
	// Every bucket carries distinct feedback.
	assert.Len(t, seen, 5)
}

func TestScorePatternDetailedMetricsKeys(t *testing.T) {
	ref := pattern([]float64{0, 500, 1000, 1500})
	result := ScorePattern(ref, []float64{0, 500, 1000, 1500}, tol(150), nil)

	require.NotNil(t, result.DetailedMetrics)
	require.Contains(t, result.DetailedMetrics, "referencePattern")
	require.Contains(t, result.DetailedMetrics, "userPattern")
	require.Contains(t, result.DetailedMetrics, "scoring")

	refMeta := result.DetailedMetrics["referencePattern"].(map[string]any)
	assert.Equal(t, uint32(4), refMeta["totalBeats"])
	assert.Equal(t, "4/4", refMeta["timeSignature"])

	scoring := result.DetailedMetrics["scoring"].(map[string]any)
	assert.Contains(t, scoring, "overallScore")
	assert.Contains(t, scoring, "consistencyScore")
	assert.Contains(t, scoring, "feedback")
}

func TestIntervalConsistencySteadyBeats(t *testing.T) {
	steady := intervalConsistency([]float64{0, 500, 1000, 1500, 2000})
	assert.InDelta(t, 100.0, steady, 1e-9)

	jittery := intervalConsistency([]float64{0, 300, 1000, 1200, 2000})
	assert.Less(t, jittery, steady)
}

func TestEstimateBPM(t *testing.T) {
	assert.Equal(t, uint32(120), estimateBPM([]float64{500, 500, 500}))
	assert.Equal(t, uint32(60), estimateBPM([]float64{1000}))
	assert.Equal(t, uint32(0), estimateBPM(nil))
}
