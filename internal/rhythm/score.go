package rhythm

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Krichev/karaoke/internal/types"
)

const (
	// perfectBeatMs classifies a beat as perfect below this absolute error.
	perfectBeatMs = 50.0
	// goodBeatMs classifies a beat as good below this absolute error.
	goodBeatMs = 150.0
	// defaultIntervalMs stands in for the mean interval of patterns
	// without intervals.
	defaultIntervalMs = 500.0
	// maxDefaultToleranceMs caps the derived per-beat tolerance.
	maxDefaultToleranceMs = 150.0
	// missedBeatPenalty is subtracted per beat-count mismatch.
	missedBeatPenalty = 5.0
)

// ScorePattern scores user onsets against a reference pattern beat by
// beat. User onsets are normalized to their own first beat; each pair is
// scored on an exponential tolerance curve and mismatched beat counts are
// penalized.
func ScorePattern(ref *types.RhythmPattern, userOnsetsMs []float64, toleranceMs *float64, minScore *uint32) types.ScoringResult {
	if len(ref.OnsetTimesMs) == 0 || len(userOnsetsMs) == 0 {
		return insufficientResult(ref, userOnsetsMs, minScore)
	}

	user := normalize(userOnsetsMs)

	avgInterval := defaultIntervalMs
	if len(ref.IntervalsMs) > 0 {
		avgInterval = stat.Mean(ref.IntervalsMs, nil)
	}

	tolerance := math.Min(maxDefaultToleranceMs, avgInterval/3)
	if toleranceMs != nil {
		tolerance = *toleranceMs
	}
	maxTolerance := avgInterval / 2

	paired := len(ref.OnsetTimesMs)
	if len(user) < paired {
		paired = len(user)
	}

	beatScores := make([]float64, 0, paired)
	timingErrors := make([]float64, 0, paired)
	absErrors := make([]float64, 0, paired)
	var perfect, good, missed int

	for i := 0; i < paired; i++ {
		err := user[i] - ref.OnsetTimesMs[i]
		absErr := math.Abs(err)
		timingErrors = append(timingErrors, err)
		absErrors = append(absErrors, absErr)

		if absErr >= maxTolerance {
			beatScores = append(beatScores, 0)
			missed++
			continue
		}

		beatScores = append(beatScores, 100*math.Exp(-absErr/tolerance))
		switch {
		case absErr < perfectBeatMs:
			perfect++
		case absErr < goodBeatMs:
			good++
		}
	}

	countDiff := len(ref.OnsetTimesMs) - len(user)
	if countDiff < 0 {
		countDiff = -countDiff
	}
	penalty := missedBeatPenalty * float64(countDiff)

	overall := math.Max(0, stat.Mean(beatScores, nil)-penalty)

	var avgErr, maxErr float64
	if len(absErrors) > 0 {
		avgErr = stat.Mean(absErrors, nil)
		for _, e := range absErrors {
			if e > maxErr {
				maxErr = e
			}
		}
	}

	result := types.ScoringResult{
		OverallScore:     overall,
		RhythmScore:      overall,
		PerBeatScores:    beatScores,
		TimingErrorsMs:   timingErrors,
		AbsoluteErrorsMs: absErrors,
		PerfectBeats:     perfect,
		GoodBeats:        good,
		MissedBeats:      missed,
		AverageErrorMs:   avgErr,
		MaxErrorMs:       maxErr,
		ConsistencyScore: intervalConsistency(user),
		Passed:           minScore == nil || overall >= float64(*minScore),
		Feedback:         scoreFeedback(overall),
	}
	result.DetailedMetrics = rhythmMetrics(ref, user, result)
	return result
}

// insufficientResult is the degraded zero result for inputs with too few
// beats to pair.
func insufficientResult(ref *types.RhythmPattern, user []float64, minScore *uint32) types.ScoringResult {
	result := types.ScoringResult{
		Passed:   minScore == nil,
		Feedback: "Insufficient beats to score",
	}
	result.DetailedMetrics = rhythmMetrics(ref, normalize(user), result)
	return result
}

// normalize shifts onsets so the first lands at zero.
func normalize(onsets []float64) []float64 {
	if len(onsets) == 0 {
		return nil
	}
	out := make([]float64, len(onsets))
	for i, t := range onsets {
		out[i] = t - onsets[0]
	}
	return out
}

// intervalConsistency scores how evenly spaced the user's beats are:
// 100·(1 − 2σ/μ) over the user intervals, clamped to [0, 100].
func intervalConsistency(onsets []float64) float64 {
	if len(onsets) < 3 {
		return 0
	}
	intervals := make([]float64, len(onsets)-1)
	for i := 1; i < len(onsets); i++ {
		intervals[i-1] = onsets[i] - onsets[i-1]
	}

	mean := stat.Mean(intervals, nil)
	if mean <= 0 {
		return 0
	}
	sigma := math.Sqrt(stat.PopVariance(intervals, nil))
	return math.Max(0, math.Min(100, 100*(1-2*sigma/mean)))
}

func scoreFeedback(score float64) string {
	switch {
	case score >= 90:
		return "Excellent rhythm! You nailed the pattern."
	case score >= 75:
		return "Great job! Your timing is solid."
	case score >= 60:
		return "Good attempt, keep practicing the tricky beats."
	case score >= 40:
		return "Getting there. Focus on matching the beat spacing."
	default:
		return "Keep practicing. Try tapping along with the reference first."
	}
}

// rhythmMetrics builds the persisted rhythm sub-object with stable keys.
func rhythmMetrics(ref *types.RhythmPattern, user []float64, result types.ScoringResult) map[string]any {
	userBPM := uint32(0)
	if len(user) >= 2 {
		intervals := make([]float64, len(user)-1)
		for i := 1; i < len(user); i++ {
			intervals[i-1] = user[i] - user[i-1]
		}
		userBPM = estimateBPM(intervals)
	}

	return map[string]any{
		"referencePattern": map[string]any{
			"totalBeats":    ref.TotalBeats,
			"estimatedBpm":  ref.EstimatedBPM,
			"timeSignature": ref.TimeSignature,
		},
		"userPattern": map[string]any{
			"totalBeats":    len(user),
			"estimatedBpm":  userBPM,
			"timeSignature": "4/4",
		},
		"scoring": map[string]any{
			"overallScore":     result.OverallScore,
			"dtwScore":         CompareRhythms(user, ref.OnsetTimesMs),
			"perfectBeats":     result.PerfectBeats,
			"goodBeats":        result.GoodBeats,
			"missedBeats":      result.MissedBeats,
			"averageErrorMs":   result.AverageErrorMs,
			"maxErrorMs":       result.MaxErrorMs,
			"consistencyScore": result.ConsistencyScore,
			"feedback":         result.Feedback,
		},
	}
}
