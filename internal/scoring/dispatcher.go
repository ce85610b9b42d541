package scoring

import (
	"context"
	"math"

	"github.com/Krichev/karaoke/internal/rhythm"
	"github.com/Krichev/karaoke/internal/types"
)

// Request carries the analyzed inputs for one scoring call. Fields a
// challenge does not use may stay empty.
type Request struct {
	Challenge    types.ChallengeType
	UserNotes    []types.NoteEvent
	RefNotes     []types.NoteEvent
	UserMFCC     [][]float64
	RefMFCC      [][]float64
	UserOnsetsMs []float64
	RefPattern   *types.RhythmPattern
	UserAudio    types.PCMSource
	Opts         types.ScoreOptions
}

// Dispatch routes the request to the metric blend for its challenge type.
// Unknown challenge strings score as SINGING. Downstream failures are
// caught and re-emitted as a zero-score result carrying the error text.
func Dispatch(ctx context.Context, analyzer *rhythm.Analyzer, req Request) types.ScoringResult {
	var result types.ScoringResult

	switch req.Challenge {
	case types.ChallengeRhythmRepeat:
		result = dispatchRhythmRepeat(ctx, analyzer, req)
	case types.ChallengeRhythmCreation:
		result = dispatchRhythmCreation(req)
	case types.ChallengeSoundMatch:
		result = dispatchNoteBlend(req, BlendSoundMatch)
	default:
		result = dispatchNoteBlend(req, BlendSinging)
	}

	return finalize(result)
}

// dispatchNoteBlend covers the singing and sound-match challenges, which
// share the pitch/rhythm/voice component scores and differ only in
// weighting.
func dispatchNoteBlend(req Request, blend func(pitch, rhythm, voice float64) float64) types.ScoringResult {
	pitchScore, err := PitchScoreSemitones(req.UserNotes, req.RefNotes)
	if err != nil {
		return errorResult(err)
	}
	rhythmScore, err := RhythmScoreOnsets(req.UserNotes, req.RefNotes)
	if err != nil {
		return errorResult(err)
	}

	// Voice similarity needs reference audio; without it the component
	// contributes zero rather than failing the whole request.
	var voiceScore float64
	if len(req.UserMFCC) > 0 && len(req.RefMFCC) > 0 {
		voiceScore, err = VoiceSimilarityMFCC(req.UserMFCC, req.RefMFCC)
		if err != nil {
			return errorResult(err)
		}
	}

	overall := blend(pitchScore, rhythmScore, voiceScore)

	return types.ScoringResult{
		OverallScore:    overall,
		PitchScore:      pitchScore,
		RhythmScore:     rhythmScore,
		VoiceScore:      voiceScore,
		Passed:          true,
		Feedback:        noteFeedback(overall),
		DetailedMetrics: DetailedMetrics(req.UserNotes, req.RefNotes, req.UserMFCC, req.RefMFCC, voiceScore, overall),
	}
}

func dispatchRhythmRepeat(ctx context.Context, analyzer *rhythm.Analyzer, req Request) types.ScoringResult {
	if req.RefPattern == nil {
		return errorResult(types.ErrInsufficient)
	}

	result, err := analyzer.ScoreWithSoundSimilarity(ctx, req.RefPattern, req.UserOnsetsMs,
		req.Opts.ToleranceMs, req.Opts.MinScore, rhythm.SoundOptions{
			UserAudio:    req.UserAudio,
			TimingWeight: req.Opts.TimingWeight,
			SoundWeight:  req.Opts.SoundWeight,
		})
	if err != nil {
		return errorResult(err)
	}

	// With fingerprints the combined timing+sound score is authoritative.
	if len(result.SoundDetails) > 0 {
		result.OverallScore = result.CombinedScore
	}
	return result
}

func dispatchRhythmCreation(req Request) types.ScoringResult {
	consistency := rhythm.AnalyzeConsistency(req.UserOnsetsMs, 0)
	creativity := rhythm.AnalyzeCreativity(req.UserOnsetsMs)
	overall := BlendRhythmCreation(consistency, creativity)

	return types.ScoringResult{
		OverallScore:     overall,
		ConsistencyScore: consistency,
		Passed:           true,
		Feedback:         noteFeedback(overall),
		DetailedMetrics: map[string]any{
			"consistencyScore": consistency,
			"creativityScore":  creativity,
			"overallScore":     overall,
		},
	}
}

// errorResult is the zero-score shape returned for caught failures.
func errorResult(err error) types.ScoringResult {
	return types.ScoringResult{
		Feedback:        "Scoring failed",
		DetailedMetrics: map[string]any{"error": err.Error()},
	}
}

// finalize clamps every score field and converts NaN leaks into an error
// result rather than letting them reach the caller.
func finalize(r types.ScoringResult) types.ScoringResult {
	for _, v := range []float64{r.OverallScore, r.PitchScore, r.RhythmScore, r.VoiceScore, r.CombinedScore, r.ConsistencyScore} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errorResult(types.ErrInternal)
		}
	}

	r.OverallScore = clamp100(r.OverallScore)
	r.PitchScore = clamp100(r.PitchScore)
	r.RhythmScore = clamp100(r.RhythmScore)
	r.VoiceScore = clamp100(r.VoiceScore)
	r.CombinedScore = clamp100(r.CombinedScore)
	r.ConsistencyScore = clamp100(r.ConsistencyScore)
	return r
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func noteFeedback(score float64) string {
	switch {
	case score >= 90:
		return "Outstanding performance!"
	case score >= 75:
		return "Great performance, very close to the reference."
	case score >= 60:
		return "Good effort, a few sections drifted off."
	case score >= 40:
		return "Keep practicing, you're getting the shape of it."
	default:
		return "Rough start. Listen to the reference again and retry."
	}
}
