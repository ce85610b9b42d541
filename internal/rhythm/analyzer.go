// Package rhythm extracts rhythm patterns from audio and scores user
// attempts against them.
package rhythm

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/dsp"
	"github.com/Krichev/karaoke/internal/fingerprint"
	"github.com/Krichev/karaoke/internal/onset"
	"github.com/Krichev/karaoke/internal/types"
)

// Analyzer runs the rhythm path: energy onsets, pattern normalization,
// and optional per-beat fingerprinting.
type Analyzer struct {
	logger  *slog.Logger
	decoder *audio.Decoder
	prints  *fingerprint.Extractor
}

// NewAnalyzer creates an analyzer. A nil logger uses slog.Default.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rhythm")
	return &Analyzer{
		logger:  logger,
		decoder: audio.NewDecoder(logger),
		prints:  fingerprint.NewExtractor(),
	}
}

// ExtractPattern detects onsets in the source and returns the normalized
// pattern. Fewer than 2 onsets yields a pattern with whatever was found
// and no intervals.
func (a *Analyzer) ExtractPattern(ctx context.Context, src types.PCMSource, silenceDB, minIntervalMs float64) (*types.RhythmPattern, error) {
	buf, err := a.decoder.Decode(src)
	if err != nil {
		return nil, err
	}
	return a.patternFromBuffer(ctx, buf, silenceDB, minIntervalMs)
}

// ExtractPatternWithFingerprints extracts the pattern and attaches a sound
// fingerprint per beat, enabling sound-similarity scoring.
func (a *Analyzer) ExtractPatternWithFingerprints(ctx context.Context, src types.PCMSource, silenceDB, minIntervalMs float64) (*types.RhythmPattern, error) {
	buf, err := a.decoder.Decode(src)
	if err != nil {
		return nil, err
	}

	pattern, err := a.patternFromBuffer(ctx, buf, silenceDB, minIntervalMs)
	if err != nil {
		return nil, err
	}

	absolute := make([]float64, len(pattern.OnsetTimesMs))
	for i, t := range pattern.OnsetTimesMs {
		absolute[i] = t + pattern.TrimmedStartMs
	}

	prints, err := a.prints.AtOnsets(ctx, buf, absolute)
	if err != nil {
		return nil, err
	}

	pattern.BeatFingerprints = prints
	pattern.SoundSimilarityEnabled = true
	return pattern, nil
}

func (a *Analyzer) patternFromBuffer(ctx context.Context, buf *audio.Buffer, silenceDB, minIntervalMs float64) (*types.RhythmPattern, error) {
	det := onset.NewEnergyDetector()
	det.SilenceThresholdDB = silenceDB
	det.MinOnsetIntervalMs = minIntervalMs

	onsets, err := det.Detect(ctx, buf)
	if err != nil {
		return nil, err
	}

	pattern := &types.RhythmPattern{
		Version:            types.PatternVersion,
		TimeSignature:      "4/4",
		TotalBeats:         uint32(len(onsets)),
		OriginalDurationMs: buf.DurationMs(),
		SilenceThresholdDB: silenceDB,
		MinOnsetIntervalMs: minIntervalMs,
		TimingWeight:       types.DefaultTimingWeight,
		SoundWeight:        types.DefaultSoundWeight,
	}

	if len(onsets) == 0 {
		a.logger.Debug("no onsets found", "durationMs", buf.DurationMs())
		return pattern, nil
	}

	pattern.TrimmedStartMs = onsets[0]
	pattern.TrimmedEndMs = onsets[len(onsets)-1]

	normalized := make([]float64, len(onsets))
	for i, t := range onsets {
		normalized[i] = t - onsets[0]
	}
	pattern.OnsetTimesMs = normalized

	if len(onsets) < 2 {
		return pattern, nil
	}

	intervals := make([]float64, len(normalized)-1)
	for i := 1; i < len(normalized); i++ {
		intervals[i-1] = normalized[i] - normalized[i-1]
	}
	pattern.IntervalsMs = intervals
	pattern.EstimatedBPM = estimateBPM(intervals)

	a.logger.Debug("extracted pattern",
		"beats", len(onsets),
		"bpm", pattern.EstimatedBPM,
		"spanMs", pattern.TrimmedEndMs-pattern.TrimmedStartMs,
	)
	return pattern, nil
}

// estimateBPM converts the mean beat interval to beats per minute.
func estimateBPM(intervalsMs []float64) uint32 {
	if len(intervalsMs) == 0 {
		return 0
	}
	var sum float64
	for _, iv := range intervalsMs {
		sum += iv
	}
	mean := sum / float64(len(intervalsMs))
	if mean <= 0 {
		return 0
	}
	return uint32(math.Round(60000.0 / mean))
}

// SoundOptions configures sound-similarity scoring on top of timing.
type SoundOptions struct {
	UserAudio    types.PCMSource
	TimingWeight float64
	SoundWeight  float64
}

// ScoreWithSoundSimilarity scores timing first, then compares per-beat
// timbre when the pattern carries fingerprints and user audio is present.
func (a *Analyzer) ScoreWithSoundSimilarity(ctx context.Context, ref *types.RhythmPattern, userOnsetsMs []float64, toleranceMs *float64, minScore *uint32, opts SoundOptions) (types.ScoringResult, error) {
	result := ScorePattern(ref, userOnsetsMs, toleranceMs, minScore)

	if !ref.SoundSimilarityEnabled || opts.UserAudio.IsZero() || len(ref.BeatFingerprints) == 0 {
		return result, nil
	}

	userBuf, err := a.decoder.Decode(opts.UserAudio)
	if err != nil {
		return result, err
	}
	userPrints, err := a.prints.AtOnsets(ctx, userBuf, userOnsetsMs)
	if err != nil {
		return result, err
	}

	timingWeight := opts.TimingWeight
	soundWeight := opts.SoundWeight
	if timingWeight <= 0 && soundWeight <= 0 {
		timingWeight = ref.TimingWeight
		soundWeight = ref.SoundWeight
	}

	details := make([]types.SoundComparisonDetail, 0, len(ref.BeatFingerprints))
	var soundSum float64
	for i, refPrint := range ref.BeatFingerprints {
		if i >= len(userPrints) {
			details = append(details, types.SoundComparisonDetail{
				BeatIndex:        i,
				Missed:           true,
				ReferenceQuality: refPrint.Quality(),
				Feedback:         "Beat missing from your attempt",
			})
			continue
		}
		d := compareBeat(i, refPrint, userPrints[i])
		soundSum += d.OverallSoundScore
		details = append(details, d)
	}

	soundScore := soundSum / float64(len(ref.BeatFingerprints))
	result.SoundDetails = details
	result.CombinedScore = timingWeight*result.OverallScore + soundWeight*soundScore
	if result.DetailedMetrics == nil {
		result.DetailedMetrics = map[string]any{}
	}
	result.DetailedMetrics["soundSimilarity"] = map[string]any{
		"soundScore":   soundScore,
		"timingWeight": timingWeight,
		"soundWeight":  soundWeight,
	}

	a.logger.Debug("sound similarity scored",
		"beats", len(details),
		"soundScore", soundScore,
		"combined", result.CombinedScore,
	)
	return result, nil
}

// compareBeat builds the per-beat timbre comparison.
func compareBeat(index int, ref, user types.SoundFingerprint) types.SoundComparisonDetail {
	mfccSim := (dsp.CosineSimilarity(ref.MFCC[:], user.MFCC[:]) + 1) / 2 * 100
	brightness := ratioMatch(ref.SpectralCentroidHz, user.SpectralCentroidHz)
	energy := ratioMatch(ref.RMSEnergy, user.RMSEnergy)
	overall := 0.6*mfccSim + 0.25*brightness + 0.15*energy

	return types.SoundComparisonDetail{
		BeatIndex:           index,
		MFCCSimilarity:      mfccSim,
		SpectralCentroidRef: ref.SpectralCentroidHz,
		SpectralCentroidUsr: user.SpectralCentroidHz,
		BrightnessMatch:     brightness,
		EnergyMatch:         energy,
		OverallSoundScore:   overall,
		UserQuality:         user.Quality(),
		ReferenceQuality:    ref.Quality(),
		Feedback:            beatFeedback(overall, ref.Quality(), user.Quality()),
	}
}

// ratioMatch maps two magnitudes to min/max as a percentage.
func ratioMatch(a, b float64) float64 {
	max := math.Max(a, b)
	if max <= 0 {
		return 0
	}
	return math.Min(a, b) / max * 100
}

func beatFeedback(score float64, ref, user types.SoundQuality) string {
	switch {
	case score >= 85:
		return "Great sound match"
	case score >= 65:
		return "Close, but the timbre drifts"
	case ref != user:
		return fmt.Sprintf("Reference sounds %s, yours sounds %s", ref, user)
	default:
		return "Sound does not match the reference"
	}
}
