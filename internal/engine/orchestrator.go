// Package engine drives the per-performance pipeline: decode, analyze,
// score, with progress reporting, plus the bounded scoring pool and the
// local pattern store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Krichev/karaoke/internal/audio"
	"github.com/Krichev/karaoke/internal/config"
	"github.com/Krichev/karaoke/internal/dsp"
	"github.com/Krichev/karaoke/internal/notes"
	"github.com/Krichev/karaoke/internal/onset"
	"github.com/Krichev/karaoke/internal/rhythm"
	"github.com/Krichev/karaoke/internal/scoring"
	"github.com/Krichev/karaoke/internal/types"
)

// State is the lifecycle of one performance.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Progress milestones and their literal messages, reported in order.
var progressSteps = []struct {
	percent uint8
	message string
}{
	{10, "Analyzing audio..."},
	{30, "Extracting voice features..."},
	{50, "Loading reference data..."},
	{60, "Processing reference voice features..."},
	{70, "Calculating scores..."},
	{80, "Finalizing..."},
	{100, "Processing completed successfully"},
}

// ScoreRequest is one performance to score.
type ScoreRequest struct {
	Audio     types.PCMSource
	Reference types.ReferenceBundle
	Challenge types.ChallengeType
	Opts      types.ScoreOptions
}

// Orchestrator runs the synchronous scoring pipeline. It holds no mutable
// state and is safe for concurrent use.
type Orchestrator struct {
	logger  *slog.Logger
	cfg     *config.Config
	decoder *audio.Decoder
	rhythm  *rhythm.Analyzer
	notes   *notes.Extractor
}

// NewOrchestrator creates an orchestrator. A nil config uses the defaults;
// a nil logger uses slog.Default.
func NewOrchestrator(logger *slog.Logger, cfg *config.Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Orchestrator{
		logger:  logger.With("component", "orchestrator"),
		cfg:     cfg,
		decoder: audio.NewDecoder(logger),
		rhythm:  rhythm.NewAnalyzer(logger),
		notes:   notes.NewExtractor(),
	}
}

// Score runs the full pipeline for one performance. Decode and internal
// errors propagate; insufficient or misaligned inputs come back as graded
// zero-score results inside a nil-error return.
func (o *Orchestrator) Score(ctx context.Context, req ScoreRequest, progress types.ProgressFunc) (types.ScoringResult, error) {
	report := func(step int) {
		if progress != nil {
			progress(progressSteps[step].percent, progressSteps[step].message)
		}
	}

	report(0) // Analyzing audio...
	userBuf, err := o.decoder.Decode(req.Audio)
	if err != nil {
		return types.ScoringResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.ScoringResult{}, types.ErrCancelled
	}

	scReq := scoring.Request{
		Challenge: req.Challenge,
		UserAudio: req.Audio,
		Opts:      req.Opts,
	}

	rhythmChallenge := req.Challenge == types.ChallengeRhythmRepeat || req.Challenge == types.ChallengeRhythmCreation

	if rhythmChallenge {
		det := onset.NewEnergyDetector()
		det.SilenceThresholdDB = o.cfg.Analysis.SilenceThresholdDB
		det.MinOnsetIntervalMs = o.cfg.Analysis.MinOnsetIntervalMs
		scReq.UserOnsetsMs, err = det.Detect(ctx, userBuf)
		if err != nil {
			return types.ScoringResult{}, err
		}
	} else {
		scReq.UserNotes, err = o.notes.Extract(ctx, userBuf)
		if err != nil {
			return types.ScoringResult{}, err
		}
	}

	report(1) // Extracting voice features...
	if !rhythmChallenge {
		scReq.UserMFCC, err = dsp.ExtractMFCC(ctx, userBuf, o.cfg.Analysis.BufferSize)
		if err != nil {
			return types.ScoringResult{}, err
		}
	}
	// The user buffer is not needed past this point; release it before
	// reference analysis doubles the footprint.
	userBuf = nil

	report(2) // Loading reference data...
	scReq.RefNotes = referenceNotes(req.Reference)
	scReq.RefPattern = req.Reference.RhythmPattern

	report(3) // Processing reference voice features...
	if !rhythmChallenge && !req.Reference.Audio.IsZero() {
		refBuf, err := o.decoder.Decode(req.Reference.Audio)
		if err != nil {
			return types.ScoringResult{}, err
		}
		if len(scReq.RefNotes) == 0 {
			scReq.RefNotes, err = o.notes.Extract(ctx, refBuf)
			if err != nil {
				return types.ScoringResult{}, err
			}
		}
		scReq.RefMFCC, err = dsp.ExtractMFCC(ctx, refBuf, o.cfg.Analysis.BufferSize)
		if err != nil {
			return types.ScoringResult{}, err
		}
	}

	report(4) // Calculating scores...
	result := scoring.Dispatch(ctx, o.rhythm, scReq)

	report(5) // Finalizing...
	if err := ctx.Err(); err != nil {
		return types.ScoringResult{}, types.ErrCancelled
	}

	report(6) // Processing completed successfully
	o.logger.Info("performance scored",
		"challenge", req.Challenge,
		"overall", result.OverallScore,
		"passed", result.Passed,
	)
	return result, nil
}

// ExtractRhythmPattern extracts a reference pattern, optionally with
// per-beat fingerprints.
func (o *Orchestrator) ExtractRhythmPattern(ctx context.Context, src types.PCMSource, silenceDB, minIntervalMs float64, withFingerprints bool) (*types.RhythmPattern, error) {
	if withFingerprints {
		return o.rhythm.ExtractPatternWithFingerprints(ctx, src, silenceDB, minIntervalMs)
	}
	return o.rhythm.ExtractPattern(ctx, src, silenceDB, minIntervalMs)
}

// ScoreRhythmPattern scores user onsets against an extracted pattern,
// adding sound similarity when user audio is supplied.
func (o *Orchestrator) ScoreRhythmPattern(ctx context.Context, pattern *types.RhythmPattern, userOnsetsMs []float64, opts types.ScoreOptions, userAudio types.PCMSource) (types.ScoringResult, error) {
	if userAudio.IsZero() {
		return rhythm.ScorePattern(pattern, userOnsetsMs, opts.ToleranceMs, opts.MinScore), nil
	}
	return o.rhythm.ScoreWithSoundSimilarity(ctx, pattern, userOnsetsMs, opts.ToleranceMs, opts.MinScore, rhythm.SoundOptions{
		UserAudio:    userAudio,
		TimingWeight: opts.TimingWeight,
		SoundWeight:  opts.SoundWeight,
	})
}

// referenceNotes resolves the reference note list, converting the legacy
// pitch-array shape when that is all the bundle carries.
func referenceNotes(ref types.ReferenceBundle) []types.NoteEvent {
	if len(ref.NoteEvents) > 0 {
		return ref.NoteEvents
	}
	if len(ref.PitchValues) > 0 {
		return notes.FromPitchValues(ref.PitchValues, ref.PitchIntervalMs)
	}
	return nil
}

// FailureMessage renders the persisted processing message for an error.
func FailureMessage(err error) string {
	if errors.Is(err, types.ErrCancelled) {
		return "Processing cancelled"
	}
	return fmt.Sprintf("Processing failed: %v", err)
}
