// Package types provides shared type definitions used across the scoring engine.
package types

import (
	"math"
)

// Engine constants. These values are part of the scoring contract and must
// not drift between analysis of references and performances.
const (
	// DefaultSampleRate is the default analysis rate in Hz.
	DefaultSampleRate = 44100
	// BufferSize is the analysis window length in samples.
	BufferSize = 2048
	// MFCCCoefficients is the number of cepstral coefficients per frame.
	MFCCCoefficients = 13
	// NumMelFilters is the number of triangular mel filters.
	NumMelFilters = 40
	// MelLowHz is the lower edge of the mel filterbank.
	MelLowHz = 300.0
	// SegmentDurationMs is the fingerprint segment length after an onset.
	SegmentDurationMs = 150.0
	// PitchEqualToleranceSemitones is the deviation treated as a hit.
	PitchEqualToleranceSemitones = 0.5
	// OnsetEqualToleranceMs is the timing offset treated as on-time.
	OnsetEqualToleranceMs = 100.0
	// MinNoteDurationMs discards notes shorter than this.
	MinNoteDurationMs = 50.0
	// SilenceDefaultDB is the default silence floor for onset detection.
	SilenceDefaultDB = -40.0
	// HysteresisDB is how far the level must fall below the threshold to
	// leave the in-sound state.
	HysteresisDB = 6.0
	// RiseDB is the minimum dB jump over the previous window for a rising edge.
	RiseDB = 3.0
	// RolloffFraction is the cumulative-power fraction for spectral rolloff.
	RolloffFraction = 0.85
	// DefaultTimingWeight weights the timing score in combined rhythm scoring.
	DefaultTimingWeight = 0.7
	// DefaultSoundWeight weights the sound-similarity score.
	DefaultSoundWeight = 0.3
	// DefaultMinOnsetIntervalMs is the onset debounce interval.
	DefaultMinOnsetIntervalMs = 100.0
	// MaxSourceBytes caps in-memory audio sources at 50 MiB.
	MaxSourceBytes = 50 << 20
)

// NoteEvent is a single detected note. PitchHz <= 0 means silence/unvoiced.
type NoteEvent struct {
	OnsetMs    float64 `json:"onsetMs"`
	PitchHz    float64 `json:"pitchHz"`
	DurationMs float64 `json:"durationMs"`
	Amplitude  float64 `json:"amplitude"`
}

// Voiced reports whether the event carries a usable pitch.
func (n NoteEvent) Voiced() bool {
	return n.PitchHz > 0
}

// MIDI returns the nearest MIDI note number, or -1 for unvoiced events.
func (n NoteEvent) MIDI() int {
	if !n.Voiced() {
		return -1
	}
	return int(math.Round(69 + 12*math.Log2(n.PitchHz/440.0)))
}

// SemitonesTo returns the signed interval from n to other in semitones.
// The second return is false if either event is unvoiced.
func (n NoteEvent) SemitonesTo(other NoteEvent) (float64, bool) {
	if !n.Voiced() || !other.Voiced() {
		return 0, false
	}
	return 12 * math.Log2(other.PitchHz/n.PitchHz), true
}

// SoundQuality is a coarse timbre tag derived from a fingerprint.
type SoundQuality string

const (
	QualitySharp   SoundQuality = "SHARP"
	QualityMuffled SoundQuality = "MUFFLED"
	QualityClear   SoundQuality = "CLEAR"
)

// SoundFingerprint describes the timbre of one onset segment.
type SoundFingerprint struct {
	MFCC                [MFCCCoefficients]float64 `json:"mfcc"`
	SpectralCentroidHz  float64                   `json:"spectralCentroidHz"`
	SpectralRolloffHz   float64                   `json:"spectralRolloffHz"`
	ZeroCrossingRate    float64                   `json:"zeroCrossingRate"`
	RMSEnergy           float64                   `json:"rmsEnergy"`
	SpectralFlatness    float64                   `json:"spectralFlatness"`
	TransientDurationMs float64                   `json:"transientDurationMs"`
}

// Quality derives the coarse timbre tag: bright and busy segments read as
// SHARP, dull or sparse ones as MUFFLED, everything else as CLEAR.
func (f SoundFingerprint) Quality() SoundQuality {
	switch {
	case f.SpectralCentroidHz > 3500 && f.ZeroCrossingRate > 0.3:
		return QualitySharp
	case f.SpectralCentroidHz < 1500 || f.ZeroCrossingRate < 0.15:
		return QualityMuffled
	default:
		return QualityClear
	}
}

// IsZero reports whether the fingerprint is the empty-segment placeholder.
func (f SoundFingerprint) IsZero() bool {
	if f.SpectralCentroidHz != 0 || f.SpectralRolloffHz != 0 || f.ZeroCrossingRate != 0 ||
		f.RMSEnergy != 0 || f.SpectralFlatness != 0 || f.TransientDurationMs != 0 {
		return false
	}
	for _, c := range f.MFCC {
		if c != 0 {
			return false
		}
	}
	return true
}

// PatternVersion is the serialized RhythmPattern schema version.
const PatternVersion = 1

// RhythmPattern is an extracted, normalized reference rhythm.
// OnsetTimesMs always starts at 0; absolute times are recovered by adding
// TrimmedStartMs.
type RhythmPattern struct {
	Version                int                `json:"version"`
	OnsetTimesMs           []float64          `json:"onsetTimesMs"`
	IntervalsMs            []float64          `json:"intervalsMs"`
	EstimatedBPM           uint32             `json:"estimatedBpm"`
	TimeSignature          string             `json:"timeSignature"`
	TotalBeats             uint32             `json:"totalBeats"`
	TrimmedStartMs         float64            `json:"trimmedStartMs"`
	TrimmedEndMs           float64            `json:"trimmedEndMs"`
	OriginalDurationMs     float64            `json:"originalDurationMs"`
	SilenceThresholdDB     float64            `json:"silenceThresholdDb"`
	MinOnsetIntervalMs     float64            `json:"minOnsetIntervalMs"`
	BeatFingerprints       []SoundFingerprint `json:"beatFingerprints,omitempty"`
	SoundSimilarityEnabled bool               `json:"soundSimilarityEnabled"`
	TimingWeight           float64            `json:"timingWeight"`
	SoundWeight            float64            `json:"soundWeight"`
}

// MsPerBeat returns the mean beat interval, or 0 with no intervals.
func (p *RhythmPattern) MsPerBeat() float64 {
	if len(p.IntervalsMs) == 0 {
		return 0
	}
	var sum float64
	for _, iv := range p.IntervalsMs {
		sum += iv
	}
	return sum / float64(len(p.IntervalsMs))
}

// NearestBeat returns the index of the normalized onset closest to tMs,
// or -1 for an empty pattern.
func (p *RhythmPattern) NearestBeat(tMs float64) int {
	if len(p.OnsetTimesMs) == 0 {
		return -1
	}
	best := 0
	bestDiff := math.Abs(p.OnsetTimesMs[0] - tMs)
	for i := 1; i < len(p.OnsetTimesMs); i++ {
		d := math.Abs(p.OnsetTimesMs[i] - tMs)
		if d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// SoundComparisonDetail is the per-beat timbre comparison record.
type SoundComparisonDetail struct {
	BeatIndex           int          `json:"beatIndex"`
	MFCCSimilarity      float64      `json:"mfccSimilarity"`
	SpectralCentroidRef float64      `json:"spectralCentroidRef"`
	SpectralCentroidUsr float64      `json:"spectralCentroidUser"`
	BrightnessMatch     float64      `json:"brightnessMatch"`
	EnergyMatch         float64      `json:"energyMatch"`
	OverallSoundScore   float64      `json:"overallSoundScore"`
	UserQuality         SoundQuality `json:"userQuality"`
	ReferenceQuality    SoundQuality `json:"referenceQuality"`
	Missed              bool         `json:"missed,omitempty"`
	Feedback            string       `json:"feedback"`
}

// ScoringResult is the superset result record for every challenge type.
// Fields that a challenge does not produce stay at their zero value.
type ScoringResult struct {
	OverallScore     float64                 `json:"overallScore"`
	PitchScore       float64                 `json:"pitchScore"`
	RhythmScore      float64                 `json:"rhythmScore"`
	VoiceScore       float64                 `json:"voiceScore"`
	CombinedScore    float64                 `json:"combinedScore"`
	PerBeatScores    []float64               `json:"perBeatScores,omitempty"`
	TimingErrorsMs   []float64               `json:"timingErrorsMs,omitempty"`
	AbsoluteErrorsMs []float64               `json:"absoluteErrorsMs,omitempty"`
	PerfectBeats     int                     `json:"perfectBeats"`
	GoodBeats        int                     `json:"goodBeats"`
	MissedBeats      int                     `json:"missedBeats"`
	AverageErrorMs   float64                 `json:"averageErrorMs"`
	MaxErrorMs       float64                 `json:"maxErrorMs"`
	ConsistencyScore float64                 `json:"consistencyScore"`
	Passed           bool                    `json:"passed"`
	Feedback         string                  `json:"feedback"`
	SoundDetails     []SoundComparisonDetail `json:"soundDetails,omitempty"`
	DetailedMetrics  map[string]any          `json:"detailedMetrics,omitempty"`
}

// ChallengeType selects the metric blend for a scoring request.
type ChallengeType string

const (
	ChallengeSinging        ChallengeType = "SINGING"
	ChallengeSoundMatch     ChallengeType = "SOUND_MATCH"
	ChallengeRhythmRepeat   ChallengeType = "RHYTHM_REPEAT"
	ChallengeRhythmCreation ChallengeType = "RHYTHM_CREATION"
)

// ParseChallenge maps a request string onto a challenge type.
// Unknown values fall back to SINGING.
func ParseChallenge(s string) ChallengeType {
	switch ChallengeType(s) {
	case ChallengeSoundMatch:
		return ChallengeSoundMatch
	case ChallengeRhythmRepeat:
		return ChallengeRhythmRepeat
	case ChallengeRhythmCreation:
		return ChallengeRhythmCreation
	default:
		return ChallengeSinging
	}
}

// PCMSource is an audio input: either a filesystem path or raw encoded bytes
// with a content type.
type PCMSource struct {
	Path        string
	Data        []byte
	ContentType string
}

// FromPath wraps a filesystem path as a source.
func FromPath(path string) PCMSource {
	return PCMSource{Path: path}
}

// FromBytes wraps an in-memory encoded buffer as a source.
func FromBytes(data []byte, contentType string) PCMSource {
	return PCMSource{Data: data, ContentType: contentType}
}

// IsZero reports whether the source carries no input at all.
func (s PCMSource) IsZero() bool {
	return s.Path == "" && len(s.Data) == 0
}

// ReferenceBundle is everything known about the reference performance.
// NoteEvents is preferred; PitchValues is the legacy shape sampled at
// PitchIntervalMs (100 ms when unset).
type ReferenceBundle struct {
	NoteEvents      []NoteEvent
	PitchValues     []float64
	PitchIntervalMs float64
	Audio           PCMSource
	RhythmPattern   *RhythmPattern
}

// ScoreOptions carries per-request tuning for a scoring call.
type ScoreOptions struct {
	// AnalysisRate records the sample rate a reference analyzed elsewhere
	// was processed at. The engine does not read it: MFCC and note
	// extraction use each decoded buffer's own sample rate.
	AnalysisRate int
	ToleranceMs  *float64
	MinScore     *uint32
	TimingWeight float64
	SoundWeight  float64
}

// ProgressFunc receives orchestrator progress reports.
type ProgressFunc func(progress uint8, message string)
