// Package scoring turns analyzed note, onset, and MFCC sequences into the
// per-challenge composite scores.
package scoring

import (
	"fmt"
	"math"

	"github.com/Krichev/karaoke/internal/dsp"
	"github.com/Krichev/karaoke/internal/types"
)

// Composite blend weights per challenge.
const (
	singingPitchWeight  = 0.50
	singingRhythmWeight = 0.30
	singingVoiceWeight  = 0.20

	soundMatchPitchWeight  = 0.50
	soundMatchVoiceWeight  = 0.40
	soundMatchRhythmWeight = 0.10

	creationConsistencyWeight = 0.70
	creationCreativityWeight  = 0.30
)

// PitchScoreSemitones compares pitches of index-paired notes. Deviations
// are measured in semitones; close pairs earn a bonus on top of the
// deviation penalty. It fails with ErrAlignment when no voiced pairs line
// up.
func PitchScoreSemitones(user, ref []types.NoteEvent) (float64, error) {
	k := len(user)
	if len(ref) < k {
		k = len(ref)
	}
	if k == 0 {
		return 0, fmt.Errorf("%w: no paired notes", types.ErrAlignment)
	}

	var devSum float64
	var hits, voiced int
	for i := 0; i < k; i++ {
		semis, ok := ref[i].SemitonesTo(user[i])
		if !ok {
			continue
		}
		dev := math.Abs(semis)
		devSum += dev
		voiced++
		if dev <= types.PitchEqualToleranceSemitones {
			hits++
		}
	}
	if voiced == 0 {
		return 0, fmt.Errorf("%w: no voiced pairs", types.ErrAlignment)
	}

	raw := 100 - 20*(devSum/float64(voiced))
	bonus := 20 * float64(hits) / float64(k)
	return dsp.Clamp(raw+bonus, 0, 100), nil
}

// RhythmScoreOnsets compares onset times of index-paired notes: a penalty
// on the mean absolute offset blended with the on-time fraction.
func RhythmScoreOnsets(user, ref []types.NoteEvent) (float64, error) {
	k := len(user)
	if len(ref) < k {
		k = len(ref)
	}
	if k == 0 {
		return 0, fmt.Errorf("%w: no paired notes", types.ErrAlignment)
	}

	var offSum float64
	var onTime int
	for i := 0; i < k; i++ {
		off := math.Abs(user[i].OnsetMs - ref[i].OnsetMs)
		offSum += off
		if off <= types.OnsetEqualToleranceMs {
			onTime++
		}
	}

	raw := 100 - offSum/float64(k)/10
	score := 0.7*raw + 30*float64(onTime)/float64(k)
	return dsp.Clamp(score, 0, 100), nil
}

// VoiceSimilarityMFCC maps the mean per-frame cosine similarity of
// index-paired MFCC vectors onto [0, 100].
func VoiceSimilarityMFCC(user, ref [][]float64) (float64, error) {
	k := len(user)
	if len(ref) < k {
		k = len(ref)
	}
	if k == 0 {
		return 0, fmt.Errorf("%w: no paired frames", types.ErrAlignment)
	}

	var sum float64
	for i := 0; i < k; i++ {
		sum += dsp.CosineSimilarity(user[i], ref[i])
	}
	mean := sum / float64(k)
	return (mean + 1) / 2 * 100, nil
}

// BlendSinging is the composite for the singing challenge.
func BlendSinging(pitch, rhythm, voice float64) float64 {
	return singingPitchWeight*pitch + singingRhythmWeight*rhythm + singingVoiceWeight*voice
}

// BlendSoundMatch is the composite for the sound-match challenge.
func BlendSoundMatch(pitch, rhythm, voice float64) float64 {
	return soundMatchPitchWeight*pitch + soundMatchVoiceWeight*voice + soundMatchRhythmWeight*rhythm
}

// BlendRhythmCreation is the composite for free rhythm creation.
func BlendRhythmCreation(consistency, creativity float64) float64 {
	return creationConsistencyWeight*consistency + creationCreativityWeight*creativity
}

// DetailedMetrics serializes the pitch/rhythm/voice sub-records with the
// stable keys the store contract requires.
func DetailedMetrics(user, ref []types.NoteEvent, userMFCC, refMFCC [][]float64, voiceScore, overall float64) map[string]any {
	k := len(user)
	if len(ref) < k {
		k = len(ref)
	}

	var devSum, maxDev float64
	var hits, voiced int
	var offSum, maxOff float64
	var onTime, early, late int
	for i := 0; i < k; i++ {
		if semis, ok := ref[i].SemitonesTo(user[i]); ok {
			dev := math.Abs(semis)
			devSum += dev
			voiced++
			if dev <= types.PitchEqualToleranceSemitones {
				hits++
			}
			if dev > maxDev {
				maxDev = dev
			}
		}

		off := user[i].OnsetMs - ref[i].OnsetMs
		abs := math.Abs(off)
		offSum += abs
		if abs > maxOff {
			maxOff = abs
		}
		switch {
		case abs <= types.OnsetEqualToleranceMs:
			onTime++
		case off < 0:
			early++
		default:
			late++
		}
	}

	var avgDev, accuracy, avgOff float64
	if voiced > 0 {
		avgDev = devSum / float64(voiced)
		accuracy = float64(hits) / float64(voiced) * 100
	}
	if k > 0 {
		avgOff = offSum / float64(k)
	}

	return map[string]any{
		"pitchAccuracy": map[string]any{
			"averageSemitoneDeviation": avgDev,
			"notesHitCorrectly":        hits,
			"totalNotes":               k,
			"accuracyPercentage":       accuracy,
			"maxDeviation":             maxDev,
		},
		"rhythmTiming": map[string]any{
			"averageTimingOffsetMs": avgOff,
			"onTimeNotesCount":      onTime,
			"earlyNotesCount":       early,
			"lateNotesCount":        late,
			"maxTimingErrorMs":      maxOff,
		},
		"voiceSimilarity": map[string]any{
			"mfccSimilarityScore":   voiceScore,
			"spectralDistance":      meanMFCCDistance(userMFCC, refMFCC),
			"timbreMatchPercentage": voiceScore,
		},
		"overallScore": overall,
	}
}

// meanMFCCDistance is the mean euclidean distance between index-paired
// MFCC frames.
func meanMFCCDistance(user, ref [][]float64) float64 {
	k := len(user)
	if len(ref) < k {
		k = len(ref)
	}
	if k == 0 {
		return 0
	}

	var total float64
	for i := 0; i < k; i++ {
		n := len(user[i])
		if len(ref[i]) < n {
			n = len(ref[i])
		}
		var sumSq float64
		for j := 0; j < n; j++ {
			d := user[i][j] - ref[i][j]
			sumSq += d * d
		}
		total += math.Sqrt(sumSq)
	}
	return total / float64(k)
}
