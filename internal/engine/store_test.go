package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krichev/karaoke/internal/types"
)

func testPattern() *types.RhythmPattern {
	return &types.RhythmPattern{
		Version:       types.PatternVersion,
		TimeSignature: "4/4",
		OnsetTimesMs:  []float64{0, 500, 1000},
		IntervalsMs:   []float64{500, 500},
		EstimatedBPM:  120,
		TotalBeats:    3,
		TimingWeight:  types.DefaultTimingWeight,
		SoundWeight:   types.DefaultSoundWeight,
	}
}

func TestPatternStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	source := filepath.Join(dir, "reference.wav")
	require.NoError(t, os.WriteFile(source, []byte("fake audio bytes"), 0o644))

	store, err := NewPatternStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(source, testPattern()))

	// A fresh store instance reads the persisted file.
	reopened, err := NewPatternStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	got, ok := reopened.Get(source)
	require.True(t, ok)
	assert.Equal(t, uint32(120), got.EstimatedBPM)
	assert.Equal(t, []float64{0, 500, 1000}, got.OnsetTimesMs)
}

func TestPatternStoreMissRebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "reference.wav")
	require.NoError(t, os.WriteFile(source, []byte("original content"), 0o644))

	store, err := NewPatternStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(source, testPattern()))

	_, ok := store.Get(source)
	require.True(t, ok)

	// Rewrite the source: the hash no longer matches.
	require.NoError(t, os.WriteFile(source, []byte("different content!!"), 0o644))
	_, ok = store.Get(source)
	assert.False(t, ok)
}

func TestPatternStoreUnknownPath(t *testing.T) {
	store, err := NewPatternStore(t.TempDir())
	require.NoError(t, err)

	_, ok := store.Get("/never/stored.wav")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}
