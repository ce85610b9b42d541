package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krichev/karaoke/internal/types"
)

// wavBytes builds a minimal RIFF/WAVE file around raw PCM frames.
func wavBytes(t *testing.T, sampleRate, channels, bitDepth int, samples []int) []byte {
	t.Helper()

	bytesPerSample := bitDepth / 8
	dataLen := len(samples) * bytesPerSample

	var body bytes.Buffer
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(16))
	binary.Write(&body, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&body, binary.LittleEndian, uint16(channels))
	binary.Write(&body, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&body, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample))
	binary.Write(&body, binary.LittleEndian, uint16(channels*bytesPerSample))
	binary.Write(&body, binary.LittleEndian, uint16(bitDepth))
	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		switch bitDepth {
		case 8:
			body.WriteByte(byte(s))
		case 16:
			binary.Write(&body, binary.LittleEndian, int16(s))
		default:
			t.Fatalf("unsupported test bit depth %d", bitDepth)
		}
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDecodeWAV16BitMono(t *testing.T) {
	samples := []int{0, 16384, -16384, 32767, -32768}
	data := wavBytes(t, 44100, 1, 16, samples)

	dec := NewDecoder(nil)
	buf, err := dec.Decode(types.FromBytes(data, "audio/wav"))
	require.NoError(t, err)

	assert.Equal(t, 44100, buf.SampleRate)
	assert.Equal(t, 1, buf.Channels)
	require.Len(t, buf.Samples, len(samples))
	assert.InDelta(t, 0.0, buf.Samples[0], 1e-9)
	assert.InDelta(t, 0.5, buf.Samples[1], 1e-9)
	assert.InDelta(t, -0.5, buf.Samples[2], 1e-9)
	assert.InDelta(t, 1.0, buf.Samples[3], 1e-4)
	assert.InDelta(t, -1.0, buf.Samples[4], 1e-9)
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// L=16384, R=0 per frame: mono mean is 0.25.
	samples := []int{16384, 0, 16384, 0}
	data := wavBytes(t, 22050, 2, 16, samples)

	dec := NewDecoder(nil)
	buf, err := dec.Decode(types.FromBytes(data, "audio/wav"))
	require.NoError(t, err)

	assert.Equal(t, 2, buf.Channels)
	require.Len(t, buf.Samples, 2)
	assert.InDelta(t, 0.25, buf.Samples[0], 1e-9)
}

func TestDecodeWAVFromPath(t *testing.T) {
	n := 4410
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(16000 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, os.WriteFile(path, wavBytes(t, 44100, 1, 16, samples), 0o644))

	dec := NewDecoder(nil)
	buf, err := dec.Decode(types.FromPath(path))
	require.NoError(t, err)
	assert.Equal(t, 44100, buf.SampleRate)
	assert.Len(t, buf.Samples, n)
}

func TestDecodeRangeNormalized(t *testing.T) {
	samples := make([]int, 1000)
	for i := range samples {
		samples[i] = int(32767 * math.Sin(2*math.Pi*float64(i)/100))
	}
	data := wavBytes(t, 44100, 1, 16, samples)

	dec := NewDecoder(nil)
	buf, err := dec.Decode(types.FromBytes(data, "audio/wav"))
	require.NoError(t, err)

	for i, s := range buf.Samples {
		require.GreaterOrEqual(t, s, -1.0, "sample %d", i)
		require.LessOrEqual(t, s, 1.0, "sample %d", i)
	}
}

func TestDecodeEmptySource(t *testing.T) {
	dec := NewDecoder(nil)
	_, err := dec.Decode(types.FromBytes(nil, "audio/wav"))
	assert.ErrorIs(t, err, types.ErrAudioDecode)
}

func TestDecodeGarbage(t *testing.T) {
	dec := NewDecoder(nil)
	_, err := dec.Decode(types.FromBytes([]byte("not audio at all, sorry"), ""))
	assert.ErrorIs(t, err, types.ErrAudioDecode)
}

func TestDecodeMissingFile(t *testing.T) {
	dec := NewDecoder(nil)
	_, err := dec.Decode(types.FromPath("/nonexistent/take.wav"))
	assert.ErrorIs(t, err, types.ErrAudioDecode)
}

func TestDecodeOversizeSource(t *testing.T) {
	dec := NewDecoder(nil)
	_, err := dec.Decode(types.FromBytes(make([]byte, types.MaxSourceBytes+1), "audio/wav"))
	assert.ErrorIs(t, err, types.ErrAudioDecode)
}

func TestDecodeTruncatedWAV(t *testing.T) {
	data := wavBytes(t, 44100, 1, 16, []int{1, 2, 3, 4})
	dec := NewDecoder(nil)
	_, err := dec.Decode(types.FromBytes(data[:20], "audio/wav"))
	assert.ErrorIs(t, err, types.ErrAudioDecode)
}

func TestDetectFormatSniffing(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		hint string
		want format
	}{
		{"wav by content type", wavBytes(t, 44100, 1, 16, []int{0}), "audio/x-wav", formatWAV},
		{"wav by magic", wavBytes(t, 44100, 1, 16, []int{0}), "", formatWAV},
		{"ogg by magic", append([]byte("OggS"), make([]byte, 20)...), "", formatOgg},
		{"mp3 by id3 tag", append([]byte("ID3"), make([]byte, 20)...), "", formatMP3},
		{"mp3 by content type", []byte("xxxxxxxxxxxx"), "audio/mpeg", formatMP3},
		{"m4a by ftyp", append([]byte{0, 0, 0, 32}, append([]byte("ftypM4A "), make([]byte, 16)...)...), "", formatMP4},
		{"unknown", []byte("xxxxxxxxxxxxxxxx"), "", formatUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectFormat(tc.data, tc.hint))
		})
	}
}

func TestNormalizePCM8Bit(t *testing.T) {
	assert.InDelta(t, 0.0, normalizePCM(128, 8), 1e-9)
	assert.InDelta(t, -1.0, normalizePCM(0, 8), 1e-9)
	assert.InDelta(t, 0.9921875, normalizePCM(255, 8), 1e-9)
}
