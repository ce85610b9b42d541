package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	gowav "github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Krichev/karaoke/internal/types"
)

// format identifies the container/codec of a source.
type format int

const (
	formatUnknown format = iota
	formatWAV
	formatMP3
	formatOgg
	formatMP4
	formatADTS
)

// Decoder converts encoded audio sources into normalized mono buffers.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a decoder. A nil logger uses slog.Default.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger.With("component", "decoder")}
}

// Decode reads the source and returns mono float64 samples in [-1, 1] with
// the source sample rate. It fails with ErrAudioDecode on unknown formats,
// empty buffers, or malformed headers.
func (d *Decoder) Decode(src types.PCMSource) (*Buffer, error) {
	data, hint, err := d.readSource(src)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", types.ErrAudioDecode)
	}

	f := detectFormat(data, hint)
	if f == formatUnknown {
		return nil, fmt.Errorf("%w: unrecognized format", types.ErrAudioDecode)
	}

	var buf *Buffer
	switch f {
	case formatWAV:
		buf, err = decodeWAV(bytes.NewReader(data))
	case formatMP3:
		buf, err = decodeMP3(bytes.NewReader(data))
	case formatOgg:
		buf, err = decodeOgg(bytes.NewReader(data))
	case formatMP4:
		buf, err = decodeMP4(bytes.NewReader(data))
	case formatADTS:
		buf, err = decodeADTS(data)
	}
	if err != nil {
		return nil, err
	}

	if len(buf.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples decoded", types.ErrAudioDecode)
	}
	if buf.SampleRate < 8000 || buf.SampleRate > 192000 {
		return nil, fmt.Errorf("%w: sample rate %d out of range", types.ErrAudioDecode, buf.SampleRate)
	}

	d.logger.Debug("decoded source",
		"sampleRate", buf.SampleRate,
		"channels", buf.Channels,
		"durationMs", buf.DurationMs(),
	)
	return buf, nil
}

// readSource loads the raw bytes of a source plus a format hint (content
// type or file extension).
func (d *Decoder) readSource(src types.PCMSource) ([]byte, string, error) {
	if src.Path != "" {
		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", types.ErrAudioDecode, err)
		}
		if info.Size() > types.MaxSourceBytes {
			return nil, "", fmt.Errorf("%w: source exceeds %d bytes", types.ErrAudioDecode, types.MaxSourceBytes)
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", types.ErrAudioDecode, err)
		}
		return data, strings.ToLower(filepath.Ext(src.Path)), nil
	}

	if len(src.Data) > types.MaxSourceBytes {
		return nil, "", fmt.Errorf("%w: source exceeds %d bytes", types.ErrAudioDecode, types.MaxSourceBytes)
	}
	return src.Data, strings.ToLower(src.ContentType), nil
}

// detectFormat resolves the container format from the hint, the magic
// bytes, and finally the tag library's probe.
func detectFormat(data []byte, hint string) format {
	switch {
	case strings.Contains(hint, "wav"):
		return formatWAV
	case strings.Contains(hint, "mp3"), strings.Contains(hint, "mpeg"):
		return formatMP3
	case strings.Contains(hint, "ogg"):
		return formatOgg
	case strings.Contains(hint, "m4a"), strings.Contains(hint, "mp4"):
		return formatMP4
	case strings.Contains(hint, "aac"):
		// AAC arrives either as raw ADTS or inside an MP4 container.
		if len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0 {
			return formatADTS
		}
		return formatMP4
	}

	if f := sniffMagic(data); f != formatUnknown {
		return f
	}

	if _, fileType, err := tag.Identify(bytes.NewReader(data)); err == nil {
		switch fileType {
		case tag.MP3:
			return formatMP3
		case tag.OGG:
			return formatOgg
		case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
			return formatMP4
		}
	}
	return formatUnknown
}

func sniffMagic(data []byte) format {
	if len(data) < 12 {
		return formatUnknown
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return formatWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return formatOgg
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return formatMP4
	case bytes.HasPrefix(data, []byte("ID3")):
		return formatMP3
	case data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		return formatADTS
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return formatMP3
	}
	return formatUnknown
}

// decodeWAV reads a RIFF/WAVE stream via go-audio.
func decodeWAV(rs io.ReadSeeker) (*Buffer, error) {
	dec := gowav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", types.ErrAudioDecode)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read WAV data: %v", types.ErrAudioDecode, err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: malformed WAV header", types.ErrAudioDecode)
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	bitDepth := pcm.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}

	interleaved := make([]float64, len(pcm.Data))
	for i, v := range pcm.Data {
		interleaved[i] = normalizePCM(v, bitDepth)
	}

	return &Buffer{
		SampleRate: pcm.Format.SampleRate,
		Channels:   channels,
		Samples:    downmix(interleaved, channels),
	}, nil
}

// normalizePCM maps an integer sample to [-1, 1] by bit depth. 8-bit WAV
// data is unsigned.
func normalizePCM(v, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return (float64(v) - 128) / 128
	case 24:
		return float64(v) / (1 << 23)
	case 32:
		return float64(v) / (1 << 31)
	default:
		return float64(v) / 32768
	}
}

// decodeMP3 reads an MPEG stream via go-mp3, which always emits 16-bit
// little-endian stereo at the source rate.
func decodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", types.ErrAudioDecode, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3 read: %v", types.ErrAudioDecode, err)
	}

	const channels = 2
	frames := len(raw) / (2 * channels)
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		off := i * 2 * channels
		var sum float64
		for ch := 0; ch < channels; ch++ {
			s := int16(raw[off+ch*2]) | int16(raw[off+ch*2+1])<<8
			sum += float64(s) / 32768.0
		}
		mono[i] = sum / channels
	}

	return &Buffer{
		SampleRate: dec.SampleRate(),
		Channels:   channels,
		Samples:    mono,
	}, nil
}
