package audio

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	concentus "github.com/lostromb/concentus/go/opus"
	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"

	"github.com/Krichev/karaoke/internal/types"
)

// mp4Codec identifies the audio coding format inside an MP4 container.
type mp4Codec int

const (
	mp4CodecUnknown mp4Codec = iota
	mp4CodecAAC
	mp4CodecOpus
)

// decodeMP4 parses an MP4/M4A container, routes to the AAC or Opus
// decoder, and returns mono PCM.
func decodeMP4(rs io.ReadSeeker) (*Buffer, error) {
	info, err := gomp4.Probe(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: mp4 probe: %v", types.ErrAudioDecode, err)
	}

	codec := detectMP4Codec(rs)

	track, err := findAudioTrack(info, codec)
	if err != nil {
		return nil, err
	}

	sampleRate := int(track.Timescale)

	switch codec {
	case mp4CodecAAC:
		return decodeMP4AAC(rs, track, sampleRate)
	case mp4CodecOpus:
		return decodeMP4Opus(rs, track, sampleRate)
	default:
		return nil, fmt.Errorf("%w: unsupported mp4 audio codec", types.ErrAudioDecode)
	}
}

// detectMP4Codec walks the box tree to see whether the sample description
// uses mp4a (AAC) or Opus. Probe only tags mp4a, so the stsd children are
// inspected directly.
func detectMP4Codec(rs io.ReadSeeker) mp4Codec {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return mp4CodecUnknown
	}

	codec := mp4CodecUnknown
	_, _ = gomp4.ReadBoxStructure(rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		if codec != mp4CodecUnknown {
			return nil, nil
		}
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMp4a():
			codec = mp4CodecAAC
			return nil, nil
		case gomp4.BoxTypeOpus():
			codec = mp4CodecOpus
			return nil, nil
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			// Only expand known container boxes, never mdat.
			_, _ = h.Expand()
		}
		return nil, nil
	})
	return codec
}

func findAudioTrack(info *gomp4.ProbeInfo, codec mp4Codec) (*gomp4.Track, error) {
	if codec == mp4CodecAAC {
		for _, t := range info.Tracks {
			if t.Codec == gomp4.CodecMP4A {
				return t, nil
			}
		}
	}

	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 {
			continue
		}
		if len(t.Samples) == 0 || len(t.Chunks) == 0 {
			continue
		}
		if isAudioTimescale(t.Timescale) {
			return t, nil
		}
	}

	return nil, fmt.Errorf("%w: no audio track in mp4 (%d tracks)", types.ErrAudioDecode, len(info.Tracks))
}

// isAudioTimescale reports whether the timescale matches a standard audio
// sample rate. Video tracks use timescales like 600 or 24000.
func isAudioTimescale(ts uint32) bool {
	switch ts {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

func decodeMP4AAC(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) (*Buffer, error) {
	asc, err := audioSpecificConfig(rs)
	if err != nil {
		return nil, err
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, fmt.Errorf("%w: aac config: %v", types.ErrAudioDecode, err)
	}

	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}
	channels := dec.Config.ChanConfig
	if channels < 1 {
		channels = 1
	}

	locs := sampleLocations(track)
	rawBuf := make([]byte, maxSampleSize(locs))

	var mono []float64
	for _, loc := range locs {
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		pcm, err := dec.DecodeFrame(raw)
		if err != nil {
			continue
		}
		frameLen := len(pcm) / channels
		for i := 0; i < frameLen; i++ {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += float64(pcm[i*channels+ch])
			}
			mono = append(mono, sum/float64(channels))
		}
	}

	return &Buffer{SampleRate: sampleRate, Channels: channels, Samples: mono}, nil
}

// audioSpecificConfig searches the container for an esds descriptor with
// the AudioSpecificConfig bytes the AAC decoder needs.
func audioSpecificConfig(rs io.ReadSeeker) ([]byte, error) {
	paths := []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeWave(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeEnca(), gomp4.BoxTypeEsds()},
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAudioDecode, err)
	}

	bips, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("%w: extract esds: %v", types.ErrAudioDecode, err)
	}

	for _, bip := range bips {
		if bip.Info.Type != gomp4.BoxTypeEsds() {
			continue
		}
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: AudioSpecificConfig not found", types.ErrAudioDecode)
}

func decodeMP4Opus(rs io.ReadSeeker, track *gomp4.Track, sampleRate int) (*Buffer, error) {
	// Concentus accepts only 8/12/16/24/48 kHz.
	decoderRate := sampleRate
	switch decoderRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		decoderRate = 48000
	}

	dec, err := concentus.NewOpusDecoder(decoderRate, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decoder: %v", types.ErrAudioDecode, err)
	}

	locs := sampleLocations(track)
	rawBuf := make([]byte, maxSampleSize(locs))

	// Max Opus frame: 120 ms at 48 kHz, 2 channels.
	pcm16 := make([]int16, 5760*2)

	var mono []float64
	for _, loc := range locs {
		// Packets of <=3 bytes are padding/silence the decoder rejects.
		if loc.size <= 3 {
			continue
		}
		if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
			continue
		}
		raw := rawBuf[:loc.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		nSamples, err := dec.Decode(raw, 0, len(raw), pcm16, 0, 5760, false)
		if err != nil {
			continue
		}
		appendOpusMono(&mono, pcm16, nSamples)
	}

	return &Buffer{SampleRate: decoderRate, Channels: 2, Samples: mono}, nil
}

// appendOpusMono downmixes interleaved stereo int16 opus output into mono
// float64 samples.
func appendOpusMono(mono *[]float64, pcm16 []int16, nSamples int) {
	const channels = 2
	for i := 0; i < nSamples; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(pcm16[i*channels+ch]) / 32768.0
		}
		*mono = append(*mono, sum/channels)
	}
}

// sampleLoc describes one audio sample's position in the file.
type sampleLoc struct {
	offset uint64
	size   uint32
}

// sampleLocations flattens the track's chunk table into (offset, size)
// pairs.
func sampleLocations(track *gomp4.Track) []sampleLoc {
	result := make([]sampleLoc, 0, len(track.Samples))
	sampleIdx := 0

	for _, chunk := range track.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk; j++ {
			if sampleIdx >= len(track.Samples) {
				return result
			}
			sz := track.Samples[sampleIdx].Size
			result = append(result, sampleLoc{offset: off, size: sz})
			off += uint64(sz)
			sampleIdx++
		}
	}

	return result
}

func maxSampleSize(locs []sampleLoc) uint32 {
	var max uint32
	for _, loc := range locs {
		if loc.size > max {
			max = loc.size
		}
	}
	return max
}

// adtsSampleRates maps the ADTS sampling-frequency index to Hz.
var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// decodeADTS walks a raw ADTS AAC stream frame by frame. The ASC the
// decoder needs is synthesized from the first frame header.
func decodeADTS(data []byte) (*Buffer, error) {
	if len(data) < 7 || data[0] != 0xFF || data[1]&0xF6 != 0xF0 {
		return nil, fmt.Errorf("%w: not an ADTS stream", types.ErrAudioDecode)
	}

	profile := data[2] >> 6                  // 0-based audioObjectType - 1
	rateIdx := (data[2] >> 2) & 0x0F
	chanCfg := ((data[2] & 0x01) << 2) | (data[3] >> 6)

	if int(rateIdx) >= len(adtsSampleRates) || chanCfg == 0 {
		return nil, fmt.Errorf("%w: malformed ADTS header", types.ErrAudioDecode)
	}

	// AudioSpecificConfig: 5 bits object type, 4 bits rate index, 4 bits
	// channel config.
	objType := profile + 1
	asc := []byte{
		objType<<3 | rateIdx>>1,
		rateIdx<<7 | chanCfg<<3,
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, fmt.Errorf("%w: aac config: %v", types.ErrAudioDecode, err)
	}

	sampleRate := adtsSampleRates[rateIdx]
	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}
	channels := int(chanCfg)

	var mono []float64
	pos := 0
	for pos+7 <= len(data) {
		if data[pos] != 0xFF || data[pos+1]&0xF6 != 0xF0 {
			break
		}
		frameLen := int(data[pos+3]&0x03)<<11 | int(data[pos+4])<<3 | int(data[pos+5])>>5
		if frameLen < 7 || pos+frameLen > len(data) {
			break
		}

		headerLen := 7
		if data[pos+1]&0x01 == 0 { // CRC present
			headerLen = 9
		}
		if pos+headerLen > pos+frameLen {
			break
		}

		pcm, err := dec.DecodeFrame(data[pos+headerLen : pos+frameLen])
		if err == nil {
			n := len(pcm) / channels
			for i := 0; i < n; i++ {
				var sum float64
				for ch := 0; ch < channels; ch++ {
					sum += float64(pcm[i*channels+ch])
				}
				mono = append(mono, sum/float64(channels))
			}
		}
		pos += frameLen
	}

	return &Buffer{SampleRate: sampleRate, Channels: channels, Samples: mono}, nil
}
