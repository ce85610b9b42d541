package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	concentus "github.com/lostromb/concentus/go/opus"

	"github.com/Krichev/karaoke/internal/types"
)

// decodeOgg demuxes an Ogg stream and decodes an Opus track. The page
// format is simple enough to walk directly: a 27-byte header, a segment
// table of lacing values, and packets assembled from segments (a lacing
// value of 255 continues the packet into the next segment).
func decodeOgg(r io.Reader) (*Buffer, error) {
	packets, err := oggPackets(r)
	if err != nil {
		return nil, err
	}
	if len(packets) < 2 {
		return nil, fmt.Errorf("%w: ogg stream holds no audio packets", types.ErrAudioDecode)
	}

	head := packets[0]
	switch {
	case bytes.HasPrefix(head, []byte("OpusHead")):
		return decodeOggOpus(packets)
	case len(head) > 0 && head[0] == 0x01 && bytes.Contains(head[:min(7, len(head))], []byte("vorbis")):
		return nil, fmt.Errorf("%w: ogg vorbis is not supported, re-encode as opus", types.ErrAudioDecode)
	default:
		return nil, fmt.Errorf("%w: unrecognized ogg codec", types.ErrAudioDecode)
	}
}

func decodeOggOpus(packets [][]byte) (*Buffer, error) {
	head := packets[0]
	if len(head) < 19 {
		return nil, fmt.Errorf("%w: truncated OpusHead", types.ErrAudioDecode)
	}
	channels := int(head[9])
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: unsupported opus channel count %d", types.ErrAudioDecode, channels)
	}
	preSkip := int(binary.LittleEndian.Uint16(head[10:12]))

	// Opus always decodes at 48 kHz regardless of the input rate recorded
	// in the header.
	const decoderRate = 48000

	dec, err := concentus.NewOpusDecoder(decoderRate, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decoder: %v", types.ErrAudioDecode, err)
	}

	pcm16 := make([]int16, 5760*channels)

	var mono []float64
	audio := packets[1:]
	// The second header packet is OpusTags; everything after is audio.
	if len(audio) > 0 && bytes.HasPrefix(audio[0], []byte("OpusTags")) {
		audio = audio[1:]
	}

	for _, pkt := range audio {
		if len(pkt) <= 1 {
			continue
		}
		nSamples, err := dec.Decode(pkt, 0, len(pkt), pcm16, 0, 5760, false)
		if err != nil {
			continue
		}
		for i := 0; i < nSamples; i++ {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += float64(pcm16[i*channels+ch]) / 32768.0
			}
			mono = append(mono, sum/float64(channels))
		}
	}

	if preSkip > 0 && preSkip < len(mono) {
		mono = mono[preSkip:]
	}

	return &Buffer{SampleRate: decoderRate, Channels: channels, Samples: mono}, nil
}

// oggPackets reads every page of the stream and reassembles the packet
// sequence.
func oggPackets(r io.Reader) ([][]byte, error) {
	var packets [][]byte
	var pending []byte

	header := make([]byte, 27)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("%w: read ogg page: %v", types.ErrAudioDecode, err)
		}
		if !bytes.Equal(header[:4], []byte("OggS")) {
			return nil, fmt.Errorf("%w: bad ogg capture pattern", types.ErrAudioDecode)
		}

		segCount := int(header[26])
		lacing := make([]byte, segCount)
		if _, err := io.ReadFull(r, lacing); err != nil {
			return nil, fmt.Errorf("%w: read ogg lacing: %v", types.ErrAudioDecode, err)
		}

		for _, l := range lacing {
			seg := make([]byte, int(l))
			if _, err := io.ReadFull(r, seg); err != nil {
				return nil, fmt.Errorf("%w: read ogg segment: %v", types.ErrAudioDecode, err)
			}
			pending = append(pending, seg...)
			if l < 255 {
				packets = append(packets, pending)
				pending = nil
			}
		}
	}

	if len(pending) > 0 {
		packets = append(packets, pending)
	}
	return packets, nil
}
