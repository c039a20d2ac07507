package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(data []byte) (PCM, error) {
	probe := wav.NewDecoder(bytes.NewReader(data))
	if !probe.IsValidFile() {
		if err := probe.Err(); err != nil {
			return PCM{}, fmt.Errorf("not a valid RIFF/WAVE stream: %w", err)
		}
		return PCM{}, errors.New("not a valid RIFF/WAVE stream")
	}
	switch probe.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatIEEEFloat:
		return PCM{}, fmt.Errorf("%w: floating point wav", ErrUnsupportedFormat)
	default:
		return PCM{}, fmt.Errorf("%w: wav format tag %#x", ErrUnsupportedFormat, probe.WavAudioFormat)
	}

	// fresh decoder so reading starts at the header again
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, err
	}
	if buf == nil || buf.Format == nil {
		return PCM{}, errors.New("wav decoder returned no format")
	}

	bits := buf.SourceBitDepth
	if bits == 0 {
		bits = int(probe.BitDepth)
	}
	samples := make([]int32, len(buf.Data))
	for i, v := range buf.Data {
		if bits == 8 {
			// 8-bit wav is unsigned with a 128 midpoint
			v -= 128
		}
		samples[i] = int32(v)
	}
	return PCM{
		Samples:    samples,
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
		BitDepth:   bits,
	}, nil
}
