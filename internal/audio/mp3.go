package audio

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always emits 16-bit little-endian stereo.
const (
	mp3Channels = 2
	mp3BitDepth = 16
)

func decodeMP3(data []byte) (PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, err
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return PCM{}, err
	}
	n := len(raw) / 2
	samples := make([]int32, n)
	for i := 0; i < n; i++ {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	// drop a trailing partial frame, if any
	samples = samples[:len(samples)/mp3Channels*mp3Channels]
	return PCM{
		Samples:    samples,
		Channels:   mp3Channels,
		SampleRate: d.SampleRate(),
		BitDepth:   mp3BitDepth,
	}, nil
}
