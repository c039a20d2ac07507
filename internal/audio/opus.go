//go:build opus
// +build opus

package audio

import (
	"bytes"
	"errors"
	"io"

	"github.com/hraban/opus"
)

// Ogg Opus always decodes at 48kHz.
const opusSampleRate = 48000

func decodeOpus(data []byte) (PCM, error) {
	channels, err := opusHeadChannels(data)
	if err != nil {
		return PCM{}, err
	}
	s, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return PCM{}, err
	}
	defer s.Close()

	// 120ms at 48kHz is the largest Opus frame
	chunk := make([]int16, 5760*channels)
	var samples []int32
	for {
		n, err := s.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, err
		}
		for _, v := range chunk[:n*channels] {
			samples = append(samples, int32(v))
		}
	}
	return PCM{Samples: samples, Channels: channels, SampleRate: opusSampleRate, BitDepth: 16}, nil
}

// opusHeadChannels reads the channel count from the OpusHead packet.
func opusHeadChannels(data []byte) (int, error) {
	i := bytes.Index(data, []byte("OpusHead"))
	if i < 0 || len(data) < i+10 {
		return 0, errors.New("missing OpusHead packet")
	}
	ch := int(data[i+9])
	if ch < 1 {
		return 0, errors.New("OpusHead declares no channels")
	}
	return ch, nil
}
