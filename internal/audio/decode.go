package audio

// PCM is a decoded stream before normalization: interleaved signed integer
// samples at the stream's own bit depth.
type PCM struct {
	Samples    []int32
	Channels   int
	SampleRate int
	BitDepth   int
}

// Frames is the number of samples per channel.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Decode parses data according to format.
func Decode(data []byte, format Format) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, stageErr(StageDecode, ErrNoAudio, "empty upload")
	}
	var (
		pcm PCM
		err error
	)
	switch format {
	case FormatWAV:
		pcm, err = decodeWAV(data)
	case FormatMP3:
		pcm, err = decodeMP3(data)
	case FormatOpus:
		pcm, err = decodeOpus(data)
	default:
		return PCM{}, stageErr(StageDecode, ErrUnsupportedFormat, "cannot decode format %q", string(format))
	}
	if err != nil {
		return PCM{}, stageErr(StageDecode, err, "failed to decode %s", format)
	}
	if pcm.SampleRate <= 0 || pcm.Channels <= 0 {
		return PCM{}, stageErr(StageDecode, nil, "invalid stream parameters: rate=%d channels=%d", pcm.SampleRate, pcm.Channels)
	}
	if pcm.Frames() == 0 {
		return PCM{}, stageErr(StageDecode, ErrNoAudio, "%s stream has no samples", format)
	}
	return pcm, nil
}
