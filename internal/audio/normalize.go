package audio

import (
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Downmix averages interleaved channels into one. Mono input is copied
// through unchanged. Output is still at the stream's integer scale.
func Downmix(interleaved []int32, channels int) ([]float64, error) {
	if channels < 1 {
		return nil, stageErr(StageDownmix, nil, "invalid channel count %d", channels)
	}
	if len(interleaved)%channels != 0 {
		return nil, stageErr(StageDownmix, nil, "%d samples do not divide into %d channels", len(interleaved), channels)
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	if channels == 1 {
		for i, v := range interleaved {
			out[i] = float64(v)
		}
		return out, nil
	}
	for i := 0; i < frames; i++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(interleaved[i*channels+c])
		}
		out[i] = float64(sum) / float64(channels)
	}
	return out, nil
}

// FullScale is the magnitude of the most negative sample at bitDepth.
func FullScale(bitDepth int) (float64, bool) {
	switch bitDepth {
	case 8, 16, 24, 32:
		return math.Ldexp(1, bitDepth-1), true
	}
	return 0, false
}

// Scale divides samples in place by the full-scale value of bitDepth so the
// result lies in [-1, 1].
func Scale(samples []float64, bitDepth int) ([]float64, error) {
	fs, ok := FullScale(bitDepth)
	if !ok {
		return nil, stageErr(StageScale, nil, "unsupported bit depth %d", bitDepth)
	}
	for i, v := range samples {
		samples[i] = clamp(v / fs)
	}
	return samples, nil
}

// Silence, in seconds of input, placed before and after a clip. The lead-in
// keeps filter warm-up off real samples; the tail drains the delay line.
const (
	resampleLead = 0.1
	resampleTail = 0.2
)

type ratePair struct{ from, to int }

// resampleOffsets caches, per rate pair, the output index at which the first
// real sample appears once the lead-in is in place.
var resampleOffsets sync.Map

// Resample converts mono samples from one rate to another. Equal rates
// return an exact copy. The output has exactly len*to/from samples and is
// aligned in time with the input.
func Resample(samples []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, stageErr(StageResample, nil, "invalid rates %d -> %d", from, to)
	}
	if from == to {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if len(samples) == 0 {
		return []float64{}, nil
	}

	lead := leadIn(from, to)
	offset, err := resampleOffset(from, to, lead)
	if err != nil {
		return nil, err
	}
	padded := make([]float64, lead+len(samples)+int(float64(from)*resampleTail))
	copy(padded[lead:], samples)
	out, err := resampleRaw(from, to, padded)
	if err != nil {
		return nil, err
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = out[:0]
	}
	if len(out) >= want {
		out = out[:want]
	} else {
		out = append(out, make([]float64, want-len(out))...)
	}
	for i, v := range out {
		out[i] = clamp(v)
	}
	return out, nil
}

// leadIn is the smallest whole number of rate periods covering
// resampleLead, so the lead-in maps to an integral output index.
func leadIn(from, to int) int {
	step := from / gcd(from, to)
	n := int(math.Ceil(float64(from) * resampleLead / float64(step)))
	return n * step
}

// resampleOffset measures the filter's delay for a rate pair by locating the
// peak of its response to an impulse placed after the lead-in.
func resampleOffset(from, to, lead int) (int, error) {
	key := ratePair{from, to}
	if v, ok := resampleOffsets.Load(key); ok {
		return v.(int), nil
	}
	impulse := make([]float64, lead+int(float64(from)*resampleTail))
	impulse[lead] = 1
	out, err := resampleRaw(from, to, impulse)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, stageErr(StageResample, nil, "resampler produced no output %d -> %d", from, to)
	}
	peak := 0
	for i, v := range out {
		if math.Abs(v) > math.Abs(out[peak]) {
			peak = i
		}
	}
	resampleOffsets.Store(key, peak)
	return peak, nil
}

func resampleRaw(from, to int, in []float64) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, stageErr(StageResample, err, "failed to create resampler %d -> %d", from, to)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, stageErr(StageResample, err, "resample %d -> %d", from, to)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, stageErr(StageResample, err, "flush resampler %d -> %d", from, to)
	}
	return append(out, rest...), nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	case math.IsNaN(v):
		return 0
	}
	return v
}
