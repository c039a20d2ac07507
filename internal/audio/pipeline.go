package audio

import (
	"context"
	"time"
)

// StageObserver is told how long each completed stage took.
type StageObserver func(stage Stage, elapsed time.Duration, err error)

// Pipeline normalizes uploaded clips for a model with a fixed input rate.
type Pipeline struct {
	targetRate  int
	maxDuration time.Duration
	observe     StageObserver
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxDuration rejects clips longer than d after decoding. Zero means
// unlimited.
func WithMaxDuration(d time.Duration) Option {
	return func(p *Pipeline) { p.maxDuration = d }
}

// WithStageObserver installs a per-stage timing hook.
func WithStageObserver(fn StageObserver) Option {
	return func(p *Pipeline) { p.observe = fn }
}

func NewPipeline(targetRate int, opts ...Option) *Pipeline {
	p := &Pipeline{targetRate: targetRate}
	for _, o := range opts {
		o(p)
	}
	return p
}

// TargetRate is the sample rate every Buffer from Normalize has.
func (p *Pipeline) TargetRate() int { return p.targetRate }

// Normalize runs decode, downmix, scale and resample. Every failure is an
// *Error naming the stage; no partial buffer is ever returned.
func (p *Pipeline) Normalize(ctx context.Context, data []byte, format Format) (Buffer, error) {
	var pcm PCM
	err := p.run(ctx, StageDecode, func() error {
		var err error
		pcm, err = Decode(data, format)
		if err != nil {
			return err
		}
		if p.maxDuration > 0 {
			d := time.Duration(float64(pcm.Frames()) / float64(pcm.SampleRate) * float64(time.Second))
			if d > p.maxDuration {
				return stageErr(StageDecode, ErrTooLong, "clip is %s, limit %s", d.Round(time.Millisecond), p.maxDuration)
			}
		}
		return nil
	})
	if err != nil {
		return Buffer{}, err
	}

	var mono []float64
	if err := p.run(ctx, StageDownmix, func() error {
		var err error
		mono, err = Downmix(pcm.Samples, pcm.Channels)
		return err
	}); err != nil {
		return Buffer{}, err
	}

	if err := p.run(ctx, StageScale, func() error {
		var err error
		mono, err = Scale(mono, pcm.BitDepth)
		return err
	}); err != nil {
		return Buffer{}, err
	}

	if err := p.run(ctx, StageResample, func() error {
		var err error
		mono, err = Resample(mono, pcm.SampleRate, p.targetRate)
		return err
	}); err != nil {
		return Buffer{}, err
	}

	out := make([]float32, len(mono))
	for i, v := range mono {
		out[i] = float32(v)
	}
	return Buffer{Samples: out, SampleRate: p.targetRate}, nil
}

func (p *Pipeline) run(ctx context.Context, stage Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return stageErr(stage, err, "cancelled before %s", stage)
	}
	start := time.Now()
	err := fn()
	if p.observe != nil {
		p.observe(stage, time.Since(start), err)
	}
	return err
}
