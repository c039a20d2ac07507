// Package assistant runs one audio turn end to end: it normalizes the clip,
// waits for the client's earlier requests, calls the engine with the
// client's history and commits the new user/assistant pair.
package assistant

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/capture"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/logging"
	"github.com/audio-dialogue-lab/internal/metrics"
)

// AudioPlaceholder stands in for the clip in a user turn when the engine
// does not echo a transcript.
const AudioPlaceholder = "<|audio|>"

// Input is one uploaded clip.
type Input struct {
	ClientKey   string
	RequestID   string
	Filename    string
	Format      string
	ContentType string
	Data        []byte
}

type Options struct {
	Store        conversation.Store
	Sequencer    *conversation.Sequencer
	Pipeline     *audio.Pipeline
	Adapter      *inference.Adapter
	SystemPrompt string
	MaxTokens    int
	Recorder     *capture.Recorder
	Metrics      *metrics.Metrics
}

type Service struct {
	store     conversation.Store
	seq       *conversation.Sequencer
	pipeline  *audio.Pipeline
	adapter   *inference.Adapter
	seed      conversation.Turn
	maxTokens int
	recorder  *capture.Recorder
	metrics   *metrics.Metrics
}

func New(o Options) *Service {
	seq := o.Sequencer
	if seq == nil {
		seq = conversation.NewSequencer()
	}
	return &Service{
		store:     o.Store,
		seq:       seq,
		pipeline:  o.Pipeline,
		adapter:   o.Adapter,
		seed:      conversation.Turn{Role: conversation.RoleSystem, Content: o.SystemPrompt},
		maxTokens: o.MaxTokens,
		recorder:  o.Recorder,
		metrics:   o.Metrics,
	}
}

// ProcessAudio returns the assistant turn generated for in. On any failure
// the client's history is left exactly as it was, except that a first
// request whose clip decoded still leaves the system turn behind.
func (s *Service) ProcessAudio(ctx context.Context, in Input) (conversation.Turn, error) {
	ctx = logging.WithFields(ctx, "request_id", in.RequestID, "client.key", in.ClientKey)
	format := audio.Resolve(in.Format, in.Filename, in.ContentType, in.Data)

	// the position in the client's queue is fixed at submission
	ticket := s.seq.Enter(in.ClientKey)
	defer ticket.Release()

	var buf audio.Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buf, err = s.pipeline.Normalize(gctx, in.Data, format)
		return err
	})
	g.Go(func() error { return ticket.Wait(gctx) })
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.metrics.Request(Outcome(err))
		logging.WarnwCtx(ctx, "assistant: audio rejected", "format", string(format), "bytes", len(in.Data), "err", err)
		return conversation.Turn{}, err
	}
	logging.DebugwCtx(ctx, "assistant: audio normalized", logging.AudioFields(string(format), buf.SampleRate, len(buf.Samples))...)

	if s.store.EnsureSeeded(in.ClientKey, s.seed) {
		logging.InfowCtx(ctx, "assistant: conversation started")
	}
	req := inference.BuildRequest(s.store.Get(in.ClientKey), buf, s.maxTokens)
	s.captureStart(ctx, in, format, buf)

	// a caller that disconnects mid-inference still gets its turn committed
	start := time.Now()
	res, err := s.adapter.Invoke(context.WithoutCancel(ctx), req)
	s.metrics.ObserveInference(time.Since(start), err)
	if err != nil {
		s.metrics.Request(Outcome(err))
		s.captureFinish(ctx, in.RequestID, "", "", err)
		logging.ErrorwCtx(ctx, "assistant: inference failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return conversation.Turn{}, err
	}

	user := conversation.Turn{Role: conversation.RoleUser, Content: AudioPlaceholder}
	if res.Transcript != "" {
		user.Content = res.Transcript
	}
	reply := conversation.Turn{Role: conversation.RoleAssistant, Content: res.Text}
	s.store.Append(in.ClientKey, user, reply)
	s.metrics.TurnsAppended(2)
	s.metrics.Request(metrics.OutcomeOK)
	s.captureFinish(ctx, in.RequestID, res.Transcript, res.Text, nil)
	logging.InfowCtx(ctx, "assistant: turn committed",
		"turns", s.store.Len(in.ClientKey),
		"elapsed_ms", time.Since(start).Milliseconds(),
		"caller_gone", ctx.Err() != nil)
	return reply, nil
}

// History returns a copy of the client's turns.
func (s *Service) History(key string) []conversation.Turn {
	if s.store.Len(key) == 0 {
		return []conversation.Turn{}
	}
	return s.store.Get(key)
}

// Reset drops the client's conversation. It queues behind any turn already
// submitted for key so it never lands in the middle of one.
func (s *Service) Reset(ctx context.Context, key string) (bool, error) {
	ticket := s.seq.Enter(key)
	defer ticket.Release()
	if err := ticket.Wait(ctx); err != nil {
		return false, err
	}
	return s.store.Evict(key), nil
}

// Outcome classifies an error returned by ProcessAudio.
func Outcome(err error) string {
	var aerr *audio.Error
	var ierr *inference.Error
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &ierr):
		if ierr.Timeout {
			return metrics.OutcomeTimeout
		}
		return metrics.OutcomeInferenceError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case errors.As(err, &aerr):
		return metrics.OutcomeDecodeError
	}
	return metrics.OutcomeBadRequest
}

func (s *Service) captureStart(ctx context.Context, in Input, format audio.Format, buf audio.Buffer) {
	if s.recorder == nil {
		return
	}
	_, err := s.recorder.Save(capture.Clip{
		RequestID: in.RequestID,
		ClientKey: in.ClientKey,
		Format:    string(format),
		Filename:  in.Filename,
		Buffer:    buf,
	})
	if err != nil {
		logging.WarnwCtx(ctx, "assistant: capture failed", "err", err)
	}
}

func (s *Service) captureFinish(ctx context.Context, requestID, transcript, reply string, failure error) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Finish(requestID, transcript, reply, failure); err != nil {
		logging.WarnwCtx(ctx, "assistant: capture update failed", "err", err)
	}
}
