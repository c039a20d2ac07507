// Package inference assembles model requests from dialogue history and
// normalized audio, and calls the configured engine under a deadline.
package inference

import (
	"context"
	"encoding/json"

	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/conversation"
)

// Request is the fixed engine contract.
type Request struct {
	Audio      []float32           `json:"audio"`
	SampleRate int                 `json:"sampling_rate"`
	Turns      []conversation.Turn `json:"turns"`
	MaxTokens  int                 `json:"max_new_tokens"`
}

// Result is what an engine produced for one Request. Transcript is empty
// when the engine does not echo one.
type Result struct {
	Text       string
	Transcript string
	Raw        json.RawMessage
}

// Engine is an opaque speech-and-language model.
type Engine interface {
	Infer(ctx context.Context, req Request) (Result, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, req Request) (Result, error)

func (f EngineFunc) Infer(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// BuildRequest snapshots history and buf into a Request. The returned value
// shares no memory with its inputs.
func BuildRequest(history []conversation.Turn, buf audio.Buffer, maxTokens int) Request {
	turns := make([]conversation.Turn, len(history))
	copy(turns, history)
	samples := make([]float32, len(buf.Samples))
	copy(samples, buf.Samples)
	return Request{
		Audio:      samples,
		SampleRate: buf.SampleRate,
		Turns:      turns,
		MaxTokens:  maxTokens,
	}
}
