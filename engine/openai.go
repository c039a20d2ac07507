package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/audio-dialogue-lab/internal/audio"
	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/inference"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint that
// accepts input_audio content parts.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(o Options) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(o.URL, "/") + "/"),
		option.WithMaxRetries(max(o.Attempts-1, 0)),
	}
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	if o.HTTP != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTP))
	}
	model := o.Model
	if model == "" {
		model = "local"
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

// Messages maps history onto chat messages and appends the clip as a user
// message carrying one 16-bit WAV input_audio part.
func Messages(req inference.Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	for _, t := range req.Turns {
		switch t.Role {
		case conversation.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case conversation.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case conversation.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		}
	}
	wav := audio.EncodeWAV16(audio.Buffer{Samples: req.Audio, SampleRate: req.SampleRate})
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(wav),
			Format: "wav",
		}),
	}
	mp := openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: parts,
		},
	}
	return append(msgs, openai.ChatCompletionMessageParamUnion{OfUser: &mp})
}

func (c *OpenAIClient) Infer(ctx context.Context, req inference.Request) (inference.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: Messages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return inference.Result{}, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return inference.Result{}, fmt.Errorf("%w: no choices in completion", ErrPermanent)
	}
	return inference.Result{
		Text: resp.Choices[0].Message.Content,
		Raw:  []byte(resp.RawJSON()),
	}, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: openai: %w", ErrTransient, err)
		}
		return fmt.Errorf("%w: openai: %w", ErrPermanent, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: openai: %w", ErrTransient, err)
}
