// Package engine holds the backends that reach the speech-and-language
// model: a native JSON-over-HTTP client, an OpenAI-compatible chat client
// and a WebSocket client.
package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/audio-dialogue-lab/internal/inference"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Kinds accepted by New.
const (
	KindHTTP   = "http"
	KindOpenAI = "openai"
	KindWS     = "ws"
)

// Options are shared by every backend; fields a backend does not use are
// ignored.
type Options struct {
	URL      string
	APIKey   string
	Model    string
	Attempts int
	HTTP     *http.Client
}

// New builds the backend named by kind.
func New(kind string, o Options) (inference.Engine, error) {
	if strings.TrimSpace(o.URL) == "" {
		return nil, fmt.Errorf("engine %q: url is required", kind)
	}
	switch strings.ToLower(kind) {
	case KindHTTP:
		return NewHTTPClient(o), nil
	case KindOpenAI:
		return NewOpenAIClient(o), nil
	case KindWS:
		return NewWSClient(o), nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", kind)
}

func backoff(attempt int) time.Duration {
	return time.Duration(200*(1<<attempt)) * time.Millisecond
}

// reply is the native response shape. Older engines answer with
// generated_text.
type reply struct {
	Text          string `json:"text"`
	GeneratedText string `json:"generated_text"`
	Transcript    string `json:"transcript"`
	Error         string `json:"error"`
}

// parseReply accepts an object, a bare string, or a one-element array of
// either.
func parseReply(body []byte) (inference.Result, error) {
	raw := strings.TrimSpace(string(body))
	if strings.HasPrefix(raw, "[") {
		var items []interface{}
		if err := sonic.UnmarshalString(raw, &items); err != nil {
			return inference.Result{}, fmt.Errorf("%w: decode reply: %v", ErrPermanent, err)
		}
		if len(items) == 0 {
			return inference.Result{}, fmt.Errorf("%w: empty reply array", ErrPermanent)
		}
		first, err := sonic.MarshalString(items[0])
		if err != nil {
			return inference.Result{}, fmt.Errorf("%w: decode reply: %v", ErrPermanent, err)
		}
		raw = first
	}
	res := inference.Result{Raw: []byte(raw)}
	if strings.HasPrefix(raw, `"`) {
		if err := sonic.UnmarshalString(raw, &res.Text); err != nil {
			return inference.Result{}, fmt.Errorf("%w: decode reply: %v", ErrPermanent, err)
		}
		return res, nil
	}
	var r reply
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		return inference.Result{}, fmt.Errorf("%w: decode reply: %v", ErrPermanent, err)
	}
	if r.Error != "" {
		return inference.Result{}, fmt.Errorf("%w: engine: %s", ErrPermanent, r.Error)
	}
	res.Text = r.Text
	if res.Text == "" {
		res.Text = r.GeneratedText
	}
	res.Transcript = r.Transcript
	return res, nil
}

func isTransient(err error) bool { return errors.Is(err, ErrTransient) }
