package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/audio-dialogue-lab/internal/inference"
	"github.com/audio-dialogue-lab/internal/logging"
)

// HTTPClient posts the native request contract as JSON.
type HTTPClient struct {
	URL      string
	APIKey   string
	Attempts int
	HTTP     *http.Client
}

func NewHTTPClient(o Options) *HTTPClient {
	hc := o.HTTP
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{
		URL:      strings.TrimRight(o.URL, "/"),
		APIKey:   o.APIKey,
		Attempts: o.Attempts,
		HTTP:     hc,
	}
}

// Infer retries transient failures (network errors, 5xx, 429) with
// exponential backoff until attempts run out or ctx ends. 4xx responses are
// permanent.
func (c *HTTPClient) Infer(ctx context.Context, req inference.Request) (inference.Result, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return inference.Result{}, ctx.Err()
			case <-time.After(backoff(i - 1)):
			}
		}
		res, err := c.post(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return inference.Result{}, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if !isTransient(err) {
			return inference.Result{}, err
		}
		logging.DebugwCtx(ctx, "engine: POST attempt failed", "attempt", i+1, "err", err)
	}
	return inference.Result{}, lastErr
}

func (c *HTTPClient) post(ctx context.Context, body []byte) (inference.Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return parseReply(data)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return inference.Result{}, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, snippet(data))
	}
	return inference.Result{}, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, snippet(data))
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
