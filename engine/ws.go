package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/audio-dialogue-lab/internal/inference"
)

// WSClient sends one request message per connection and reads one reply.
type WSClient struct {
	URL    string
	APIKey string
	Dialer *websocket.Dialer
}

func NewWSClient(o Options) *WSClient {
	return &WSClient{URL: o.URL, APIKey: o.APIKey, Dialer: websocket.DefaultDialer}
}

func (c *WSClient) Infer(ctx context.Context, req inference.Request) (inference.Result, error) {
	hdr := http.Header{}
	if c.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+c.APIKey)
	}
	conn, resp, err := c.Dialer.DialContext(ctx, c.URL, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return inference.Result{}, fmt.Errorf("%w: ws dial: status %d", ErrPermanent, resp.StatusCode)
		}
		return inference.Result{}, fmt.Errorf("%w: ws dial: %v", ErrTransient, err)
	}
	defer conn.Close()

	// unblock reads when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return inference.Result{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return inference.Result{}, fmt.Errorf("%w: ws write: %v", ErrTransient, err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return inference.Result{}, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return inference.Result{}, fmt.Errorf("%w: ws read: %v", ErrTransient, err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return parseReply(msg)
}
