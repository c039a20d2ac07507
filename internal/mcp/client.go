package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/audio-dialogue-lab/internal/logging"
)

// ClientWrapper provides a small helper to connect to an MCP server over
// websocket and manage the client session lifecycle.
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// ConnectWebSocket connects to the MCP server websocket endpoint and creates
// a session. http and https URLs are rewritten to ws and wss.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string, header map[string]string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	var h map[string][]string
	if len(header) > 0 {
		h = make(map[string][]string, len(header))
		for k, v := range header {
			h[k] = []string{v}
		}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), h)
	if err != nil {
		return err
	}
	sess, err := w.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = sess
	kaCtx, cancel := context.WithCancel(context.Background())
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(context.Background(), nil)
			}
		}
	}()
	logging.Debugw("mcp client connected", "url", u.String())
	return nil
}

// CallText invokes a tool and joins its text content. A tool-level error is
// returned as an error.
func (w *ClientWrapper) CallText(ctx context.Context, name string, args map[string]any) (string, error) {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return "", errors.New("mcp client not connected")
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s: %s", name, b.String())
	}
	return b.String(), nil
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session == nil {
		return nil
	}
	err := w.session.Close()
	w.session = nil
	return err
}
