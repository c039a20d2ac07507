package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// wsTransport implements sdk.Transport for a single websocket.Conn. It is
// used on both ends of the connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Connect(ctx context.Context) (sdk.Connection, error) {
	return &wsConnection{conn: t.conn}, nil
}

// wsConnection implements sdk.Connection over a websocket.Conn. gorilla
// allows one concurrent writer, so writes are serialized.
type wsConnection struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (w *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
		defer w.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (w *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConnection) Close() error { return w.conn.Close() }

func (w *wsConnection) SessionID() string { return "" }

// NewWebSocketTransport wraps an established websocket as an MCP transport.
func NewWebSocketTransport(conn *websocket.Conn) sdk.Transport {
	return &wsTransport{conn: conn}
}
