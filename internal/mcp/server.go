// Package mcp exposes the assistant as Model Context Protocol tools over a
// WebSocket, and carries a small client used to reach such servers.
package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/audio-dialogue-lab/internal/assistant"
	"github.com/audio-dialogue-lab/internal/identity"
	"github.com/audio-dialogue-lab/internal/logging"
)

const (
	ToolProcessAudio = "process_audio"
	ToolHistory      = "conversation_history"
	ToolReset        = "reset_conversation"
)

type ProcessAudioArgs struct {
	AudioBase64 string `json:"audio_base64" jsonschema:"the clip bytes in standard base64"`
	Filename    string `json:"filename,omitempty" jsonschema:"original file name used to detect the format"`
	Format      string `json:"format,omitempty" jsonschema:"wav or mp3 or opus"`
	ClientID    string `json:"client_id,omitempty" jsonschema:"conversation to continue (defaults to the connection address)"`
}

type HistoryArgs struct {
	ClientID string `json:"client_id,omitempty" jsonschema:"conversation to read (defaults to the connection address)"`
}

type ResetArgs struct {
	ClientID string `json:"client_id,omitempty" jsonschema:"conversation to forget (defaults to the connection address)"`
}

// Server upgrades requests to WebSocket and runs one MCP session per
// connection. Each session's tools know the peer address.
type Server struct {
	svc      *assistant.Service
	version  string
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(svc *assistant.Service, version string) *Server {
	return &Server{
		svc:      svc,
		version:  version,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: ws upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	peer := r.RemoteAddr
	override := r.Header.Get(identity.HeaderClientID)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		session, err := s.sessionServer(override, peer).Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp: server connect error", "err", err, "remote", peer)
			return
		}
		if err := session.Wait(); err != nil {
			logging.Debugw("mcp: session ended with error", "err", err, "remote", peer)
		} else {
			logging.Debugw("mcp: session ended", "remote", peer)
		}
	}()
}

// Close drops every open session and waits for them to finish.
func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) sessionServer(override, peer string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "audio-dialogue", Version: s.version}, nil)
	key := func(clientID string) string {
		if clientID != "" {
			return identity.FromMetadata(clientID, peer)
		}
		return identity.FromMetadata(override, peer)
	}

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolProcessAudio,
		Description: "Send an audio clip to the assistant and get its spoken-dialogue reply",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args ProcessAudioArgs) (*sdk.CallToolResult, any, error) {
		data, err := base64.StdEncoding.DecodeString(args.AudioBase64)
		if err != nil || len(data) == 0 {
			return toolError("audio_base64 must be non-empty standard base64"), nil, nil
		}
		turn, err := s.svc.ProcessAudio(ctx, assistant.Input{
			ClientKey: key(args.ClientID),
			RequestID: uuid.NewString(),
			Filename:  args.Filename,
			Format:    args.Format,
			Data:      data,
		})
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: turn.Content}}}, nil, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolHistory,
		Description: "Return the dialogue turns held for a client",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args HistoryArgs) (*sdk.CallToolResult, any, error) {
		out, err := sonic.MarshalString(s.svc.History(key(args.ClientID)))
		if err != nil {
			return nil, nil, fmt.Errorf("encode history: %w", err)
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: out}}}, nil, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolReset,
		Description: "Forget the dialogue held for a client so the next clip starts over",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args ResetArgs) (*sdk.CallToolResult, any, error) {
		existed, err := s.svc.Reset(ctx, key(args.ClientID))
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: fmt.Sprintf(`{"reset":%t}`, existed)}}}, nil, nil
	})
	return server
}

func toolError(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: msg}},
	}
}
