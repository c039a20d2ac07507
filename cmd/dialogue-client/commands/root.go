// Package commands implements the dialogue-client command tree.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audio-dialogue-lab/internal/identity"
	"github.com/audio-dialogue-lab/internal/mcp"
)

var version = "dev"

type options struct {
	url      string
	clientID string
	timeout  time.Duration
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "dialogue-client",
		Short: "Talk to the audio dialogue service over MCP",
		Long: `Talk to the audio dialogue service over its MCP WebSocket endpoint.

The conversation is keyed by --client-id. Without it the server uses the
connection address, which changes on every run.

Examples:
  dialogue-client --client-id me send hello.wav
  dialogue-client --client-id me history
  dialogue-client --client-id me reset`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&o.url, "url", "u", "ws://localhost:8000/mcp/ws", "MCP WebSocket endpoint")
	root.PersistentFlags().StringVarP(&o.clientID, "client-id", "c", "", "conversation identity sent as "+identity.HeaderClientID)
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 2*time.Minute, "limit for the whole command")

	root.AddCommand(newSendCommand(o), newHistoryCommand(o), newResetCommand(o))
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// call connects, invokes one tool and returns its text.
func (o *options) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var header map[string]string
	if o.clientID != "" {
		header = map[string]string{identity.HeaderClientID: o.clientID}
	}
	c := mcp.NewClientWrapper("dialogue-client", version)
	if err := c.ConnectWebSocket(ctx, o.url, header); err != nil {
		return "", fmt.Errorf("connect %s: %w", o.url, err)
	}
	defer c.Close()
	return c.CallText(ctx, tool, args)
}
