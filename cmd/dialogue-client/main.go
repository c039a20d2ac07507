// Package main provides dialogue-client, a command line client that talks
// to the audio dialogue service over its MCP WebSocket endpoint.
//
// Usage:
//
//	dialogue-client [flags] <command> [args]
//
// Commands:
//
//	send      - upload a clip and print the assistant reply
//	history   - print the conversation so far
//	reset     - forget the conversation
package main

import (
	"fmt"
	"os"

	"github.com/audio-dialogue-lab/cmd/dialogue-client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
