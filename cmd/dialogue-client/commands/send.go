package commands

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audio-dialogue-lab/internal/mcp"
)

func newSendCommand(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Upload a clip and print the assistant reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
			reply, err := o.call(cmd.Context(), mcp.ToolProcessAudio, map[string]any{
				"audio_base64": base64.StdEncoding.EncodeToString(data),
				"filename":     filepath.Base(args[0]),
				"format":       format,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "wav, mp3 or opus (default: detect)")
	return cmd
}
