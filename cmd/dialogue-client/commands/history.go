package commands

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/audio-dialogue-lab/internal/conversation"
	"github.com/audio-dialogue-lab/internal/mcp"
)

func newHistoryCommand(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := o.call(cmd.Context(), mcp.ToolHistory, map[string]any{})
			if err != nil {
				return err
			}
			if asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			var turns []conversation.Turn
			if err := sonic.UnmarshalString(out, &turns); err != nil {
				return fmt.Errorf("failed to parse history: %w", err)
			}
			for _, t := range turns {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t.Role, t.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw turns as JSON")
	return cmd
}

func newResetCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := o.call(cmd.Context(), mcp.ToolReset, map[string]any{})
			if err != nil {
				return err
			}
			var res struct {
				Reset bool `json:"reset"`
			}
			if err := sonic.UnmarshalString(out, &res); err != nil {
				return fmt.Errorf("failed to parse reply: %w", err)
			}
			if res.Reset {
				fmt.Fprintln(cmd.OutOrStdout(), "conversation cleared")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no conversation to clear")
			}
			return nil
		},
	}
}
