package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gemini-relay",
		Short:         "Chat relay that keeps the Gemini API key on the server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newAskCmd(),
		newAuditCmd(),
	)
	return cmd
}
