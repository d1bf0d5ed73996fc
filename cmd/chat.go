package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"gemini-relay/internal/chatui"
	"gemini-relay/internal/client"
)

type chatOptions struct {
	endpoint string
	model    string
	history  bool
}

func newChatCmd() *cobra.Command {
	opts := chatOptions{endpoint: client.DefaultEndpoint}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.endpoint, client.WithModel(opts.model))
			return chatui.Run(cmd.Context(), c, chatui.Options{
				History:  opts.history,
				Endpoint: c.Endpoint(),
			}, os.Stdin, os.Stdout)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.endpoint, "endpoint", "e", client.DefaultEndpoint, "relay chat endpoint URL")
	fs.StringVarP(&opts.model, "model", "m", "", "model to request (relay default when empty)")
	fs.BoolVar(&opts.history, "history", false, "send the whole conversation with each message")
	return cmd
}
