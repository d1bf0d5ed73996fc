package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"gemini-relay/internal/client"
)

type askOptions struct {
	endpoint string
	model    string
	stdin    io.Reader
	stdout   io.Writer
	stderr   *os.File
}

func newAskCmd() *cobra.Command {
	opts := askOptions{
		endpoint: client.DefaultEndpoint,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				b, err := io.ReadAll(opts.stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				prompt = strings.TrimSpace(string(b))
			}
			if prompt == "" {
				return errors.New("missing input: pass a prompt or pipe stdin")
			}
			return runAsk(cmd.Context(), opts, prompt)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.endpoint, "endpoint", "e", client.DefaultEndpoint, "relay chat endpoint URL")
	fs.StringVarP(&opts.model, "model", "m", "", "model to request (relay default when empty)")
	return cmd
}

func runAsk(ctx context.Context, opts askOptions, prompt string) error {
	c := client.New(opts.endpoint, client.WithModel(opts.model))

	stop := startTyping(opts.stderr)
	reply, err := c.Ask(ctx, prompt)
	stop()

	if err != nil {
		var cerr *client.Error
		if errors.As(err, &cerr) {
			if hint := client.Hint(cerr.Kind); hint != "" {
				fmt.Fprintln(opts.stderr, hint)
			}
		}
		return err
	}
	_, err = fmt.Fprintln(opts.stdout, reply)
	return err
}

// startTyping draws a typing indicator on w until the returned function is
// called. Nothing is drawn when w is not a terminal.
func startTyping(w *os.File) func() {
	if w == nil || !isatty.IsTerminal(w.Fd()) {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		frames := []string{".  ", ".. ", "..."}
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(w, "\rGemini is typing%s", frames[i%len(frames)])
			select {
			case <-done:
				fmt.Fprint(w, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
