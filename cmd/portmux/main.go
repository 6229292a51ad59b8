// Command portmux serves a health endpoint and a WebSocket tunnel backend on
// one public port, and learns the public hostname the tunnel daemon was
// assigned.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMainCommand() *cobra.Command {
	opts, envErr := optionsFromEnv()
	if opts == nil {
		opts = &options{}
	}
	command := &cobra.Command{
		Use:           "portmux",
		Short:         "Serve health checks and a tunnel backend on one public port",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return fmt.Errorf("environment: %w", envErr)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	opts.bindFlags(command.PersistentFlags())
	command.AddCommand(newLinkCommand(opts), newVersionCommand())
	return command
}

func main() {
	if err := newMainCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "portmux:", err)
		os.Exit(1)
	}
}
