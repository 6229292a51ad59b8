package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/sharelink"
)

// newLinkCommand prints the share link for a hostname without starting the
// listener
func newLinkCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "link <hostname>",
		Short: "Print the client share link for a public hostname",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := sharelink.New(opts.linkParams(discovery.Result{Hostname: args[0], Source: discovery.SourceFixed}))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link.String())
			return nil
		},
	}
}
