package main

import (
	"github.com/spf13/cobra"

	"github.com/jbweber/virtmirror/internal/agent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror daemon",
	Long: `Connect to libvirt, load every object, follow libvirt events and serve
the mirror over HTTP until interrupted.

The first SIGINT or SIGTERM stops gracefully; a second one exits at once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return agent.New(ctx, cfg).Run(ctx)
	},
}
