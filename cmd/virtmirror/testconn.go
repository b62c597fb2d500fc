package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connections",
	Long:  `Connect to the libvirt daemon of every configured scope and display its version.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a := openAgent(ctx)
		defer closeAgent(ctx, a)

		failed := 0
		for _, scope := range a.Scopes() {
			fmt.Fprintf(out, "Testing %s connection (%s)...\n", scope, a.URI(scope))
			version, err := a.Ping(ctx, scope)
			if err != nil {
				failed++
				fmt.Fprintf(out, "✗ %v\n", err)
				continue
			}
			fmt.Fprintf(out, "✓ Libvirt version: %s\n", formatLibVersion(version))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d connections failed", failed, len(a.Scopes()))
		}
		fmt.Fprintln(out, "\nConnection test successful!")
		return nil
	},
}

// formatLibVersion formats libvirt's packed version, e.g. 8006000 as 8.6.0.
func formatLibVersion(v uint64) string {
	major := v / 1000000
	minor := (v % 1000000) / 1000
	patch := v % 1000
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
