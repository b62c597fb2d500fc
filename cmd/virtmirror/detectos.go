package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/virtmirror/internal/osdetect"
)

var detectOSCmd = &cobra.Command{
	Use:   "detect-os <path>",
	Short: "Identify the format and operating system of a disk image",
	Long: `Classify a disk image as ISO, qcow2 or raw and, for installer ISOs,
identify the operating system from the volume label and the files on it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		res, err := osdetect.Detect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		result, err := formatter.FormatRecord(res)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	},
}
