package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptidehq/riptide/internal/output"
	"github.com/riptidehq/riptide/internal/utils"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [PATH]",
		Short: "Remove leftover partial files from interrupted downloads",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if err := utils.Clean(path); err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
		},
	}
	return cmd
}
