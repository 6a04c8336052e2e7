package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzo-agent/internal/output"
	"github.com/tanq16/danzo-agent/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [dir]",
		Short: "Remove partial files left in a download directory",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := outputDir
			if len(args) > 0 {
				dir = args[0]
			}
			removed, err := utils.CleanPartials(dir)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial file(s) from %s", removed, utils.TempDir(dir)))
		},
	}
}
