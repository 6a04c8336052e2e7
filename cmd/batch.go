package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzo-agent/internal/output"
	"github.com/tanq16/danzo-agent/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML list. Each entry has a link and
optionally op (directory), name, headers, and etag plus temp to continue a
paused download. Files written by --pause-on-interrupt use this format.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			cfg, err := buildConfig(cmd)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintInfo(fmt.Sprintf("Loaded %d entries from %s", len(entries), args[0]))
			execute(cfg, entries)
		},
	}
	return cmd
}
