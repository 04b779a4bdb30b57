package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [URL]",
		Short: "Remove the metadata kept for an unfinished download",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			outPath := outputPathFor(cfg, args[0])
			removed, err := utils.CleanSidecars(outPath)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up metadata: %v", err))
				os.Exit(1)
			}
			if removed == 0 {
				output.PrintInfo(fmt.Sprintf("No metadata found for %s", outPath))
				return
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d metadata file(s) for %s", removed, outPath))
		},
	}
}
