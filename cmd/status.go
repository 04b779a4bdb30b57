package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/metadata"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [URL]",
		Short: "Show the recorded progress of a download without contacting the server",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig(cmd)
			outPath := outputPathFor(cfg, args[0])
			rec, err := metadata.ReadRecord(utils.MetadataPath(outPath))
			if errors.Is(err, os.ErrNotExist) {
				output.PrintInfo(fmt.Sprintf("No download in progress for %s", outPath))
				return
			}
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			summary, err := rec.Summary()
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			output.PrintInfo(fmt.Sprintf("%s: %d%% downloaded (%s of %s)", outPath, summary.Percent,
				output.FormatBytes(uint64(summary.BytesDownloaded)), output.FormatBytes(uint64(summary.FileSize))))
			output.PrintInfo(fmt.Sprintf("%d of %d segments done, %d in flight", summary.DoneSegments, summary.Segments, summary.InFlight))
			if rec.URL != "" && rec.URL != args[0] {
				output.PrintWarning(fmt.Sprintf("Metadata was recorded for %s; a download of this URL will start over", rec.URL))
			}
			output.PrintDebug("Last updated " + rec.UpdatedAt.Local().Format(time.DateTime))
		},
	}
}
