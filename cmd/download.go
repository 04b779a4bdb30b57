package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/scheduler"
	"github.com/tanq16/rangedl/internal/utils"
)

type downloadArgs struct {
	url               string
	workers           int
	maxBytesPerSecond int64
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [URL] [WORKERS] [MAX_BYTES_PER_SECOND]",
		Short: "Download a file over HTTP, resuming any earlier attempt",
		Args:  cobra.RangeArgs(1, 3),
		Run: func(cmd *cobra.Command, args []string) {
			parsed, err := parseDownloadArgs(args)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			cfg := loadConfig(cmd)
			if parsed.workers > 0 {
				cfg.Workers = parsed.workers
			}
			if parsed.maxBytesPerSecond > 0 {
				cfg.MaxBytesPerSecond = parsed.maxBytesPerSecond
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			err = scheduler.Run(ctx, cfg.DownloadConfig(parsed.url), scheduler.Options{})
			stop()
			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().Int64("chunk-size", utils.DefaultChunkSize, "Segment size in bytes")
	cmd.Flags().Duration("connect-timeout", utils.DefaultConnectTimeout, "Connection timeout (eg. 500ms, 2s)")
	cmd.Flags().Duration("read-timeout", utils.DefaultReadTimeout, "Maximum wait for response headers or the next body read")
	cmd.Flags().StringP("user-agent", "a", utils.ToolUserAgent, "User agent")
	cmd.Flags().StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	cmd.Flags().Int("max-failed-rounds", 0, "Give up after this many rounds in which every connection failed (0 retries forever)")
	return cmd
}

// parseDownloadArgs validates the positional arguments. Zero values mean the
// argument was not given.
func parseDownloadArgs(args []string) (downloadArgs, error) {
	var parsed downloadArgs
	if len(args) == 0 {
		return parsed, fmt.Errorf("no URL provided")
	}
	target, err := u.ParseRequestURI(args[0])
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return parsed, fmt.Errorf("invalid URL format: %s", args[0])
	}
	parsed.url = args[0]
	if len(args) > 1 {
		n, err := parsePositive("worker count", args[1])
		if err != nil {
			return parsed, err
		}
		parsed.workers = int(n)
	}
	if len(args) > 2 {
		n, err := parsePositive("max bytes per second", args[2])
		if err != nil {
			return parsed, err
		}
		parsed.maxBytesPerSecond = n
	}
	return parsed, nil
}

func parsePositive(name, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, value)
	}
	return n, nil
}
