package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/config"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

var (
	cfgFile   string
	debug     bool
	outputDir string
)

var RangedlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "rangedl",
	Short:         "rangedl is a resumable multi-connection HTTP downloader",
	Version:       RangedlVersion,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory for the output file and its metadata")

	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig resolves the configuration for cmd and exits on failure.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	utils.InitLogger(cfg.Log.Debug)
	return cfg
}

func outputPathFor(cfg *config.Config, url string) string {
	path, err := utils.OutputPath(cfg.OutputDir, url)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	return path
}
