package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

var (
	debug      bool
	logFile    string
	configPath string
	logCloser  io.Closer
)

var GDCClientVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "gdc-client",
	Short:         "Transfer files from the Genomic Data Commons",
	Version:       GDCClientVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := utils.InitLogger(debug, logFile)
		if err != nil {
			return fmt.Errorf("error opening log file: %v", err)
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (utils.Config, error) {
	if configPath != "" {
		return utils.LoadConfig(configPath, true)
	}
	return utils.LoadConfig(utils.DefaultConfigPath(), false)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging; the first failure aborts the batch")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.gdc-client/config.yml)")

	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newCleanCmd())
}
