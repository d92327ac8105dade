package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"filesync/internal/config"
	"filesync/internal/logger"
)

var (
	configPath string
	debug      bool

	// cfg is loaded once in PersistentPreRunE; flags then override it.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "filesync",
	Short:         "Fetch a file from a filesync server, or serve a directory",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if debug {
			cfg.Log.Debug = true
		}
		return logger.Init(logger.Options{Debug: cfg.Log.Debug, JSON: cfg.Log.JSON})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml, .json or .jsonc); defaults to $"+config.EnvVar)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(newServeCmd(), newFetchCmd())
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
