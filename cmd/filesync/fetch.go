package main

import (
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"filesync/internal/config"
	"filesync/internal/network"
	"filesync/internal/output"
	"filesync/internal/store"
)

// errReported is returned once a failure has already been printed.
var errReported = errors.New("fetch failed")

func newFetchCmd() *cobra.Command {
	var (
		dir     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fetch FILE [SERVER]",
		Short: "Download FILE, or append what the server has beyond the local copy",
		Long: `Fetch asks the server for FILE. Without a local copy the whole file is
downloaded; with one, only the bytes the server has past the local size are
appended. SERVER defaults to the configured client.server (127.0.0.1); a
missing port means 12345.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			if fs.Changed("dir") {
				cfg.Client.Dir = dir
			}
			if fs.Changed("timeout") {
				cfg.Client.IOTimeout = config.Duration(timeout)
			}
			if len(args) == 2 {
				cfg.Client.Server = args[1]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			files, err := store.New(cfg.Client.Dir)
			if err != nil {
				return err
			}
			defer files.Close()
			client := &network.Client{
				Store:       files,
				DialTimeout: cfg.Client.DialTimeout.Std(),
				IOTimeout:   cfg.Client.IOTimeout.Std(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := output.New(cmd.OutOrStdout())
			name := args[0]
			result, err := client.Run(ctx, name, config.ServerAddress(cfg.Client.Server))
			if err != nil {
				out.Failure(name, err)
				return errReported
			}
			out.Success(name, result.Outcome.String(), result.Size, result.Received)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "local directory (default \".\")")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound on each read or write (default 30s)")
	return cmd
}
