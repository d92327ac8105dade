package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"filesync/internal/config"
	"filesync/internal/logger"
	"filesync/internal/network"
	"filesync/internal/store"
)

type serveFlags struct {
	listen       string
	root         string
	chunkSize    int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.listen, "listen", "", "address to listen on (default \":12345\")")
	fs.StringVar(&f.root, "root", "", "directory to serve (default \".\")")
	fs.IntVar(&f.chunkSize, "chunk-size", 0, "payload write size in bytes (default 1024)")
	fs.DurationVar(&f.readTimeout, "read-timeout", 0, "how long to wait for a request (default 30s)")
	fs.DurationVar(&f.writeTimeout, "write-timeout", 0, "bound on each payload chunk write (default 30s)")
}

// apply copies the flags the user set over the loaded config.
func (f *serveFlags) apply(fs *pflag.FlagSet, c *config.ServerConfig) {
	if fs.Changed("listen") {
		c.Listen = f.listen
	}
	if fs.Changed("root") {
		c.Root = f.root
	}
	if fs.Changed("chunk-size") {
		c.ChunkSize = f.chunkSize
	}
	if fs.Changed("read-timeout") {
		c.ReadTimeout = config.Duration(f.readTimeout)
	}
	if fs.Changed("write-timeout") {
		c.WriteTimeout = config.Duration(f.writeTimeout)
	}
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the files under a directory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd.Flags(), &cfg.Server)
			if err := cfg.Validate(); err != nil {
				return err
			}

			files, err := store.New(cfg.Server.Root)
			if err != nil {
				return err
			}
			defer files.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := network.NewServer(files, cfg.Server.ChunkSize,
				cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std())
			err = server.ListenAndServe(ctx, cfg.Server.Listen)
			if err == nil || ctx.Err() != nil {
				logger.Info.Println("Server stopped")
			}
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
