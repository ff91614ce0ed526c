package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowsmith/internal/server"
)

func (c *cli) newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := listen
			if addr == "" {
				addr = c.cfg.Stream.Listen
			}
			if addr == "" {
				addr = ":8090"
			}
			stores, err := openRunStores(ctx, c.cfg, false)
			if err != nil {
				return err
			}
			defer stores.Close()
			if stores.reader == nil {
				return errNoRunStore
			}

			srv := server.New(addr, server.NewMux(server.Routes{Runs: stores.reader, Logger: c.logger}), c.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			c.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.logger.Warn("server forced to shutdown", zap.Error(err))
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: stream.listen or :8090)")
	return cmd
}
