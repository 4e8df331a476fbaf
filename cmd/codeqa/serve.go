package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	codeqahttp "github.com/fyrsmithlabs/codeqa/internal/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API until interrupted.

Endpoints:
  POST   /api/v1/ingest
  POST   /api/v1/query
  POST   /api/v1/search
  GET    /api/v1/repos
  DELETE /api/v1/repos/:id
  GET    /api/v1/stats
  GET    /health
  GET    /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				srvCfg := &codeqahttp.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port}
				if cmd.Flags().Changed("host") {
					srvCfg.Host = host
				}
				if cmd.Flags().Changed("port") {
					srvCfg.Port = port
				}
				logger := a.logger.Underlying().Named("http")
				srv, err := codeqahttp.NewServer(a.registry, logger, srvCfg)
				if err != nil {
					return fmt.Errorf("failed to create http server: %w", err)
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("http shutdown incomplete", zap.Error(err))
				}
				return <-errCh
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
