package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the feed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			if !opts.debug {
				gin.SetMode(gin.ReleaseMode)
			}

			rt, err := a.build(metrics.New(prometheus.DefaultRegisterer))
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("Failed to release resources", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("Loaded sources",
				zap.Int("count", a.catalog.Len()),
				zap.String("profile", string(a.cfg.Profile)))

			srv := server.New(rt.pipeline, server.Options{
				Status: rt.status,
				Logger: a.logger.Named("http"),
			})
			return srv.ListenAndServe(ctx, a.cfg.Addr)
		},
	}
}
