package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/rss"
)

func newFetchCommand(opts *rootOptions) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "fetch <source-id>",
		Short: "Run the pipeline once and print the RSS document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			rt, err := a.build(metrics.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					a.logger.Warn("Failed to release resources", zap.Error(err))
				}
			}()

			result, err := rt.pipeline.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data, err := rss.Marshal(result)
			if err != nil {
				return fmt.Errorf("failed to serialize feed: %w", err)
			}
			if validate {
				if _, err := rss.Validate(data); err != nil {
					return fmt.Errorf("feed failed validation: %w", err)
				}
			}

			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}

			fields := []zap.Field{
				zap.String("source", result.SourceID),
				zap.String("outcome", string(result.Outcome)),
				zap.Int("items", len(result.Items)),
			}
			if result.Err != nil {
				fields = append(fields, zap.Error(result.Err))
			}
			a.logger.Info("Fetched feed", fields...)
			return nil
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "parse the generated feed back and fail if it is invalid")
	return cmd
}
