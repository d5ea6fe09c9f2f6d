package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Write the calendar once as iCalendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			fetcher, closeStore, err := newFetcher(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			doc, err := fetcher.Execute(cmd.Context(), executeOptions(cfg)...)
			if err != nil {
				return fmt.Errorf("failed to fetch calendar: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if err := doc.Encode(w); err != nil {
				return fmt.Errorf("failed to write calendar: %w", err)
			}
			logger.Info("calendar written", zap.Int("events", doc.Len()), zap.String("output", output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "File to write to, - for stdout")

	return cmd
}
