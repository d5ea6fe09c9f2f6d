package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beekhof/exchange-ical-proxy/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar over HTTP",
		Long: `Serve the calendar over HTTP. Every request to / or /calendar.ics runs a
fresh query against Exchange; /calendar.json returns the same events in the
Google Calendar v3 list format.`,
		Args: cobra.NoArgs,
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

			srv := server.New(fetcher,
				server.WithLogger(logger),
				server.WithCalendarName(name),
				server.WithMetrics(cfg.MetricsEnabled),
				server.WithExecuteOptions(executeOptions(cfg)...),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting calendar proxy",
				zap.String("addr", cfg.LocalServer.Addr()),
				zap.Bool("metrics", cfg.MetricsEnabled))
			return srv.ListenAndServe(ctx, cfg.LocalServer.Addr())
		},
	}

	cmd.Flags().String("address", "127.0.0.1", "Address to listen on")
	cmd.Flags().Int("port", 8000, "Port to listen on")
	cmd.Flags().StringVar(&name, "calendar-name", "Exchange Calendar", "Calendar name reported in the JSON view")

	return cmd
}
