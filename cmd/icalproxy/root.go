package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/beekhof/exchange-ical-proxy/internal/auth"
	"github.com/beekhof/exchange-ical-proxy/internal/config"
	"github.com/beekhof/exchange-ical-proxy/internal/exchange"
	"github.com/beekhof/exchange-ical-proxy/internal/logging"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "icalproxy",
		Short: "Serves an Exchange calendar as iCalendar",
		Long: `icalproxy logs in to Outlook Web Access with form-based authentication,
queries a mailbox calendar over WebDAV and renders the appointments as an
iCalendar feed.

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (ICALPROXY_EXCHANGE_SERVER, ICALPROXY_LOG_LEVEL, ...)
  3. Config file (--config; JSON, YAML or INI)
  4. Defaults`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "icalproxy version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to a JSON, YAML or INI config file")
	flags.String("server", "", "Exchange server host[:port]")
	flags.String("user", "", "Exchange user name")
	flags.String("password-file", "", "File holding the Exchange password (default ~/.exchange.pass)")
	flags.Bool("validate-login", true, "Check the session cookie against the mailbox after each login")
	flags.Bool("alarms", true, "Attach a reminder to events that have not started yet")
	flags.Duration("alarm-lead", 15*time.Minute, "How long before the start reminders fire")
	flags.Duration("timeout", 30*time.Second, "Timeout for each request to Exchange")
	flags.String("token-store", config.TokenStoreNone, "Where session cookies are kept between runs: none, file or redis")
	flags.String("token-path", "", "Token file for --token-store=file")
	flags.String("redis-addr", "", "Redis address for --token-store=redis")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Shorthand for --log-level=debug")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("reference-zone", "UTC", "Name of the fixed zone used for dates without an offset")
	flags.Duration("reference-offset", 0, "UTC offset of the reference zone, e.g. -5h")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newVersionCmd(version))

	return cmd
}

// setup loads the configuration and builds the logger for a subcommand.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(o.configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newFetcher wires a session and its token store into a calendar command.
// The returned function releases the token store.
func newFetcher(cfg *config.Config, logger *zap.Logger) (*exchange.FetchCalendar, func(), error) {
	sessionOpts := []exchange.SessionOption{exchange.WithLogger(logger)}
	closer := func() {}

	switch cfg.TokenStore.Type {
	case config.TokenStoreFile:
		sessionOpts = append(sessionOpts, exchange.WithTokenStore(auth.NewFileTokenStore(cfg.TokenStore.Path)))
	case config.TokenStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closer = func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}
		store := auth.NewRedisTokenStore(client, cfg.Exchange.Server, cfg.Exchange.User)
		sessionOpts = append(sessionOpts, exchange.WithTokenStore(store))
	}

	session, err := exchange.NewSession(exchange.SessionConfig{
		Server:        cfg.Exchange.Server,
		Username:      cfg.Exchange.User,
		Password:      cfg.Exchange.Password,
		Root:          cfg.Exchange.Root,
		Lifetime:      cfg.SessionLifetime,
		ValidateLogin: cfg.Exchange.ValidateLogin,
		Timeout:       cfg.HTTPTimeout,
	}, sessionOpts...)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	fetcher := exchange.NewFetchCalendar(session,
		exchange.WithService(cfg.Exchange.Service),
		exchange.WithZone(cfg.Calendar.Zone()),
		exchange.WithCommandLogger(logger),
	)

	logger.Debug("configured exchange session",
		logging.Server(cfg.Exchange.Server),
		logging.User(cfg.Exchange.User),
		zap.String("token_store", cfg.TokenStore.Type))

	return fetcher, closer, nil
}

func executeOptions(cfg *config.Config) []exchange.ExecuteOption {
	return []exchange.ExecuteOption{
		exchange.WithAlarms(cfg.Calendar.Alarms),
		exchange.WithAlarmLead(cfg.Calendar.AlarmLead),
	}
}
