package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxdhml/pulse-coach-backend/internal/config"
	"github.com/maxdhml/pulse-coach-backend/internal/delivery"
	"github.com/maxdhml/pulse-coach-backend/internal/logging"
	"github.com/maxdhml/pulse-coach-backend/internal/metrics"
	"github.com/maxdhml/pulse-coach-backend/internal/relay"
	"github.com/maxdhml/pulse-coach-backend/internal/server"
	"github.com/maxdhml/pulse-coach-backend/internal/store"
	"github.com/maxdhml/pulse-coach-backend/internal/strava"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulse-coach",
		Short:         "Strava OAuth relay for the Pulse Coach app",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		newServeCmd(),
		newRefreshCmd(),
		newActivitiesCmd(),
		newAccountCmd(),
	)

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newRefreshCmd() *cobra.Command {
	var athleteID int64

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored access token of an athlete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acct, err := a.relay.RefreshAccount(ctx, athleteID)
				if err != nil {
					return fmt.Errorf("refreshing athlete %d: %w", athleteID, err)
				}

				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}

	cmd.Flags().Int64Var(&athleteID, "athlete", 0, "Strava athlete id")
	_ = cmd.MarkFlagRequired("athlete")

	return cmd
}

func newActivitiesCmd() *cobra.Command {
	var (
		athleteID     int64
		page, perPage int
	)

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "List recent activities of an athlete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acts, err := a.relay.Activities(ctx, athleteID, page, perPage)
				if err != nil {
					return fmt.Errorf("listing activities for athlete %d: %w", athleteID, err)
				}

				return printJSON(cmd.OutOrStdout(), acts)
			})
		},
	}

	cmd.Flags().Int64Var(&athleteID, "athlete", 0, "Strava athlete id")
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&perPage, "per-page", strava.DefaultPerPage, "Activities per page")
	_ = cmd.MarkFlagRequired("athlete")

	return cmd
}

func newAccountCmd() *cobra.Command {
	var athleteID int64

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the stored account of an athlete (without tokens)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				acct, err := a.accounts.Get(ctx, athleteID)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), acct)
			})
		},
	}

	cmd.Flags().Int64Var(&athleteID, "athlete", 0, "Strava athlete id")
	_ = cmd.MarkFlagRequired("athlete")

	return cmd
}

// app is the wired set of components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	accounts store.AccountStore
	metrics  *metrics.Metrics
	relay    *relay.Relay
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}

	accounts, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening account store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	client := strava.NewClient(strava.NewHTTPClient(cfg.ProviderTimeout), strava.Endpoints{
		AuthURL:  cfg.StravaAuthURL,
		TokenURL: cfg.StravaTokenURL,
		APIURL:   cfg.StravaAPIURL,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		accounts: accounts,
		metrics:  m,
		relay:    relay.New(relay.SettingsFromConfig(cfg), client, accounts, resolver, m, logger),
	}, nil
}

func (a *app) Close() error {
	return a.accounts.Close()
}

// newResolver builds the delivery table from DELIVERY_MODE and
// DELIVERY_RULES_FILE. A forced mode wins over the rules file.
func newResolver(cfg *config.Config) (*delivery.Resolver, error) {
	switch cfg.DeliveryMode {
	case config.DeliveryRedirect:
		return delivery.NewResolver(delivery.Forced(delivery.KindRedirect)), nil
	case config.DeliveryPage:
		return delivery.NewResolver(delivery.Forced(delivery.KindPage)), nil
	}

	if cfg.DeliveryRulesFile == "" {
		return delivery.NewResolver(delivery.DefaultTable()), nil
	}

	table, err := delivery.LoadRules(cfg.DeliveryRulesFile)
	if err != nil {
		return nil, err
	}

	return delivery.NewResolver(table), nil
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, logging.NewLogger(cfg.Environment, cfg.LogLevel), nil
}

// withApp loads config, wires the app and runs fn, closing the store
// afterwards.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runServe(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("pulse-coach starting",
		slog.String("version", Version),
		slog.String("store", cfg.StoreBackend),
		slog.String("delivery_mode", cfg.DeliveryMode),
		slog.Bool("metrics", cfg.MetricsEnabled),
	)

	if !cfg.HasCredentials() {
		logger.Warn("STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET not set; auth endpoints will fail")
	}

	handler := server.NewRouter(server.Config{
		Relay:                 a.relay,
		Metrics:               a.metrics,
		Logger:                logger,
		TrustForwardedHeaders: cfg.TrustForwardedHeaders,
		RateLimitRPS:          cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, server.New(cfg.ListenAddr, handler), logger)
	})

	return g.Wait()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
