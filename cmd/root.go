// Package cmd defines and implements the CLI commands for the dataqual
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/backend"
	"github.com/JakeFAU/dataqual/internal/clock/system"
	"github.com/JakeFAU/dataqual/internal/config"
	"github.com/JakeFAU/dataqual/internal/logging"
	"github.com/JakeFAU/dataqual/internal/metrics"
	"github.com/JakeFAU/dataqual/internal/orchestrator"
)

var cfgFile string

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the services every subcommand needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
}

func (a *app) close() {
	a.orch.CancelWatches()
	_ = a.logger.Sync()
}

// newApp is the application factory. It is a variable so tests can
// replace it with a fake.
var newApp = func(_ context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	clock := system.New()
	client, err := backend.NewClient(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.RequestTimeout(),
		UploadTimeout: cfg.UploadTimeout(),
		APIKey:        cfg.Auth.APIKey,
	}, clock, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("init backend client: %w", err)
	}

	orch := orchestrator.New(client, clock, orchestrator.Config{
		PollInterval:    cfg.PollInterval(),
		PollMaxFailures: cfg.Poller.MaxFailures,
		MaxUploadBytes:  cfg.Upload.MaxFileBytes,
	}, logger)

	return &app{cfg: cfg, logger: logger, orch: orch}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataqual",
		Short: "Client-side orchestrator for the dataset quality service.",
		Long: `dataqual drives a remote data-quality service: it uploads tabular
datasets, starts analysis and cleaning jobs, polls them to completion,
and keeps a cached view of the server's datasets and jobs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, a)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dataqual.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newDatasetsCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newDashboardCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
