// Command log-dashboard serves the log dashboard API and runs one-off
// exports against the log service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/config"
	"github.com/trade-engine/log-dashboard/internal/restapi"
	"github.com/trade-engine/log-dashboard/internal/state"
	"github.com/trade-engine/log-dashboard/pkg/schema"
)

// Version is set at build time.
var Version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
	backendURL string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:          "log-dashboard",
		Short:        "Log dashboard API server and export tool",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to configuration file (defaults only when empty)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file loaded before environment overrides")
	rootCmd.PersistentFlags().StringVar(&flags.backendURL, "backend", "", "Log service URL, overrides backend.url")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newExportCmd(flags),
		newExportsCmd(flags),
		newFiltersCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of log-dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "log-dashboard version %s\n", Version)
			return err
		},
	}
}

// load reads .env, the config file and env overrides, then applies flags.
func (f *rootFlags) load() (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(f.configPath, nil)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}
	if f.backendURL != "" {
		cfg.Backend.URL = f.backendURL
	}
	if Version != "dev" {
		cfg.Application.Version = Version
	}
	return cfg, nil
}

func newBackendClient(cfg *config.Config, logger *zap.Logger) *restapi.Client {
	limits := make(map[restapi.Endpoint]int, len(cfg.Backend.RateLimits))
	for name, n := range cfg.Backend.RateLimits {
		limits[restapi.Endpoint(name)] = n
	}
	return restapi.NewClient(logger.Named("backend"), restapi.Options{
		BaseURL:        cfg.Backend.URL,
		APIPrefix:      cfg.Backend.APIPrefix,
		Timeout:        cfg.Backend.Timeout,
		RateLimits:     limits,
		MaxRetries:     cfg.Backend.MaxRetries,
		InitialBackoff: cfg.Backend.InitialBackoff,
		MaxBackoff:     cfg.Backend.MaxBackoff,
		SeverityCase:   cfg.Backend.SeverityCase,
	})
}

func newDashboardState(cfg *config.Config, logger *zap.Logger, notifier state.Notifier) *state.DashboardState {
	return state.NewDashboardState(logger.Named("state"), notifier, state.WithDefaults(state.Defaults{
		RangeDays:    cfg.Dashboard.DefaultRangeDays,
		TimeGrouping: schema.TimeGrouping(cfg.Dashboard.DefaultGroupBy),
	}))
}
