// Harrier - Claims anomaly scoring for auto insurance portfolios.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	// Global flags
	cfgFile  string
	profile  string
	logLevel string

	// cfg is loaded before every command runs.
	cfg *domain.Config
)

var rootCmd = &cobra.Command{
	Use:   "harrier",
	Short: "Harrier - claims anomaly scoring for auto insurance portfolios",
	Long: `Harrier scores auto insurance claim records against a fixed set of
weighted anomaly rules and ranks the customers most worth investigating.

Run it once over a CSV extract with "harrier score", or start the HTTP API
and async worker with "harrier serve".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{File: cfgFile, Profile: profile})
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}

		// Command output goes to stdout; logs stay on stderr.
		logger, err := config.NewLogger(os.Stderr, loaded.Logging)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "harrier %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./harrier.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile (local, distributed)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newEngine builds the rule engine from the configured limits.
func newEngine(cfg *domain.Config) (*rules.Engine, error) {
	rs := domain.DefaultRuleSet().WithLimits(cfg.Scoring.Limits)
	engine, err := rules.NewEngine(rs, cfg.Scoring.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	return engine, nil
}
