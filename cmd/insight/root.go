package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/spektr-org/insight/config"
	"github.com/spektr-org/insight/logging"
)

// ============================================================================
// INSIGHT CLI — dashboard, one-shot questions and dataset inspection
// ============================================================================

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "insight",
		Short: "Insight answers natural-language questions about a tabular dataset",
		Long: `Insight loads one dataset, translates questions into a small query
language with a local or hosted language model, and answers them as text or
charts. Run "insight serve" for the browser dashboard.

Environment:
  INSIGHT_*   overrides any config key, e.g. INSIGHT_MODELS_TYPE=gemini`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().String("config", "", "Path to the YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newTableCmd(),
		newDiscoverCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger from the global flags.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}
	logger := logging.New(level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
