package main

import (
	"github.com/spf13/cobra"

	"github.com/spektr-org/insight/app"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the Model Context Protocol (MCP) server on stdio",
		Long: `Serves the ask_dataset and filter_rows tools and the insight://schema
resource over standard input/output. Logs go to stderr so they never corrupt
the JSON-RPC stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.MCP()
			if err != nil {
				return err
			}
			logger.Info("starting MCP server (stdio)")
			return srv.ServeStdio()
		},
	}
}
