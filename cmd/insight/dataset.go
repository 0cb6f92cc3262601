package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spektr-org/insight/app"
	"github.com/spektr-org/insight/render"
	"github.com/spektr-org/insight/schema"
)

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the cleaned dataset",
		Example: `  insight table --limit 20
  insight table --filter Variety:gala`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			table, err := app.LoadTable(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}

			rows := table.Rows()
			if filter != "" {
				col, substr, ok := strings.Cut(filter, ":")
				if !ok {
					return fmt.Errorf("filter must be <column>:<text>, got %q", filter)
				}
				if rows, err = table.Filter(col, substr); err != nil {
					return err
				}
			}
			total := len(rows)
			if limit > 0 && limit < len(rows) {
				rows = rows[:limit]
			}

			out := cmd.OutOrStdout()
			render.WriteRows(out, table.Headers(), rows)
			fmt.Fprintf(out, "%d of %d rows\n", len(rows), total)
			return nil
		},
	}
	cmd.Flags().String("filter", "", "Keep rows whose column contains text, as <column>:<text>")
	cmd.Flags().IntP("limit", "n", 0, "Maximum rows printed (0 prints all)")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the auto-detected schema of the dataset",
		Example: `  insight discover
  insight discover --refine --out schema.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			refine, _ := cmd.Flags().GetBool("refine")
			format, _ := cmd.Flags().GetString("format")
			outFile, _ := cmd.Flags().GetString("out")

			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			table, err := app.LoadTable(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			sch, err := table.Schema()
			if err != nil {
				return err
			}
			logger.Info("schema discovered",
				"dimensions", len(sch.Dimensions),
				"measures", len(sch.Measures),
				"skipped", len(sch.SkippedColumns))

			if refine {
				models, err := app.BuildModels(cfg.Models)
				if err != nil {
					return err
				}
				refined, err := schema.Refine(cmd.Context(), sch, models.Code, logger)
				if err != nil {
					logger.Warn("schema refinement failed, using discovered schema", "error", err)
				} else {
					sch = refined
				}
			}

			w := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
				logger.Info("schema written", "path", outFile)
			}
			return writeJSON(w, sch, format)
		},
	}
	cmd.Flags().Bool("refine", false, "Enrich the schema with the configured code model")
	cmd.Flags().StringP("format", "f", "pretty", "Output format: json or pretty")
	cmd.Flags().StringP("out", "o", "", "Write the schema to file instead of stdout")
	return cmd
}
