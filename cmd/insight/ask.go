package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spektr-org/insight/app"
	"github.com/spektr-org/insight/engine"
	core "github.com/spektr-org/insight/insight"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one question and exit",
		Example: `  insight ask --prompt "What is the average yield?"
  insight ask --prompt "yield by variety" --format csv --out yield.csv
  insight ask --prompt "average brix per site" --mode use_llm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, _ := cmd.Flags().GetString("prompt")
			mode, _ := cmd.Flags().GetString("mode")
			format, _ := cmd.Flags().GetString("format")
			outFile, _ := cmd.Flags().GetString("out")

			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Orchestrator.HandleQuery(cmd.Context(), core.Request{
				Tab:     core.TabInsight,
				Trigger: 1,
				Mode:    mode,
				Prompt:  prompt,
			})
			if err != nil {
				return err
			}
			if res.Message != "" {
				return errors.New(res.Message)
			}
			if len(res.Output) == 0 || res.Instruction == nil {
				return errors.New("no answer")
			}

			w := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			turn := res.Output[len(res.Output)-1]
			switch format {
			case "text":
				if turn.IsImage() {
					fmt.Fprintln(w, turn.Image)
				} else {
					fmt.Fprintln(w, turn.Answer)
				}
				return nil
			case "csv", "json", "pretty":
			default:
				return fmt.Errorf("unknown format %q (want text, json, pretty or csv)", format)
			}

			// Structured formats need the executed result behind the answer.
			result, err := execute(a, *res.Instruction)
			if err != nil {
				return err
			}
			if format == "csv" {
				return writeCSV(w, result)
			}
			return writeJSON(w, cliOutput{
				Query:       prompt,
				Mode:        mode,
				Instruction: *res.Instruction,
				Answer:      turn.Answer,
				Image:       turn.Image,
				Result:      result,
			}, format)
		},
	}
	cmd.Flags().StringP("prompt", "p", "", "The question (required)")
	cmd.Flags().String("mode", core.ModeRaw, "not_use_llm returns the raw answer, use_llm rephrases it")
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json, pretty, csv")
	cmd.Flags().StringP("out", "o", "", "Write output to file instead of stdout")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func execute(a *app.App, instruction string) (*engine.Result, error) {
	spec, err := engine.ParseInstruction(instruction)
	if err != nil {
		return nil, err
	}
	return engine.Execute(spec, a.Table.View(),
		engine.WithDefaultMeasure(a.Schema.GetDefaultMeasure()),
		engine.WithLogger(a.Logger))
}

// cliOutput is the json and pretty output of ask.
type cliOutput struct {
	Query       string         `json:"query"`
	Mode        string         `json:"mode"`
	Instruction string         `json:"instruction"`
	Answer      string         `json:"answer,omitempty"`
	Image       string         `json:"image,omitempty"`
	Result      *engine.Result `json:"result"`
}
