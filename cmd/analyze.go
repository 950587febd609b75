package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-cli/internal/cost"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a takeoff over one drawing set",
	Long:  "Opens a PDF drawing set, runs every pipeline stage and prints the result as indented JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		topics, _ := cmd.Flags().GetString("topics")
		output, _ := cmd.Flags().GetString("output")

		if file == "" {
			return eris.New("--file is required")
		}
		if _, err := os.Stat(file); err != nil {
			return eris.Wrapf(err, "analyze: stat %s", file)
		}

		tax, err := loadTaxonomy(cfg.Pipeline, splitTopics(topics))
		if err != nil {
			return eris.Wrap(err, "analyze: load topics")
		}

		env, err := initPipeline(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("analyzing drawing set",
			zap.String("file", file),
			zap.Strings("topics", tax.Keys()),
		)

		result, err := env.Pipeline.Run(ctx, file, tax)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		zap.L().Info("takeoff complete",
			zap.String("run_id", result.RunID),
			zap.Int("line_items", len(result.LineItems)),
			zap.Int("conflicts", len(result.Conflicts)),
			zap.Float64("cost_usd", result.Cost.TotalUSD),
		)
		for _, name := range cost.StageNames(result.Cost) {
			sc := result.Cost.Stages[name]
			zap.L().Debug("stage cost",
				zap.String("stage", name),
				zap.Int("calls", sc.Calls),
				zap.Int("input_tokens", sc.InputTokens),
				zap.Int("output_tokens", sc.OutputTokens),
				zap.Float64("usd", sc.USD),
			)
		}

		if output == "" {
			return writeIndentedJSON(os.Stdout, result)
		}

		f, err := os.Create(output)
		if err != nil {
			return eris.Wrapf(err, "analyze: create %s", output)
		}
		defer f.Close() //nolint:errcheck
		return writeIndentedJSON(f, result)
	},
}

func init() {
	analyzeCmd.Flags().String("file", "", "path to the PDF drawing set")
	analyzeCmd.Flags().String("topics", "", "comma-separated topic keys (default: configured taxonomy)")
	analyzeCmd.Flags().String("output", "", "write the result JSON to this file instead of stdout")
	rootCmd.AddCommand(analyzeCmd)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
