package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/portfolio"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/synth"
)

var (
	// score flags
	scoreData string
	scoreOut  string
	scoreJSON string
	scoreSave bool
	scoreTop  int

	// portfolio flags
	portfolioData string
	portfolioJSON string

	// generate flags
	generateRows int
	generateSeed uint64
	generateOut  string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a dataset and write the flagged claims",
	Long: `Load policy records, score every claim against the rule set, print the
console summary and write the flagged claims as CSV.

Examples:
  harrier score                                   # ./auto_insurance_data.csv -> ./flagged_claims.csv
  harrier score --data q3.csv --out q3_flags.csv  # custom paths
  harrier score --json report.json --save         # also write the report and store the run`,
	RunE: runScore,
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Print loss ratio and claim frequency by segment",
	RunE:  runPortfolio,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic policy dataset",
	Long: `Generate a reproducible synthetic portfolio. The output format follows the
file extension: .csv for the headered layout, .json for compact rows.`,
	RunE: runGenerate,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreData, "data", "auto_insurance_data.csv", "input dataset (.csv or .json)")
	scoreCmd.Flags().StringVar(&scoreOut, "out", "flagged_claims.csv", "flagged claims CSV output")
	scoreCmd.Flags().StringVar(&scoreJSON, "json", "", "also write the run report as JSON")
	scoreCmd.Flags().BoolVar(&scoreSave, "save", false, "persist the run report to the repository")
	scoreCmd.Flags().IntVar(&scoreTop, "top", 0, "flagged claims kept in the report (default from config)")

	portfolioCmd.Flags().StringVar(&portfolioData, "data", "auto_insurance_data.csv", "input dataset (.csv or .json)")
	portfolioCmd.Flags().StringVar(&portfolioJSON, "json", "", "also write the breakdown as JSON")

	generateCmd.Flags().IntVar(&generateRows, "rows", synth.DefaultConfig().Rows, "number of records")
	generateCmd.Flags().Uint64Var(&generateSeed, "seed", synth.DefaultConfig().Seed, "random seed")
	generateCmd.Flags().StringVar(&generateOut, "out", "auto_insurance_data.csv", "output file (.csv or .json)")

	rootCmd.AddCommand(scoreCmd, portfolioCmd, generateCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	records, err := dataset.Load(scoreData)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %s records from %s\n", humanize.Comma(int64(len(records))), filepath.Base(scoreData))

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	top := cfg.Scoring.TopN
	if scoreTop > 0 {
		top = scoreTop
	}
	opts := []pipeline.Option{pipeline.WithTopN(top)}

	if scoreSave {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		defer repo.Close()
		opts = append(opts, pipeline.WithRepository(repo))
	}

	processor := pipeline.NewProcessor(engine, opts...)
	result, err := processor.Process(cmd.Context(), &pipeline.Input{
		Source:  filepath.Base(scoreData),
		Records: records,
	})
	if err != nil {
		return err
	}

	res := result.Result
	fmt.Fprintf(out, "Customers with claims (total_loss > 0): %s\n\n", humanize.Comma(int64(res.ClaimCount)))

	if err := export.WriteSummary(out, res); err != nil {
		return err
	}

	if err := writeFile(scoreOut, func(w io.Writer) error {
		return export.WriteFlaggedCSV(w, res, processor.RuleSet())
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved %s flagged claims to %s\n", humanize.Comma(int64(len(res.Flagged))), filepath.Base(scoreOut))

	if scoreJSON != "" {
		if err := writeFile(scoreJSON, func(w io.Writer) error {
			return export.WriteJSON(w, result.Report)
		}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved run report to %s\n", filepath.Base(scoreJSON))
	}
	if scoreSave {
		fmt.Fprintf(out, "Stored run %s\n", result.Report.ID)
	}

	fmt.Fprintln(out, "\nDone.")
	return nil
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	records, err := dataset.Load(portfolioData)
	if err != nil {
		return err
	}
	if err := rules.ValidateRecords(records); err != nil {
		return err
	}

	b := portfolio.Summarize(records)
	if err := export.WriteBreakdown(cmd.OutOrStdout(), b); err != nil {
		return err
	}

	if portfolioJSON != "" {
		return writeFile(portfolioJSON, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		})
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	format, err := dataset.FormatOf(generateOut)
	if err != nil {
		return err
	}

	records := synth.Generate(synth.Config{Rows: generateRows, Seed: generateSeed})

	if err := writeFile(generateOut, func(w io.Writer) error {
		if format == dataset.FormatJSON {
			return dataset.WriteCompactJSON(w, records)
		}
		return dataset.WriteCSV(w, records)
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s records to %s\n", humanize.Comma(int64(len(records))), generateOut)
	return nil
}

// writeFile creates path and hands it to write, reporting close errors.
func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
