package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reconciliation-engine/internal/fixtures"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type fixtureOptions struct {
	outputDir string
	start     string
	end       string
	minAmount float64
	maxAmount float64
	config    fixtures.Config
	pattern   string
}

func newFixturesCmd() *cobra.Command {
	fo := &fixtureOptions{config: fixtures.DefaultConfig()}
	def := fo.config

	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Generate a sample ledger and bank statement",
		Long: `Fixtures writes ledger.csv and statement.csv into the output directory: a
set of recorded transactions and a bank statement whose lines are derived
from them. The files can be fed straight to 'transactions load' and 'ingest',
or to 'reconcile'.

Patterns:
  random      match-ratio of the lines come from the ledger, some with drift
  exact       every line mirrors a ledger entry
  mismatched  no line comes from the ledger

Examples:
  reconciler fixtures --output-dir ./sample
  reconciler fixtures --count 1000 --pattern random --match-ratio 0.9 --seed 7`,
		Args: cobra.NoArgs,
		// needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixtures(cmd, fo)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&fo.outputDir, "output-dir", ".", "directory to write ledger.csv and statement.csv into")
	flags.IntVar(&fo.config.Count, "count", def.Count, "number of statement lines")
	flags.StringVar(&fo.start, "start-date", models.FormatDate(def.StartDate), "first date (YYYY-MM-DD)")
	flags.StringVar(&fo.end, "end-date", models.FormatDate(def.EndDate), "last date (YYYY-MM-DD)")
	flags.Float64Var(&fo.minAmount, "min-amount", def.MinAmount.InexactFloat64(), "smallest amount")
	flags.Float64Var(&fo.maxAmount, "max-amount", def.MaxAmount.InexactFloat64(), "largest amount")
	flags.Float64Var(&fo.config.MatchRatio, "match-ratio", def.MatchRatio, "share of lines derived from the ledger (random pattern)")
	flags.StringVar(&fo.pattern, "pattern", string(def.Pattern), "random, exact or mismatched")
	flags.Int64Var(&fo.config.Seed, "seed", def.Seed, "random seed")
	return cmd
}

func runFixtures(cmd *cobra.Command, fo *fixtureOptions) error {
	cfg := fo.config
	cfg.Pattern = fixtures.Pattern(fo.pattern)
	cfg.MinAmount = decimal.NewFromFloat(fo.minAmount)
	cfg.MaxAmount = decimal.NewFromFloat(fo.maxAmount)

	var err error
	if cfg.StartDate, err = models.ParseDate(fo.start); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "start-date", fo.start, err)
	}
	if cfg.EndDate, err = models.ParseDate(fo.end); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "end-date", fo.end, err)
	}

	info, err := os.Stat(fo.outputDir)
	if err != nil || !info.IsDir() {
		return errors.ValidationError(errors.CodeInvalidValue, "output-dir", fo.outputDir, err).
			WithSuggestion("create the directory first")
	}

	ds, err := fixtures.Generate(cfg)
	if err != nil {
		return err
	}

	ledgerPath := filepath.Join(fo.outputDir, "ledger.csv")
	statementPath := filepath.Join(fo.outputDir, "statement.csv")
	if err := writeFixture(ledgerPath, ds.WriteTransactionsCSV); err != nil {
		return err
	}
	if err := writeFixture(statementPath, ds.WriteStatementCSV); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %d transactions to %s\n", len(ds.Transactions), ledgerPath)
	fmt.Fprintf(out, "Wrote %d statement lines to %s (%d derived from the ledger)\n",
		len(ds.LineItems), statementPath, ds.Paired())
	fmt.Fprintf(out, "Seed: %d\n", cfg.Seed)
	return nil
}

func writeFixture(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to create "+path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.KindInternal, errors.CodeUnexpectedError, "failed to close "+path)
	}
	return nil
}
