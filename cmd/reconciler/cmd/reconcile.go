package cmd

import (
	"fmt"

	"reconciliation-engine/internal/export"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// reconcileOptions are the flags of the one-shot reconcile command
type reconcileOptions struct {
	transactionsFile string
	statement        statementFlags
	output           outputFlags
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	ro := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Load transactions and a statement, auto-match and report",
		Long: `Reconcile runs the whole flow in one go: it records the transactions of a
CSV export, ingests a bank statement, auto-matches the statement and writes
the reconciliation report.

This command requires:
- A recorded transactions file (CSV with date, amount and category columns)
- A statement file (normalized CSV, or the JSON statement contract)

Examples:
  # Basic reconciliation against a scratch in-memory store
  reconciler reconcile --db-driver memory -t ledger.csv -s march.csv --bank-name "First Bank"

  # JSON report written to a file
  reconciler reconcile -t ledger.csv -s march.json -f json -o report.json

  # Wider matching window
  reconciler reconcile -t ledger.csv -s march.csv --bank-name "First Bank" \
    --matching-profile relaxed --date-window 5`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error { return ro.validate() },
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				return runReconcile(cmd, a, ro, opts.verbose)
			})
		},
	}

	cmd.Flags().StringVarP(&ro.transactionsFile, "transactions-file", "t", "", "recorded transactions CSV (required)")
	ro.statement.register(cmd, "statement-file", "s")
	ro.output.register(cmd, string(export.FormatConsole))
	cmd.Flags().String("matching-profile", "", "matching profile: default, strict, relaxed")
	cmd.Flags().Int("date-window", 0, "date matching window in days")
	cmd.Flags().Bool("auto-commit", true, "commit confident matches; when false they are flagged for review")
	opts.bind("matching-profile", "matching.profile")
	opts.bind("date-window", "matching.date_window_days")
	opts.bind("auto-commit", "reconciler.auto_commit")

	_ = cmd.MarkFlagRequired("transactions-file")
	_ = cmd.MarkFlagRequired("statement-file")
	return cmd
}

func (ro *reconcileOptions) validate() error {
	if err := validateFileExists(ro.transactionsFile, "transactions-file"); err != nil {
		return err
	}
	if err := validateFileExists(ro.statement.file, "statement-file"); err != nil {
		return err
	}
	return ro.output.validate()
}

func runReconcile(cmd *cobra.Command, a *app, ro *reconcileOptions, verbose bool) error {
	ctx := cmd.Context()
	log := a.logger.WithComponent("reconcile")
	stderr := cmd.ErrOrStderr()

	loaded, err := loadTransactions(ctx, a, ro.transactionsFile)
	if loaded == nil {
		return err
	}
	// rows the transaction service rejected are reported, the rest is reconciled
	if err != nil {
		log.WithError(err).Warn("Some transactions were not recorded")
	}

	ingested, err := ingestStatement(ctx, a, &ro.statement)
	if err != nil {
		return err
	}
	statementID := ingested.Statement.ID

	result, err := a.reconciler.AutoMatch(ctx, statementID)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"statement_id":  statementID,
		"transactions":  len(loaded.Result.Created),
		"matched":       result.Matched,
		"discrepancies": result.Discrepancies,
		"unmatched":     result.Unmatched,
	}).Info("Reconciliation completed")

	if verbose {
		fmt.Fprintf(stderr, "Recorded %d transactions (%d rejected rows)\n",
			len(loaded.Result.Created), len(loaded.RowErrors))
		fmt.Fprintf(stderr, "Ingested statement %d with %d line items (%d skipped, %d duplicates)\n",
			statementID, ingested.Statement.TotalItems, ingested.Skipped, ingested.Duplicates)
		fmt.Fprintf(stderr, "Matched %d, flagged %d discrepancies, %d unmatched\n",
			result.Matched, result.Discrepancies, result.Unmatched)
	}

	return renderReport(cmd, a, statementID, &ro.output)
}
