package cmd

import (
	"context"
	"fmt"

	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/internal/transactions"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// loadSummary reports one transactions file load
type loadSummary struct {
	Source    string                    `json:"source"`
	Stats     *parsers.ParseStats       `json:"stats"`
	RowErrors []string                  `json:"row_errors"`
	Result    *transactions.BatchResult `json:"result"`
}

// loadTransactions parses a transactions CSV and records every valid row.
// The returned error is a BatchError when some rows could not be recorded;
// the summary is complete in that case too.
func loadTransactions(ctx context.Context, a *app, path string) (*loadSummary, error) {
	if err := validateFileExists(path, "transactions file"); err != nil {
		return nil, err
	}
	data, err := parsers.OpenFile(path)
	if err != nil {
		return nil, err
	}
	parser, err := parsers.NewTransactionParser(nil, nil)
	if err != nil {
		return nil, err
	}

	inputs, stats, err := parser.Parse(ctx, data, path)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "transactions", path, nil).
			WithSuggestion("the file has no valid rows")
	}

	summary := &loadSummary{Source: path, Stats: stats, RowErrors: []string{}}
	for _, rowErr := range stats.Errors {
		summary.RowErrors = append(summary.RowErrors, rowErr.Error())
	}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "load_transactions",
		Total:     int64(len(inputs)),
		Logger:    a.logger,
	})
	result, err := a.transactions.BatchConfirm(ctx, inputs)
	summary.Result = result
	if result != nil {
		for _, outcome := range result.Outcomes {
			if outcome.OK {
				progress.Increment()
			} else {
				progress.Fail()
			}
		}
	}
	if err != nil && !errors.IsKind(err, errors.KindPartialBatchFailure) {
		progress.CompleteWithError(err)
		return nil, err
	}
	progress.Complete()
	return summary, err
}

func newTransactionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Manage recorded transactions",
	}
	cmd.AddCommand(newTransactionsLoadCmd(opts))
	return cmd
}

func newTransactionsLoadCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Record transactions from a CSV export",
		Long: `Load records every row of a transactions CSV with date, amount and
category columns. Type, currency, description, vendor and bank are optional;
a row without a type is income when its amount is positive and an expense
when it is negative.

Example:
  reconciler transactions load --file ledger-march.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				summary, err := loadTransactions(cmd.Context(), a, file)
				if summary == nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if writeErr := writeJSON(out, summary); writeErr != nil {
						return writeErr
					}
					return err
				}
				fmt.Fprintf(out, "Recorded %d of %d transactions from %s\n",
					len(summary.Result.Created), len(summary.Result.Outcomes), file)
				for _, rowErr := range summary.RowErrors {
					fmt.Fprintf(out, "  rejected %s\n", rowErr)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "transactions CSV file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
