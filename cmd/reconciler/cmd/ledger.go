package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

// withApp runs fn with the wired services and closes them afterwards
func withApp(opts *rootOptions, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd.Context(), opts.config, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func requireID(name string, id int64) error {
	if id <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, name, id, fmt.Errorf("must be a positive id"))
	}
	return nil
}

func newAutoMatchCmd(opts *rootOptions) *cobra.Command {
	var (
		statementID int64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "automatch",
		Short: "Match every unmatched line item of a statement",
		Long: `Automatch scores each unmatched line item against the unmatched recorded
transactions and commits a one-to-one assignment. Confident pairs become
matches; weaker ones are flagged as discrepancies for review.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("statement", statementID); err != nil {
				return err
			}
			return withApp(opts, cmd, func(a *app) error {
				result, err := a.reconciler.AutoMatch(cmd.Context(), statementID)
				if result != nil {
					if asJSON {
						if writeErr := writeJSON(cmd.OutOrStdout(), result); writeErr != nil {
							return writeErr
						}
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "Statement %d: %d matched, %d discrepancies, %d unmatched (%d processed)\n",
							result.StatementID, result.Matched, result.Discrepancies, result.Unmatched, result.Processed)
					}
				}
				return err
			})
		},
	}

	cmd.Flags().Int64Var(&statementID, "statement", 0, "statement id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("statement")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var itemID, transactionID int64

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Pair a line item with a recorded transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("item", itemID); err != nil {
				return err
			}
			if err := requireID("transaction", transactionID); err != nil {
				return err
			}
			return withApp(opts, cmd, func(a *app) error {
				m, err := a.ledger.ManualMatch(cmd.Context(), itemID, transactionID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), m)
			})
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "bank line item id")
	cmd.Flags().Int64Var(&transactionID, "transaction", 0, "recorded transaction id")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("transaction")
	return cmd
}

func newUnmatchCmd(opts *rootOptions) *cobra.Command {
	var itemID int64

	cmd := &cobra.Command{
		Use:   "unmatch",
		Short: "Remove the match of a line item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("item", itemID); err != nil {
				return err
			}
			return withApp(opts, cmd, func(a *app) error {
				if err := a.ledger.Unmatch(cmd.Context(), itemID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Line item %d unmatched\n", itemID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "bank line item id")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		statementID int64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the reconciliation counts of a statement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("statement", statementID); err != nil {
				return err
			}
			return withApp(opts, cmd, func(a *app) error {
				status, err := a.ledger.Status(cmd.Context(), statementID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&statementID, "statement", 0, "statement id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("statement")
	return cmd
}

func printStatus(w io.Writer, status models.ReconciliationStatus) {
	fmt.Fprintf(w, "Statement %d: %s\n", status.StatementID, status.Status)
	fmt.Fprintf(w, "  total:         %d\n", status.Total)
	fmt.Fprintf(w, "  matched:       %d\n", status.Matched)
	fmt.Fprintf(w, "  discrepancies: %d\n", status.Discrepancies)
	fmt.Fprintf(w, "  unmatched:     %d\n", status.Unmatched)
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		statementID int64
		file        string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Record selected line items as transactions",
		Long: `Import reads a JSON array of reviewed line items, or an object with an
"items" array, and records each one as a transaction matched to its line item.
Items whose money movement is already recorded are linked instead of copied.

Example file:
  [{"bank_item_id": 12, "type": "expense", "category": "Utilities",
    "description": "City Power", "date": "2024-03-04", "amount": "84.20",
    "currency": "USD"}]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("statement", statementID); err != nil {
				return err
			}
			items, err := readImportItems(file)
			if err != nil {
				return err
			}
			return withApp(opts, cmd, func(a *app) error {
				result, err := a.reconciler.Import(cmd.Context(), statementID, items)
				if result != nil {
					if writeErr := writeJSON(cmd.OutOrStdout(), result); writeErr != nil {
						return writeErr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().Int64Var(&statementID, "statement", 0, "statement id")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with the items to import")
	_ = cmd.MarkFlagRequired("statement")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readImportItems(path string) ([]reconciler.ImportItem, error) {
	if err := validateFileExists(path, "import file"); err != nil {
		return nil, err
	}
	data, err := parsers.OpenFile(path)
	if err != nil {
		return nil, err
	}

	var items []reconciler.ImportItem
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Items []reconciler.ImportItem `json:"items"`
		}
		if wrappedErr := json.Unmarshal(data, &wrapped); wrappedErr != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "items", "", err)
		}
		items = wrapped.Items
	}
	if len(items) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "items", path, nil)
	}
	return items, nil
}
