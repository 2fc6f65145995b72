package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/parsers"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// statementFlags describe a statement file given on the command line
type statementFlags struct {
	file         string
	bankName     string
	accountLast4 string
	currency     string
	delimiter    string
}

func (f *statementFlags) register(cmd *cobra.Command, fileFlag, shorthand string) {
	cmd.Flags().StringVarP(&f.file, fileFlag, shorthand, "", "statement file: normalized CSV, or the JSON statement contract")
	cmd.Flags().StringVar(&f.bankName, "bank-name", "", "bank name (CSV only; JSON carries its own)")
	cmd.Flags().StringVar(&f.accountLast4, "account-last4", "", "last four digits of the account")
	cmd.Flags().StringVar(&f.currency, "currency", "", "statement currency, e.g. USD")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", ",", "CSV field delimiter")
}

// ingestSummary is what ingest reports for one statement
type ingestSummary struct {
	Statement  *models.Statement `json:"statement"`
	Skipped    int               `json:"skipped"`
	Duplicates int               `json:"duplicates"`
	RowErrors  []string          `json:"row_errors"`
}

// ingestStatement parses the statement file and stores it
func ingestStatement(ctx context.Context, a *app, f *statementFlags) (*ingestSummary, error) {
	if err := validateFileExists(f.file, "statement file"); err != nil {
		return nil, err
	}
	data, err := parsers.OpenFile(f.file)
	if err != nil {
		return nil, err
	}

	var parsed *parsers.ParsedStatement
	if strings.EqualFold(filepath.Ext(f.file), ".json") {
		parsed, err = parsers.DecodeStatement(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if parsed.Statement.FileName == "" {
			parsed.Statement.FileName = filepath.Base(f.file)
		}
	} else {
		if strings.TrimSpace(f.bankName) == "" {
			return nil, errors.ValidationError(errors.CodeMissingField, "bank-name", "", nil).
				WithSuggestion("pass --bank-name for CSV statements")
		}
		parser, err := lineItemParser(f.delimiter)
		if err != nil {
			return nil, err
		}
		parsed, err = parser.Parse(ctx, data, parsers.StatementMeta{
			BankName:     f.bankName,
			AccountLast4: f.accountLast4,
			Currency:     f.currency,
			FileName:     filepath.Base(f.file),
			FileType:     strings.TrimPrefix(strings.ToLower(filepath.Ext(f.file)), "."),
		})
		if err != nil {
			return nil, err
		}
	}

	st, err := a.statements.Ingest(ctx, parsed.Statement, parsed.Items)
	if err != nil {
		return nil, err
	}

	summary := &ingestSummary{Statement: st, RowErrors: []string{}}
	if parsed.Stats != nil {
		summary.Skipped = parsed.Stats.Skipped
		summary.Duplicates = parsed.Stats.Duplicates
		for _, rowErr := range parsed.Stats.Errors {
			summary.RowErrors = append(summary.RowErrors, rowErr.Error())
		}
	}

	a.logger.WithFields(logger.Fields{
		"statement_id": st.ID,
		"items":        len(parsed.Items),
		"skipped":      summary.Skipped,
		"duplicates":   summary.Duplicates,
		"row_errors":   len(summary.RowErrors),
	}).Debug("Parse summary")
	return summary, nil
}

func lineItemParser(delimiter string) (*parsers.LineItemParser, error) {
	config := parsers.DefaultParseConfig()
	if delimiter != "" {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return nil, errors.ValidationError(errors.CodeInvalidValue, "delimiter", delimiter,
				fmt.Errorf("delimiter must be a single character"))
		}
		config.Delimiter = r
	}
	return parsers.NewLineItemParser(config, parsers.StatementAliases)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  statementFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store a parsed bank statement",
		Long: `Ingest loads a statement produced by the statement parser and stores its
line items. A .json file is read as the statement contract; anything else is
read as a CSV with one line item per row.

Examples:
  reconciler ingest --file march.csv --bank-name "First Bank" --account-last4 4821
  reconciler ingest --file march.csv --bank-name "First Bank" --delimiter ';'
  reconciler ingest --file march.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.config, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := ingestStatement(cmd.Context(), a, &flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, summary)
			}
			st := summary.Statement
			fmt.Fprintf(out, "Statement %d (%s) ingested: %d items, %d skipped, %d duplicates\n",
				st.ID, st.BankName, st.TotalItems, summary.Skipped, summary.Duplicates)
			for _, rowErr := range summary.RowErrors {
				fmt.Fprintf(out, "  rejected %s\n", rowErr)
			}
			return nil
		},
	}

	flags.register(cmd, "file", "")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
