package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"reconciliation-engine/internal/export"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

// renderReport builds the export of statementID and writes it in format
func renderReport(cmd *cobra.Command, a *app, statementID int64, out *outputFlags) error {
	report, err := export.Build(cmd.Context(), a.store, statementID)
	if err != nil {
		return err
	}

	renderConfig := export.DefaultConfig()
	renderConfig.Format = export.OutputFormat(out.format)
	// colours only when writing to a terminal stream
	renderConfig.UseColors = out.file == "" && cmd.OutOrStdout() == os.Stdout
	renderer, err := export.NewRenderer(renderConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", out.format, err)
	}

	w, closeOutput, err := out.open(cmd)
	if err != nil {
		return err
	}
	if err := renderer.Render(report, w); err != nil {
		_ = closeOutput()
		return errors.InternalError(errors.CodeUnexpectedError, "render report", err)
	}
	return closeOutput()
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		statementID int64
		out         outputFlags
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the reconciliation of a statement",
		Long: `Export lists every line item of a statement with its match status and
the matched transaction, as a console table, JSON or CSV.

Examples:
  reconciler export --statement 1
  reconciler export --statement 1 -f csv -o march-reconciliation.csv`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID("statement", statementID); err != nil {
				return err
			}
			return out.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(a *app) error {
				return renderReport(cmd, a, statementID, &out)
			})
		},
	}

	cmd.Flags().Int64Var(&statementID, "statement", 0, "statement id")
	out.register(cmd, string(export.FormatConsole))
	_ = cmd.MarkFlagRequired("statement")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		entityType string
		entityID   int64
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		Long: `Audit lists audit entries newest first, optionally narrowed to one entity
type (transaction, statement, reconciliation) and entity id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.AuditFilter{
				EntityType: models.EntityType(strings.ToLower(entityType)),
				Limit:      limit,
			}
			if cmd.Flags().Changed("entity-id") {
				filter.EntityID = &entityID
			}

			return withApp(opts, cmd, func(a *app) error {
				entries, err := a.recorder.Query(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				printAudit(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "transaction, statement or reconciliation")
	cmd.Flags().Int64Var(&entityID, "entity-id", 0, "entity id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the entries as JSON")
	return cmd
}

func printAudit(w io.Writer, entries []*models.AuditLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-8s %-14s %d\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.EntityType, e.EntityID)
	}
}
