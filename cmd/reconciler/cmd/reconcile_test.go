package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reconciliation-engine/internal/export"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

const (
	statementCSV = "Date,Description,Amount\n" +
		"2024-03-01,AMAZON MKTPLACE,-49.99\n" +
		"2024-03-02,UBER TRIP,-18.20\n"

	transactionsCSV = "date,type,amount,category,description,vendor\n" +
		"2024-03-01,expense,49.99,Shopping,Amazon order,Amazon\n"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// runCLI executes one invocation of the command tree and returns its stdout
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("RECONCILER_LOG_OUTPUT", "discard")

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := writeFile(t, tmpDir, "valid.csv", "test")

	tests := []struct {
		name     string
		filePath string
		kind     errors.ErrorKind
	}{
		{"valid file", validFile, ""},
		{"empty path", "", errors.KindValidation},
		{"non-existent file", "/non/existent/file.csv", errors.KindNotFound},
		{"directory instead of file", tmpDir, errors.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.kind == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %s error, got %v", tt.kind, err)
			}
		})
	}
}

func TestOutputFlagsValidate(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name        string
		flags       outputFlags
		expectError bool
	}{
		{"console to stdout", outputFlags{format: "console"}, false},
		{"csv to file", outputFlags{format: "csv", file: filepath.Join(tmpDir, "out.csv")}, false},
		{"invalid format", outputFlags{format: "xml"}, true},
		{"missing directory", outputFlags{format: "json", file: filepath.Join(tmpDir, "missing", "out.json")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flags.validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestReconcileCommand(t *testing.T) {
	dir := t.TempDir()
	txFile := writeFile(t, dir, "ledger.csv", transactionsCSV)
	stFile := writeFile(t, dir, "march.csv", statementCSV)

	out, err := runCLI(t, "reconcile", "--db-driver", "memory",
		"-t", txFile, "-s", stFile, "--bank-name", "Chase", "-f", "json")
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	var report export.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, out)
	}
	if report.Statement == nil || report.Statement.BankName != "Chase" {
		t.Fatalf("unexpected statement: %+v", report.Statement)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report.Rows))
	}
	if report.Rows[0].Status != models.MatchStatusMatched {
		t.Errorf("expected the Amazon row to be matched, got %s", report.Rows[0].Status)
	}
	if report.Rows[0].TransactionID == nil {
		t.Error("expected the matched row to carry its transaction id")
	}
	if report.Rows[1].Status != models.MatchStatusUnmatched {
		t.Errorf("expected the Uber row to stay unmatched, got %s", report.Rows[1].Status)
	}
}

func TestReconcileCommand_ReviewOnly(t *testing.T) {
	dir := t.TempDir()
	txFile := writeFile(t, dir, "ledger.csv", transactionsCSV)
	stFile := writeFile(t, dir, "march.csv", statementCSV)

	out, err := runCLI(t, "reconcile", "--db-driver", "memory", "--auto-commit=false",
		"-t", txFile, "-s", stFile, "--bank-name", "Chase", "-f", "json")
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	var report export.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v", err)
	}
	if report.Rows[0].Status != models.MatchStatusDiscrepancy {
		t.Errorf("expected a discrepancy without auto commit, got %s", report.Rows[0].Status)
	}
}

func TestReconcileCommand_OutputFile(t *testing.T) {
	dir := t.TempDir()
	txFile := writeFile(t, dir, "ledger.csv", transactionsCSV)
	stFile := writeFile(t, dir, "march.csv", statementCSV)
	outFile := filepath.Join(dir, "report.csv")

	out, err := runCLI(t, "reconcile", "--db-driver", "memory",
		"-t", txFile, "-s", stFile, "--bank-name", "Chase", "-f", "csv", "-o", outFile)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("report file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("expected header and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "AMAZON MKTPLACE") {
		t.Errorf("expected the first row to be the Amazon item, got %q", lines[1])
	}
}

func TestReconcileCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	txFile := writeFile(t, dir, "ledger.csv", transactionsCSV)
	stFile := writeFile(t, dir, "march.csv", statementCSV)
	badStatement := writeFile(t, dir, "bad.csv", "Date,Memo\n2024-03-01,nothing\n")

	tests := []struct {
		name string
		args []string
		kind errors.ErrorKind
	}{
		{
			name: "missing transactions file",
			args: []string{"-t", filepath.Join(dir, "nope.csv"), "-s", stFile, "--bank-name", "Chase"},
			kind: errors.KindNotFound,
		},
		{
			name: "invalid output format",
			args: []string{"-t", txFile, "-s", stFile, "--bank-name", "Chase", "-f", "xml"},
			kind: errors.KindValidation,
		},
		{
			name: "csv without bank name",
			args: []string{"-t", txFile, "-s", stFile},
			kind: errors.KindValidation,
		},
		{
			name: "statement without amount column",
			args: []string{"-t", txFile, "-s", badStatement, "--bank-name", "Chase"},
			kind: errors.KindParse,
		},
		{
			name: "unknown matching profile",
			args: []string{"-t", txFile, "-s", stFile, "--bank-name", "Chase", "--matching-profile", "loose"},
			kind: errors.KindConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"reconcile", "--db-driver", "memory"}, tt.args...)
			_, err := runCLI(t, args...)
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %s error, got %v", tt.kind, err)
			}
		})
	}
}

func TestCommandsShareSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	db := []string{"--db-driver", "sqlite", "--db-dsn", filepath.Join(dir, "reconciler.db")}
	stFile := writeFile(t, dir, "march.csv", statementCSV)
	txFile := writeFile(t, dir, "ledger.csv", transactionsCSV)

	run := func(args ...string) string {
		t.Helper()
		out, err := runCLI(t, append(args, db...)...)
		if err != nil {
			t.Fatalf("%s failed: %v", args[0], err)
		}
		return out
	}

	var ingested ingestSummary
	if err := json.Unmarshal([]byte(run("ingest", "--file", stFile, "--bank-name", "Chase", "--json")), &ingested); err != nil {
		t.Fatalf("ingest output is not JSON: %v", err)
	}
	statementID := fmt.Sprint(ingested.Statement.ID)

	run("transactions", "load", "--file", txFile)
	run("automatch", "--statement", statementID)

	var status models.ReconciliationStatus
	if err := json.Unmarshal([]byte(run("status", "--statement", statementID, "--json")), &status); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if status.Total != 2 || status.Matched != 1 || status.Unmatched != 1 {
		t.Errorf("unexpected status: %+v", status)
	}

	var entries []*models.AuditLogEntry
	out := run("audit", "--entity-type", "reconciliation", "--json")
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("audit output is not JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.AuditActionMatch {
		t.Errorf("expected one match entry, got %+v", entries)
	}

	// the matched line item cannot be matched again
	itemID := fmt.Sprint(entries[0].EntityID)
	_, err := runCLI(t, append([]string{"match", "--item", itemID, "--transaction", "1"}, db...)...)
	if !errors.IsKind(err, errors.KindAlreadyMatched) {
		t.Errorf("expected already matched, got %v", err)
	}

	run("unmatch", "--item", itemID)
	_, err = runCLI(t, append([]string{"unmatch", "--item", itemID}, db...)...)
	if !errors.IsKind(err, errors.KindNoActiveMatch) {
		t.Errorf("expected no active match, got %v", err)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	_, err := runCLI(t, "status", "--statement", "42", "--db-driver", "memory")
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestConfigErrors(t *testing.T) {
	_, err := runCLI(t, "status", "--statement", "1", "--db-driver", "postgres")
	if !errors.IsKind(err, errors.KindConfiguration) {
		t.Errorf("expected configuration error for unknown driver, got %v", err)
	}

	_, err = runCLI(t, "status", "--statement", "1", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsKind(err, errors.KindConfiguration) {
		t.Errorf("expected configuration error for missing file, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "reconciler dev") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestCLIErrorHandler(t *testing.T) {
	batch := errors.NewBatchError("import", []errors.ItemOutcome{
		errors.Succeeded(1),
		errors.Failed(2, errors.NotFound(errors.CodeBankItemNotFound, int64(2))),
	})

	tests := []struct {
		name     string
		err      error
		exitCode int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"not found", errors.NotFound(errors.CodeStatementNotFound, int64(9)), 2, "Suggestion:"},
		{"validation", errors.ValidationError(errors.CodeMissingField, "bank-name", "", nil), 3, "Validation error help"},
		{"conflict", errors.AlreadyMatched(errors.CodeBankItemMatched, 3, 4), 5, "reconciler status"},
		{"partial batch", batch, 7, "1 of 2 items failed"},
		{"missing file", os.ErrNotExist, 2, "File not found"},
		{"usage", fmt.Errorf("unknown flag: --nope"), 3, "--help"},
		{"plain", fmt.Errorf("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewCLIErrorHandler(false)
			h.out = &buf

			if code := h.HandleError(tt.err); code != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, code)
			}
			if !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.contains, buf.String())
			}
		})
	}
}

func TestFixturesThenReconcile(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, "fixtures", "--output-dir", dir, "--count", "12", "--pattern", "exact", "--seed", "3")
	if err != nil {
		t.Fatalf("fixtures failed: %v", err)
	}
	if !strings.Contains(out, "Wrote 12 statement lines") {
		t.Errorf("unexpected fixtures output: %q", out)
	}

	out, err = runCLI(t, "reconcile", "--db-driver", "memory",
		"-t", filepath.Join(dir, "ledger.csv"), "-s", filepath.Join(dir, "statement.csv"),
		"--bank-name", "First Bank", "-f", "json")
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	var report export.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v", err)
	}
	if report.Status.Total != 12 {
		t.Errorf("expected 12 line items, got %d", report.Status.Total)
	}
	if report.Status.Matched == 0 {
		t.Error("expected mirrored lines to be matched")
	}
}

func TestFixturesCommand_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"missing directory", []string{"--output-dir", filepath.Join(dir, "nope")}},
		{"bad date", []string{"--output-dir", dir, "--start-date", "March"}},
		{"unknown pattern", []string{"--output-dir", dir, "--pattern", "chaos"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"fixtures"}, tt.args...)...)
			if !errors.IsKind(err, errors.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
