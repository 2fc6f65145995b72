package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// maxListedFailures caps the failed batch items printed to the terminal
const maxListedFailures = 10

// CLIErrorHandler turns command errors into terminal output and an exit code
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a handler writing to stderr
func NewCLIErrorHandler(verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).WithField("kind", errors.KindOf(err)).Debug("Command failed")

	if batchErr, ok := errors.AsBatchError(err); ok {
		h.handleBatchError(batchErr)
		return errors.ExitCode(err)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		h.handleReconcilerError(reconcilerErr)
		return errors.ExitCode(err)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}
	if help := kindHelp(err.Kind); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}
}

func (h *CLIErrorHandler) handleBatchError(err *errors.BatchError) {
	failed := err.Failed()
	fmt.Fprintf(h.out, "Error: %s: %d of %d items failed\n", err.Operation, len(failed), len(err.Outcomes))

	for i, outcome := range failed {
		if i == maxListedFailures && !h.verbose {
			fmt.Fprintf(h.out, "  ... and %d more\n", len(failed)-maxListedFailures)
			break
		}
		fmt.Fprintf(h.out, "  %d: [%s] %s\n", outcome.ID, outcome.Kind, outcome.Message)
	}
	fmt.Fprintf(h.out, "\nSuggestion: items reported as ok were committed; fix the failed ones and retry them\n")
}

// handleGenericError covers errors raised outside the application packages
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case os.IsNotExist(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case os.IsPermission(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	// cobra reports unknown flags and commands as plain errors
	if isUsageError(err) {
		fmt.Fprintf(h.out, "Error: %v\n", err)
		fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
		return 3
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return errors.ExitCode(err)
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "required flag", "invalid argument", "accepts "} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// kindHelp returns the extra guidance printed for a kind
func kindHelp(kind errors.ErrorKind) string {
	switch kind {
	case errors.KindNotFound:
		return `Not found help:
• Check the id; 'reconciler audit' lists recent changes with their ids
• Check that --db-driver and --db-dsn point at the database you ingested into`

	case errors.KindParse:
		return `Parse error help:
• Verify the CSV has a header row with date, description and amount columns
• Ensure the file uses UTF-8 encoding
• Use --delimiter when fields are not comma separated`

	case errors.KindValidation:
		return `Validation error help:
• Check that all required fields have values
• Verify date formats use YYYY-MM-DD
• Ensure amounts are decimal numbers without currency symbols`

	case errors.KindConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• RECONCILER_* environment variables override the config file`

	case errors.KindAlreadyMatched, errors.KindNoActiveMatch, errors.KindConcurrentModification:
		return `Reconciliation conflict help:
• Run 'reconciler status' to see the current state of the statement
• Unmatch the existing pairing before matching again`

	case errors.KindRateLimited, errors.KindServiceUnavailable:
		return `Upstream service help:
• Wait a moment and retry
• Check the redis, kafka and extraction settings`
	}
	return ""
}
