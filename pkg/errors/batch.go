package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ItemOutcome is the per-item result of a batch operation
type ItemOutcome struct {
	ID      int64     `json:"id"`
	OK      bool      `json:"ok"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	// Warning is set on a successful item whose follow-up work failed
	Warning string `json:"warning,omitempty"`
}

// Succeeded builds a successful outcome
func Succeeded(id int64) ItemOutcome {
	return ItemOutcome{ID: id, OK: true}
}

// SucceededWithWarning builds a successful outcome noting non-fatal trouble
func SucceededWithWarning(id int64, warning string) ItemOutcome {
	return ItemOutcome{ID: id, OK: true, Warning: warning}
}

// Failed builds a failed outcome from err
func Failed(id int64, err error) ItemOutcome {
	outcome := ItemOutcome{ID: id, Kind: KindOf(err)}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		outcome.Code = reconcilerErr.Code
		outcome.Message = reconcilerErr.Message
	} else if err != nil {
		outcome.Message = err.Error()
	}
	return outcome
}

// BatchError reports a batch operation in which at least one item failed.
// Outcomes lists every processed item, successful or not.
type BatchError struct {
	Operation string        `json:"operation"`
	Outcomes  []ItemOutcome `json:"outcomes"`
}

// NewBatchError returns nil when every outcome succeeded
func NewBatchError(operation string, outcomes []ItemOutcome) *BatchError {
	for _, o := range outcomes {
		if !o.OK {
			return &BatchError{Operation: operation, Outcomes: outcomes}
		}
	}
	return nil
}

// Error returns a formatted error message for the batch
func (b *BatchError) Error() string {
	failed := b.Failed()
	if len(failed) == 1 {
		return fmt.Sprintf("%s: 1 of %d items failed (%d: %s)",
			b.Operation, len(b.Outcomes), failed[0].ID, failed[0].Message)
	}

	byKind := make(map[ErrorKind]int)
	for _, o := range failed {
		byKind[o.Kind]++
	}
	var kinds []string
	for kind, count := range byKind {
		kinds = append(kinds, fmt.Sprintf("%s: %d", kind, count))
	}
	sort.Strings(kinds)

	return fmt.Sprintf("%s: %d of %d items failed (%s)",
		b.Operation, len(failed), len(b.Outcomes), strings.Join(kinds, ", "))
}

// Failed returns only the failed outcomes
func (b *BatchError) Failed() []ItemOutcome {
	var failed []ItemOutcome
	for _, o := range b.Outcomes {
		if !o.OK {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded returns the number of successful outcomes
func (b *BatchError) Succeeded() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.OK {
			n++
		}
	}
	return n
}

// GetExitCode returns the exit code for partial batch failures
func (b *BatchError) GetExitCode() int {
	return exitCodeForKind(KindPartialBatchFailure)
}

// AsBatchError extracts a BatchError from an error chain
func AsBatchError(err error) (*BatchError, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr, true
	}
	return nil, false
}

// As is errors.As re-exported so callers need a single errors import
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is re-exported so callers need a single errors import
func Is(err, target error) bool {
	return errors.Is(err, target)
}
