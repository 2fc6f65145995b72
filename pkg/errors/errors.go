package errors

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorKind is the caller-facing classification of an error. Callers branch on
// kinds through IsKind, never on message text.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "not_found"
	KindAlreadyMatched         ErrorKind = "already_matched"
	KindNoActiveMatch          ErrorKind = "no_active_match"
	KindValidation             ErrorKind = "validation"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindPartialBatchFailure    ErrorKind = "partial_batch_failure"
	KindRateLimited            ErrorKind = "rate_limited"
	KindServiceUnavailable     ErrorKind = "service_unavailable"
	KindCancelled              ErrorKind = "cancelled"
	KindConfiguration          ErrorKind = "configuration"
	KindParse                  ErrorKind = "parse"
	KindInternal               ErrorKind = "internal"
)

// ErrorCode represents specific error codes within kinds
type ErrorCode string

const (
	// Not found
	CodeStatementNotFound   ErrorCode = "statement_not_found"
	CodeBankItemNotFound    ErrorCode = "bank_item_not_found"
	CodeTransactionNotFound ErrorCode = "transaction_not_found"
	CodeFileNotFound        ErrorCode = "file_not_found"

	// Pairing conflicts
	CodeBankItemMatched    ErrorCode = "bank_item_matched"
	CodeTransactionMatched ErrorCode = "transaction_matched"
	CodeNoActiveMatch      ErrorCode = "no_active_match"

	// Validation
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidValue  ErrorCode = "invalid_value"
	CodeOutOfRange    ErrorCode = "out_of_range"
	CodeItemMismatch  ErrorCode = "item_not_in_statement"

	// Parse
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Concurrency and batches
	CodeStatementLocked  ErrorCode = "statement_locked"
	CodeBatchIncomplete  ErrorCode = "batch_incomplete"
	CodeOperationAborted ErrorCode = "operation_cancelled"

	// Upstream collaborators
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"

	// Configuration
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Internal
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeStorageFailure  ErrorCode = "storage_failure"
)

// ReconcilerError is the error type every package of the engine returns.
// Callers branch on Kind through IsKind; Code is finer grained and stable
// for API clients.
type ReconcilerError struct {
	Kind       ErrorKind         `json:"kind"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context holds the ids and values an error refers to
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode is the CLI exit status for the error's kind
func (e *ReconcilerError) GetExitCode() int {
	return exitCodeForKind(e.Kind)
}

// HTTPStatus maps the error kind onto a response status
func (e *ReconcilerError) HTTPStatus() int {
	return httpStatusForKind(e.Kind)
}

// WithContext attaches a key/value shown with the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion replaces the hint shown to the user
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New builds an error of kind with a stack captured here
func New(kind ErrorKind, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap classifies err, keeping it as the cause. Wrap(nil, ...) is nil.
func Wrap(err error, kind ErrorKind, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer is implemented by github.com/pkg/errors values
type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, kind ErrorKind, code ErrorCode, message string) *ReconcilerError {
	if err != nil {
		return Wrap(err, kind, code, message)
	}
	return New(kind, code, message)
}


// NotFound reports an unknown statement, bank item or transaction id.
func NotFound(code ErrorCode, id interface{}) *ReconcilerError {
	var entity string
	switch code {
	case CodeStatementNotFound:
		entity = "statement"
	case CodeBankItemNotFound:
		entity = "bank line item"
	case CodeTransactionNotFound:
		entity = "transaction"
	case CodeFileNotFound:
		entity = "file"
	default:
		entity = "entity"
	}

	return New(KindNotFound, code, fmt.Sprintf("%s %v not found", entity, id)).
		WithSuggestion("re-fetch the current state and check the id").
		WithContext("id", id)
}

// AlreadyMatched reports that one side of a proposed pairing is taken.
func AlreadyMatched(code ErrorCode, bankItemID, transactionID int64) *ReconcilerError {
	var message string
	switch code {
	case CodeTransactionMatched:
		message = fmt.Sprintf("transaction %d is already matched to another bank line item", transactionID)
	default:
		code = CodeBankItemMatched
		message = fmt.Sprintf("bank line item %d already has an active match", bankItemID)
	}

	return New(KindAlreadyMatched, code, message).
		WithSuggestion("unmatch the existing pairing first, then retry").
		WithContext("bank_item_id", bankItemID).
		WithContext("transaction_id", transactionID)
}

// NoActiveMatch reports an unmatch request for an item that is not paired.
func NoActiveMatch(bankItemID int64) *ReconcilerError {
	return New(KindNoActiveMatch, CodeNoActiveMatch,
		fmt.Sprintf("bank line item %d has no active match", bankItemID)).
		WithContext("bank_item_id", bankItemID)
}

// ValidationError reports a bad or missing input field.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers (e.g., '12.34')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeItemMismatch:
		message = fmt.Sprintf("bank line item %v does not belong to the requested statement", value)
		suggestion = "check the statement id of the bank line item"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, KindValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConcurrentModification reports that another mutation holds the statement.
func ConcurrentModification(statementID int64, err error) *ReconcilerError {
	return newOrWrap(err, KindConcurrentModification, CodeStatementLocked,
		fmt.Sprintf("statement %d is being modified by another operation", statementID)).
		WithSuggestion("retry after the in-flight operation completes").
		WithContext("statement_id", statementID)
}

// Cancelled reports a bulk operation stopped by its context.
func Cancelled(operation string, err error) *ReconcilerError {
	return newOrWrap(err, KindCancelled, CodeOperationAborted,
		fmt.Sprintf("%s cancelled", operation)).
		WithSuggestion("completed items remain committed; re-run to process the rest").
		WithContext("operation", operation)
}

// RateLimited reports throttling by an upstream collaborator.
func RateLimited(endpoint string, retryAfter string) *ReconcilerError {
	err := New(KindRateLimited, CodeRateLimited, fmt.Sprintf("rate limited by %s", endpoint)).
		WithSuggestion("wait before retrying the request").
		WithContext("endpoint", endpoint)
	if retryAfter != "" {
		err.WithContext("retry_after", retryAfter)
	}
	return err
}

// ServiceUnavailable reports that an upstream collaborator cannot serve requests.
func ServiceUnavailable(endpoint string, err error) *ReconcilerError {
	return newOrWrap(err, KindServiceUnavailable, CodeProviderUnavailable,
		fmt.Sprintf("service unavailable: %s", endpoint)).
		WithSuggestion("try again later or contact service administrator").
		WithContext("endpoint", endpoint)
}

// ConfigurationError reports an invalid, missing or conflicting setting.
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, KindConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ParseError reports a row or header problem in an input file.
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the data format and ensure it matches the expected structure"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", value, file)
		suggestion = "verify the input has all required columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in %s at line %d", file, line)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return newOrWrap(err, KindParse, code, message).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column)
}

// InternalError reports a storage failure or a broken invariant.
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string
	var suggestion string

	switch code {
	case CodeStorageFailure:
		message = fmt.Sprintf("storage failure during %s", operation)
		suggestion = "check database connectivity and try again"
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "retry; if it persists, report it with the log output"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "retry the operation"
	}

	return newOrWrap(err, KindInternal, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}


// KindOf classifies any error. Context cancellation maps to KindCancelled and
// unknown errors to KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return KindPartialBatchFailure
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the response status for any error
func HTTPStatus(err error) int {
	return httpStatusForKind(KindOf(err))
}

// ExitCode returns the process exit code for any error
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return exitCodeForKind(KindOf(err))
}

func httpStatusForKind(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyMatched, KindNoActiveMatch, KindConcurrentModification:
		return http.StatusConflict
	case KindValidation, KindParse:
		return http.StatusBadRequest
	case KindPartialBatchFailure:
		return http.StatusMultiStatus
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func exitCodeForKind(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return 2
	case KindParse, KindValidation:
		return 3
	case KindConfiguration:
		return 4
	case KindAlreadyMatched, KindNoActiveMatch, KindConcurrentModification:
		return 5
	case KindRateLimited, KindServiceUnavailable:
		return 6
	case KindPartialBatchFailure:
		return 7
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// IsReconcilerError reports whether err is a *ReconcilerError itself
func IsReconcilerError(err error) bool {
	_, ok := err.(*ReconcilerError)
	return ok
}

// AsReconcilerError finds the first ReconcilerError in err's chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded keeps an existing ReconcilerError and wraps anything else
func WrapIfNeeded(err error, kind ErrorKind, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, kind, code, message)
}
