// Package parsers loads the normalized statement contract produced by the
// statement-parsing collaborator, and recorded transactions exported by other
// tools, into the engine's models.
//
// Two input shapes are accepted:
//   - CSV: one line item per row, headers matched against known aliases
//   - JSON: the statement contract with an items array
//
// Parsing the native bank file formats (PDF, OFX, spreadsheets) happens
// upstream; this package only reads their normalized output.
package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// RowError describes a rejected row
type RowError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d (%s='%s'): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d (%s='%s'): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
	// MaxRowErrors stops parsing once this many rows were rejected; 0 means no limit.
	MaxRowErrors int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
		MaxRowErrors:     100,
	}
}

// Validate validates the parse configuration
func (c *ParseConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative, got %d", c.MaxFieldSize)
	}
	if c.MaxRowErrors < 0 {
		return fmt.Errorf("max row errors cannot be negative, got %d", c.MaxRowErrors)
	}
	return nil
}

// baseParser provides the CSV plumbing shared by the concrete parsers
type baseParser struct {
	config *ParseConfig
	logger logger.Logger
}

func newBaseParser(config *ParseConfig, component string) (*baseParser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", string(config.Delimiter), err)
	}
	return &baseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent(component),
	}, nil
}

// parseContext holds state during one parse
type parseContext struct {
	source     string
	lineNumber int
	headers    []string
	columns    map[Column]int
	ctx        context.Context
}

func newParseContext(ctx context.Context, source string) *parseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &parseContext{
		source:  source,
		columns: make(map[Column]int),
		ctx:     ctx,
	}
}

func (pc *parseContext) cancelled() bool {
	return pc.ctx.Err() != nil
}

func (pc *parseContext) has(col Column) bool {
	_, ok := pc.columns[col]
	return ok
}

// OpenFile reads a whole file for parsing. A missing file is NotFound.
func OpenFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.CodeFileNotFound, path).
				WithSuggestion("check the file path and try again")
		}
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err)
	}
	return data, nil
}

// open validates the encoding and prepares a csv.Reader over data
func (bp *baseParser) open(data []byte, source string) (*csv.Reader, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if bp.config.ValidateEncoding {
		if err := validateEncoding(data, source); err != nil {
			bp.logger.WithError(err).WithField("source", source).Error("Input encoding validation failed")
			return nil, err
		}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader, nil
}

// validateEncoding checks that the input is UTF-8 text
func validateEncoding(data []byte, source string) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				source,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, source, lineNum, "", "", err)
	}
	return nil
}

// readHeaders reads the first non-empty row and resolves it against aliases.
// Every column in required must be present.
func (bp *baseParser) readHeaders(reader *csv.Reader, pc *parseContext, aliases Aliases, required ...[]Column) error {
	var headers []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Ensure the file contains header and data rows")
		}
		if err != nil {
			return errors.ParseError(errors.CodeInvalidFormat, pc.source, pc.lineNumber+1, "headers", "", err).
				WithSuggestion("Check the file format and ensure it's a valid CSV")
		}
		pc.lineNumber++
		if !isEmptyRecord(record) {
			headers = record
			break
		}
	}

	pc.headers = make([]string, len(headers))
	for i, h := range headers {
		pc.headers[i] = strings.TrimSpace(h)
		if col, ok := aliases.Resolve(h); ok {
			if _, seen := pc.columns[col]; !seen {
				pc.columns[col] = i
			}
		}
	}

	bp.logger.WithFields(logger.Fields{
		"source":  pc.source,
		"headers": pc.headers,
	}).Debug("Read headers")

	// each required group is satisfied by any one of its columns
	for _, group := range required {
		found := false
		for _, col := range group {
			if pc.has(col) {
				found = true
				break
			}
		}
		if !found {
			names := make([]string, len(group))
			for i, col := range group {
				names[i] = string(col)
			}
			missing := strings.Join(names, " or ")
			return errors.ParseError(errors.CodeMissingColumn, pc.source, pc.lineNumber, "headers", missing, nil).
				WithSuggestion(fmt.Sprintf("Add a %s column. Found headers: %s", missing, strings.Join(pc.headers, ", ")))
		}
	}
	return nil
}

// readRecord returns the next non-empty record, or io.EOF
func (bp *baseParser) readRecord(reader *csv.Reader, pc *parseContext) ([]string, error) {
	for {
		if pc.cancelled() {
			return nil, errors.Cancelled("parse "+pc.source, pc.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			pc.lineNumber++
			return nil, errors.ParseError(errors.CodeInvalidFormat, pc.source, pc.lineNumber, "", "", err)
		}
		pc.lineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						pc.source,
						pc.lineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit exceeded"),
					).WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

// field returns the trimmed value of col, or "" when the column is absent
func (pc *parseContext) field(record []string, col Column) string {
	index, ok := pc.columns[col]
	if !ok || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int         `json:"total_lines"`
	RecordsParsed int         `json:"records_parsed"`
	RecordsValid  int         `json:"records_valid"`
	Skipped       int         `json:"skipped"`
	Duplicates    int         `json:"duplicates"`
	Errors        []*RowError `json:"-"`
}

// AddError records a rejected row
func (ps *ParseStats) AddError(err *RowError) {
	ps.Errors = append(ps.Errors, err)
}

// ErrorCount returns the number of rejected rows
func (ps *ParseStats) ErrorCount() int {
	return len(ps.Errors)
}

// SuccessRate returns the share of parsed records that were valid, in percent
func (ps *ParseStats) SuccessRate() float64 {
	if ps.RecordsParsed == 0 {
		return 0.0
	}
	return float64(ps.RecordsValid) / float64(ps.RecordsParsed) * 100.0
}

func (ps *ParseStats) String() string {
	return fmt.Sprintf("lines=%d parsed=%d valid=%d skipped=%d duplicates=%d errors=%d",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.Skipped, ps.Duplicates, ps.ErrorCount())
}

// tooManyErrors reports whether the row error budget is exhausted
func (bp *baseParser) tooManyErrors(stats *ParseStats) bool {
	return bp.config.MaxRowErrors > 0 && stats.ErrorCount() >= bp.config.MaxRowErrors
}
