package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// dedupDescriptionLength is how much of a description identifies a row when it
// carries no reference
const dedupDescriptionLength = 60

// StatementMeta is the statement-level information that accompanies a file
type StatementMeta struct {
	BankName     string `json:"bank_name"`
	AccountLast4 string `json:"account_last4,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	Currency     string `json:"currency,omitempty"`
}

// ParsedStatement is a statement ready for ingestion
type ParsedStatement struct {
	Statement *models.Statement
	Items     []*models.BankLineItem
	Stats     *ParseStats
}

// LineItemParser reads one line item per CSV row. Amounts come from separate
// debit and credit columns, or from one amount column whose sign, DR/CR
// suffix or parentheses carry the direction.
type LineItemParser struct {
	*baseParser
	aliases Aliases
}

// NewLineItemParser creates a parser; nil arguments select the defaults
func NewLineItemParser(config *ParseConfig, aliases Aliases) (*LineItemParser, error) {
	base, err := newBaseParser(config, "line_item_parser")
	if err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = StatementAliases
	}
	return &LineItemParser{baseParser: base, aliases: aliases}, nil
}

// Parse reads data as a statement CSV. Rows that cannot be read are collected
// in Stats.Errors; parsing fails only when the headers are unusable, the row
// error budget is exhausted, or no line item survives.
func (p *LineItemParser) Parse(ctx context.Context, data []byte, meta StatementMeta) (*ParsedStatement, error) {
	source := meta.FileName
	if source == "" {
		source = "statement"
	}

	reader, err := p.open(data, source)
	if err != nil {
		return nil, err
	}

	pc := newParseContext(ctx, source)
	stats := &ParseStats{}

	required := [][]Column{
		{ColDate, ColValueDate},
		{ColDescription},
		{ColAmount, ColDebit, ColCredit},
	}
	if err := p.readHeaders(reader, pc, p.aliases, required...); err != nil {
		return nil, err
	}

	currency := models.NormalizeCurrency(meta.Currency)
	seen := make(map[string]bool)
	var items []*models.BankLineItem

	for {
		record, err := p.readRecord(reader, pc)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.IsKind(err, errors.KindCancelled) {
				return nil, err
			}
			stats.AddError(&RowError{Line: pc.lineNumber, Message: "unreadable row", Err: err})
			if p.tooManyErrors(stats) {
				return nil, p.abort(pc, stats)
			}
			continue
		}

		stats.RecordsParsed++

		item, skip, rowErr := p.parseRow(record, pc)
		if rowErr != nil {
			stats.AddError(rowErr)
			if p.tooManyErrors(stats) {
				return nil, p.abort(pc, stats)
			}
			continue
		}
		if skip {
			stats.Skipped++
			continue
		}

		key := dedupKey(item)
		if seen[key] {
			stats.Duplicates++
			continue
		}
		seen[key] = true

		if item.Currency == "" {
			item.Currency = currency
		}
		item.Position = len(items)
		items = append(items, item)
		stats.RecordsValid++
	}
	stats.TotalLines = pc.lineNumber

	if len(items) == 0 {
		return nil, errors.ParseError(errors.CodeInvalidData, source, pc.lineNumber, "", "", fmt.Errorf("no line items found")).
			WithSuggestion("Check that the rows carry a date, a description and an amount").
			WithContext("row_errors", stats.ErrorCount())
	}

	st := &models.Statement{
		BankName:     strings.TrimSpace(meta.BankName),
		AccountLast4: strings.TrimSpace(meta.AccountLast4),
		FileName:     meta.FileName,
		FileType:     meta.FileType,
		Currency:     currency,
	}
	if st.FileType == "" {
		st.FileType = "csv"
	}
	setPeriod(st, items)

	p.logger.WithFields(logger.Fields{
		"source":     source,
		"items":      len(items),
		"skipped":    stats.Skipped,
		"duplicates": stats.Duplicates,
		"errors":     stats.ErrorCount(),
	}).Info("Parsed statement")

	return &ParsedStatement{Statement: st, Items: items, Stats: stats}, nil
}

func (p *LineItemParser) abort(pc *parseContext, stats *ParseStats) error {
	last := stats.Errors[len(stats.Errors)-1]
	return errors.ParseError(errors.CodeInvalidData, pc.source, last.Line, last.Field, last.Value, last).
		WithSuggestion(fmt.Sprintf("Parsing stopped after %d rejected rows; check the column layout", stats.ErrorCount()))
}

// parseRow converts one record. skip is set for rows that are not
// transactions: separators, repeated headers, balance lines.
func (p *LineItemParser) parseRow(record []string, pc *parseContext) (*models.BankLineItem, bool, *RowError) {
	if isSeparatorRow(record) {
		return nil, true, nil
	}

	description := strings.Join(strings.Fields(pc.field(record, ColDescription)), " ")
	if skipDescriptions[strings.ToLower(description)] {
		return nil, true, nil
	}

	dateCol := ColDate
	dateRaw := pc.field(record, ColDate)
	if dateRaw == "" {
		dateCol = ColValueDate
		dateRaw = pc.field(record, ColValueDate)
	}

	amount, direction, err := p.amountAndDirection(record, pc)
	if err != nil {
		return nil, false, err
	}
	if amount.IsZero() {
		// balance-only or informational rows
		return nil, true, nil
	}

	if dateRaw == "" {
		return nil, false, &RowError{
			Line:    pc.lineNumber,
			Field:   string(dateCol),
			Message: "missing date",
			Err:     errors.ValidationError(errors.CodeMissingField, string(dateCol), "", nil),
		}
	}
	date, parseErr := models.ParseDate(dateRaw)
	if parseErr != nil {
		return nil, false, &RowError{
			Line:    pc.lineNumber,
			Field:   string(dateCol),
			Value:   dateRaw,
			Message: "invalid date",
			Err:     errors.ValidationError(errors.CodeInvalidDate, string(dateCol), dateRaw, parseErr),
		}
	}

	if direction == "" {
		direction = classifier.InferDirection(description)
	}

	return &models.BankLineItem{
		Date:        date,
		Description: description,
		Amount:      amount,
		Currency:    models.NormalizeCurrency(pc.field(record, ColCurrency)),
		Direction:   direction,
		Reference:   pc.field(record, ColReference),
		Status:      models.MatchStatusUnmatched,
	}, false, nil
}

// amountAndDirection returns the unsigned amount of the row and, when the row
// states it, its direction. An explicit direction column wins over the sign.
func (p *LineItemParser) amountAndDirection(record []string, pc *parseContext) (decimal.Decimal, models.Direction, *RowError) {
	if pc.has(ColDebit) || pc.has(ColCredit) {
		for _, side := range []struct {
			col       Column
			direction models.Direction
		}{
			{ColDebit, models.DirectionDebit},
			{ColCredit, models.DirectionCredit},
		} {
			raw := pc.field(record, side.col)
			if raw == "" || raw == "-" {
				continue
			}
			value, _, err := ParseAmount(raw)
			if err != nil {
				return decimal.Zero, "", &RowError{
					Line:    pc.lineNumber,
					Field:   string(side.col),
					Value:   raw,
					Message: "invalid amount",
					Err:     errors.ValidationError(errors.CodeInvalidAmount, string(side.col), raw, err),
				}
			}
			if !value.IsZero() {
				return value, side.direction, nil
			}
		}
		if !pc.has(ColAmount) {
			return decimal.Zero, "", nil
		}
	}

	raw := pc.field(record, ColAmount)
	if raw == "" {
		return decimal.Zero, "", nil
	}
	value, direction, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, "", &RowError{
			Line:    pc.lineNumber,
			Field:   string(ColAmount),
			Value:   raw,
			Message: "invalid amount",
			Err:     errors.ValidationError(errors.CodeInvalidAmount, string(ColAmount), raw, err),
		}
	}

	if indicator := pc.field(record, ColDirection); indicator != "" {
		if explicit, err := models.ParseDirection(indicator); err == nil {
			direction = explicit
		}
	}
	return value, direction, nil
}

// ParseAmount parses a statement amount. The returned value is unsigned; the
// direction is set when the text carries one: a DR or CR marker, a leading
// minus or plus sign, or accounting parentheses (debit).
func ParseAmount(raw string) (decimal.Decimal, models.Direction, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var direction models.Direction

	switch {
	case strings.HasSuffix(s, "DR"):
		direction = models.DirectionDebit
		s = strings.TrimSuffix(s, "DR")
	case strings.HasSuffix(s, "CR"):
		direction = models.DirectionCredit
		s = strings.TrimSuffix(s, "CR")
	case strings.HasPrefix(s, "DR"):
		direction = models.DirectionDebit
		s = strings.TrimPrefix(s, "DR")
	case strings.HasPrefix(s, "CR"):
		direction = models.DirectionCredit
		s = strings.TrimPrefix(s, "CR")
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "+") {
		s = strings.TrimPrefix(s, "+")
		if direction == "" {
			direction = models.DirectionCredit
		}
	}

	value, err := models.ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, "", err
	}
	if value.IsNegative() && direction == "" {
		direction = models.DirectionDebit
	}
	return value.Abs(), direction, nil
}

func dedupKey(item *models.BankLineItem) string {
	base := models.FormatDate(item.Date) + "|" + item.Amount.String() + "|" + string(item.Direction)
	if item.Reference != "" {
		return base + "|ref:" + strings.ToLower(item.Reference)
	}
	desc := []rune(strings.ToLower(item.Description))
	if len(desc) > dedupDescriptionLength {
		desc = desc[:dedupDescriptionLength]
	}
	return base + "|desc:" + string(desc)
}

// setPeriod fills the statement period from the item dates when absent
func setPeriod(st *models.Statement, items []*models.BankLineItem) {
	if st.PeriodStart != nil && st.PeriodEnd != nil {
		return
	}
	var first, last time.Time
	for _, item := range items {
		if first.IsZero() || item.Date.Before(first) {
			first = item.Date
		}
		if last.IsZero() || item.Date.After(last) {
			last = item.Date
		}
	}
	if st.PeriodStart == nil {
		st.PeriodStart = &first
	}
	if st.PeriodEnd == nil {
		st.PeriodEnd = &last
	}
}
