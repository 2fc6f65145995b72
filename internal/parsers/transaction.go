package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/transactions"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// TransactionParser reads recorded transactions exported by bookkeeping tools.
// A row without a type column value is an expense when its amount is
// negative and income otherwise.
type TransactionParser struct {
	*baseParser
	aliases Aliases
}

// NewTransactionParser creates a parser; nil arguments select the defaults
func NewTransactionParser(config *ParseConfig, aliases Aliases) (*TransactionParser, error) {
	base, err := newBaseParser(config, "transaction_parser")
	if err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = TransactionAliases
	}
	return &TransactionParser{baseParser: base, aliases: aliases}, nil
}

// Parse reads data into transaction inputs. Field validation beyond dates and
// amounts is left to the transaction service, which reports it per item.
func (tp *TransactionParser) Parse(ctx context.Context, data []byte, source string) ([]transactions.Input, *ParseStats, error) {
	tp.logger.WithFields(logger.Fields{
		"source":    source,
		"operation": "parse_transactions",
	}).Info("Starting transaction parsing")

	reader, err := tp.open(data, source)
	if err != nil {
		return nil, nil, err
	}

	pc := newParseContext(ctx, source)
	stats := &ParseStats{}

	required := [][]Column{{ColDate}, {ColAmount}, {ColCategory}}
	if err := tp.readHeaders(reader, pc, tp.aliases, required...); err != nil {
		return nil, stats, err
	}

	var inputs []transactions.Input
	for {
		record, err := tp.readRecord(reader, pc)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.IsKind(err, errors.KindCancelled) {
				return inputs, stats, err
			}
			stats.AddError(&RowError{Line: pc.lineNumber, Message: "unreadable row", Err: err})
		} else {
			stats.RecordsParsed++
			in, rowErr := tp.parseRecord(record, pc)
			if rowErr != nil {
				stats.AddError(rowErr)
			} else {
				inputs = append(inputs, in)
				stats.RecordsValid++
			}
		}

		if tp.tooManyErrors(stats) {
			last := stats.Errors[len(stats.Errors)-1]
			return inputs, stats, errors.ParseError(errors.CodeInvalidData, source, last.Line, last.Field, last.Value, last).
				WithSuggestion(fmt.Sprintf("Parsing stopped after %d rejected rows", stats.ErrorCount()))
		}
	}
	stats.TotalLines = pc.lineNumber

	tp.logger.WithFields(logger.Fields{
		"source": source,
		"valid":  stats.RecordsValid,
		"errors": stats.ErrorCount(),
	}).Info("Transaction parsing completed")

	return inputs, stats, nil
}

func (tp *TransactionParser) parseRecord(record []string, pc *parseContext) (transactions.Input, *RowError) {
	dateRaw := pc.field(record, ColDate)
	if _, err := models.ParseDate(dateRaw); err != nil {
		return transactions.Input{}, &RowError{
			Line:    pc.lineNumber,
			Field:   string(ColDate),
			Value:   dateRaw,
			Message: "invalid date",
			Err:     errors.ValidationError(errors.CodeInvalidDate, string(ColDate), dateRaw, err),
		}
	}

	amountRaw := pc.field(record, ColAmount)
	amount, err := models.ParseDecimalFromString(amountRaw)
	if err != nil {
		return transactions.Input{}, &RowError{
			Line:    pc.lineNumber,
			Field:   string(ColAmount),
			Value:   amountRaw,
			Message: "invalid amount",
			Err:     errors.ValidationError(errors.CodeInvalidAmount, string(ColAmount), amountRaw, err),
		}
	}

	txType := models.TransactionType(strings.ToLower(pc.field(record, ColType)))
	if txType == "" {
		if amount.IsNegative() {
			txType = models.TransactionTypeExpense
		} else {
			txType = models.TransactionTypeIncome
		}
	}

	return transactions.Input{
		Type:        txType,
		Amount:      decimal.NewNullDecimal(amount.Abs()),
		Currency:    pc.field(record, ColCurrency),
		Category:    pc.field(record, ColCategory),
		Description: pc.field(record, ColDescription),
		Date:        dateRaw,
		Vendor:      pc.field(record, ColVendor),
		Bank:        pc.field(record, ColBank),
	}, nil
}
