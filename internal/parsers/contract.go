package parsers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// ItemContract is one line item as delivered by the parsing collaborator.
// Amount may be signed; a negative amount without a direction is a debit.
type ItemContract struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Reference   string          `json:"reference,omitempty"`
}

// StatementContract is a normalized statement with its line items in file order
type StatementContract struct {
	StatementMeta
	PeriodStart string         `json:"period_start,omitempty"`
	PeriodEnd   string         `json:"period_end,omitempty"`
	Items       []ItemContract `json:"items"`
}

// DecodeStatement reads a JSON statement contract from r
func DecodeStatement(r io.Reader) (*ParsedStatement, error) {
	var contract StatementContract
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&contract); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, "statement", 0, "", "", err).
			WithSuggestion("Send a JSON object with bank_name and an items array")
	}
	return contract.ToParsed()
}

// ToParsed validates the contract and converts it. Unlike the CSV parser it
// rejects the whole statement on the first invalid item.
func (c *StatementContract) ToParsed() (*ParsedStatement, error) {
	currency := models.NormalizeCurrency(c.Currency)
	st := &models.Statement{
		BankName:     strings.TrimSpace(c.BankName),
		AccountLast4: strings.TrimSpace(c.AccountLast4),
		FileName:     c.FileName,
		FileType:     c.FileType,
		Currency:     currency,
	}
	if st.BankName == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "bank_name", "", nil)
	}
	if len(st.AccountLast4) > 4 {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "account_last4", st.AccountLast4, nil).
			WithSuggestion("send only the last four digits of the account number")
	}

	if c.PeriodStart != "" {
		t, err := models.ParseDate(c.PeriodStart)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidDate, "period_start", c.PeriodStart, err)
		}
		st.PeriodStart = &t
	}
	if c.PeriodEnd != "" {
		t, err := models.ParseDate(c.PeriodEnd)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidDate, "period_end", c.PeriodEnd, err)
		}
		st.PeriodEnd = &t
	}

	if len(c.Items) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "items", 0, nil)
	}

	items := make([]*models.BankLineItem, 0, len(c.Items))
	for i, in := range c.Items {
		item, err := in.toModel(fmt.Sprintf("items[%d]", i))
		if err != nil {
			return nil, err
		}
		if item.Currency == "" {
			item.Currency = currency
		}
		item.Position = i
		items = append(items, item)
	}
	setPeriod(st, items)

	stats := &ParseStats{
		TotalLines:    len(c.Items),
		RecordsParsed: len(c.Items),
		RecordsValid:  len(items),
	}
	return &ParsedStatement{Statement: st, Items: items, Stats: stats}, nil
}

func (in ItemContract) toModel(field string) (*models.BankLineItem, error) {
	date, err := models.ParseDate(in.Date)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, field+".date", in.Date, err)
	}
	if in.Amount.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, field+".amount", in.Amount.String(), nil).
			WithSuggestion("line item amounts must be non-zero")
	}

	description := strings.Join(strings.Fields(in.Description), " ")

	var direction models.Direction
	switch {
	case strings.TrimSpace(in.Direction) != "":
		direction, err = models.ParseDirection(in.Direction)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidValue, field+".direction", in.Direction, err)
		}
	case in.Amount.IsNegative():
		direction = models.DirectionDebit
	default:
		direction = classifier.InferDirection(description)
	}

	return &models.BankLineItem{
		Date:        date,
		Description: description,
		Amount:      in.Amount.Abs(),
		Currency:    models.NormalizeCurrency(in.Currency),
		Direction:   direction,
		Reference:   strings.TrimSpace(in.Reference),
		Status:      models.MatchStatusUnmatched,
	}, nil
}
