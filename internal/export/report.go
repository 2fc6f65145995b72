// Package export builds the reconciliation report of a statement and renders
// it for people and spreadsheets.
//
// Supported output formats:
//   - Console: coloured tabular output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per line item for spreadsheet applications
//
// PDF rendering belongs to the presentation layer and is not produced here.
package export

import (
	"context"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"

	"github.com/shopspring/decimal"
)

// Row is one line item of the statement with its reconciliation state
type Row struct {
	BankItemID        int64              `json:"bank_item_id"`
	Date              string             `json:"date"`
	Description       string             `json:"description"`
	Amount            decimal.Decimal    `json:"amount"`
	Direction         models.Direction   `json:"direction"`
	Status            models.MatchStatus `json:"status"`
	Confidence        *float64           `json:"confidence,omitempty"`
	Method            models.MatchMethod `json:"method,omitempty"`
	TransactionID     *int64             `json:"transaction_id,omitempty"`
	MatchedDesc       string             `json:"matched_description,omitempty"`
	MatchedAmount     *decimal.Decimal   `json:"matched_amount,omitempty"`
	SuggestedCategory string             `json:"suggested_category,omitempty"`
}

// Report is the reconciliation state of one statement
type Report struct {
	Statement   *models.Statement           `json:"statement"`
	Status      models.ReconciliationStatus `json:"status"`
	Rows        []Row                       `json:"rows"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// Source is the read access a report needs
type Source interface {
	GetStatement(ctx context.Context, id int64) (*models.Statement, error)
	ListLineItems(ctx context.Context, statementID int64) ([]*models.BankLineItem, error)
	ListMatches(ctx context.Context, statementID int64) ([]*models.Match, error)
	GetTransaction(ctx context.Context, id int64) (*models.RecordedTransaction, error)
}

var _ Source = (store.Store)(nil)

// Build reads the statement, its line items and their matched transactions.
// Rows follow line item order: date, then id.
func Build(ctx context.Context, src Source, statementID int64) (*Report, error) {
	st, err := src.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	items, err := src.ListLineItems(ctx, statementID)
	if err != nil {
		return nil, err
	}
	matches, err := src.ListMatches(ctx, statementID)
	if err != nil {
		return nil, err
	}

	byItem := make(map[int64]*models.Match, len(matches))
	for _, m := range matches {
		byItem[m.BankLineItemID] = m
	}

	report := &Report{
		Statement:   st,
		Status:      models.NewReconciliationStatus(statementID, items),
		Rows:        make([]Row, 0, len(items)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, item := range items {
		row := Row{
			BankItemID:        item.ID,
			Date:              models.FormatDate(item.Date),
			Description:       item.Description,
			Amount:            item.Amount,
			Direction:         item.Direction,
			Status:            item.Status,
			Confidence:        item.Confidence,
			SuggestedCategory: item.SuggestedCategory,
		}

		if m, ok := byItem[item.ID]; ok {
			tx, err := src.GetTransaction(ctx, m.TransactionID)
			if err != nil {
				return nil, err
			}
			txID := tx.ID
			amount := tx.Amount
			row.TransactionID = &txID
			row.MatchedDesc = matchedDescription(tx)
			row.MatchedAmount = &amount
			row.Confidence = m.Confidence
			row.Method = m.Method
		} else if item.SuggestedTransactionID != nil {
			txID := *item.SuggestedTransactionID
			row.TransactionID = &txID
		}

		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

func matchedDescription(tx *models.RecordedTransaction) string {
	if tx.Description != "" {
		return tx.Description
	}
	return tx.Vendor
}
