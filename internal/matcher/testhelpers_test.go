package matcher

import (
	"testing"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

var baseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return baseDate.AddDate(0, 0, offset)
}

func newItem(id int64, amount string, date time.Time, description string) *models.BankLineItem {
	return &models.BankLineItem{
		ID:          id,
		StatementID: 1,
		Date:        date,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Direction:   models.DirectionDebit,
		Status:      models.MatchStatusUnmatched,
	}
}

func newTx(id int64, amount string, date time.Time, vendor string) *models.RecordedTransaction {
	return &models.RecordedTransaction{
		ID:       id,
		Type:     models.TransactionTypeExpense,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Category: "Shopping",
		Vendor:   vendor,
		Date:     date,
	}
}

func newTestEngine(t *testing.T, config *MatchingConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(config, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return engine
}
