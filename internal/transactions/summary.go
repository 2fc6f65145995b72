package transactions

import (
	"context"
	"sort"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"

	"github.com/shopspring/decimal"
)

// MonthlyTotals is the income and expense total of one calendar month
type MonthlyTotals struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// Summary aggregates recorded transactions. Transfers move money between own
// accounts and are left out of every total.
type Summary struct {
	TotalIncome       decimal.Decimal            `json:"total_income"`
	TotalExpenses     decimal.Decimal            `json:"total_expenses"`
	Balance           decimal.Decimal            `json:"balance"`
	ExpenseByCategory map[string]decimal.Decimal `json:"expense_by_category"`
	IncomeByCategory  map[string]decimal.Decimal `json:"income_by_category"`
	Monthly           []MonthlyTotals            `json:"monthly"`
}

// Summarize totals the transactions dated within [from, to]; nil bounds are open
func (s *Service) Summarize(ctx context.Context, from, to *time.Time) (*Summary, error) {
	txs, err := s.store.ListTransactions(ctx, store.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ExpenseByCategory: make(map[string]decimal.Decimal),
		IncomeByCategory:  make(map[string]decimal.Decimal),
	}
	monthly := make(map[string]*MonthlyTotals)

	for _, tx := range txs {
		if tx.Type == models.TransactionTypeTransfer {
			continue
		}
		key := tx.Date.Format("2006-01")
		month, ok := monthly[key]
		if !ok {
			month = &MonthlyTotals{Month: key}
			monthly[key] = month
		}

		switch tx.Type {
		case models.TransactionTypeIncome:
			summary.TotalIncome = summary.TotalIncome.Add(tx.Amount)
			summary.IncomeByCategory[tx.Category] = summary.IncomeByCategory[tx.Category].Add(tx.Amount)
			month.Income = month.Income.Add(tx.Amount)
		case models.TransactionTypeExpense:
			summary.TotalExpenses = summary.TotalExpenses.Add(tx.Amount)
			summary.ExpenseByCategory[tx.Category] = summary.ExpenseByCategory[tx.Category].Add(tx.Amount)
			month.Expenses = month.Expenses.Add(tx.Amount)
		}
	}

	summary.Balance = summary.TotalIncome.Sub(summary.TotalExpenses)

	keys := make([]string, 0, len(monthly))
	for key := range monthly {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		summary.Monthly = append(summary.Monthly, *monthly[key])
	}
	return summary, nil
}
