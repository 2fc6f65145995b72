package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a recorded transaction
type TransactionType string

const (
	TransactionTypeExpense  TransactionType = "expense"
	TransactionTypeIncome   TransactionType = "income"
	TransactionTypeTransfer TransactionType = "transfer"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeExpense, TransactionTypeIncome, TransactionTypeTransfer:
		return true
	}
	return false
}

// Direction is the money movement of a bank line item as reported by the bank
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

// DefaultTransactionType is the type an imported item gets when nothing better is known
func (d Direction) DefaultTransactionType() TransactionType {
	if d == DirectionCredit {
		return TransactionTypeIncome
	}
	return TransactionTypeExpense
}

// MatchStatus is the reconciliation state of a bank line item
type MatchStatus string

const (
	MatchStatusUnmatched   MatchStatus = "unmatched"
	MatchStatusMatched     MatchStatus = "matched"
	MatchStatusDiscrepancy MatchStatus = "discrepancy"
)

// StatementStatus is derived from the statuses of a statement's line items
type StatementStatus string

const (
	StatementStatusPending    StatementStatus = "pending"
	StatementStatusReconciled StatementStatus = "reconciled"
)

// MatchMethod records how a Match came to exist
type MatchMethod string

const (
	MatchMethodAuto            MatchMethod = "auto"
	MatchMethodManual          MatchMethod = "manual"
	MatchMethodImport          MatchMethod = "import"
	MatchMethodDuplicateImport MatchMethod = "duplicate_import"
)

// DefaultCurrency is assigned to recorded transactions created without one
const DefaultCurrency = "USD"

// RecordedTransaction is a transaction recorded in the bookkeeping ledger
type RecordedTransaction struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	Type        TransactionType `json:"type" gorm:"size:16;not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(18,4);not null"`
	Currency    string          `json:"currency" gorm:"size:3;not null"`
	Category    string          `json:"category" gorm:"size:64"`
	Description string          `json:"description" gorm:"size:512"`
	Vendor      string          `json:"vendor,omitempty" gorm:"size:255"`
	Bank        string          `json:"bank,omitempty" gorm:"size:128"`
	Date        time.Time       `json:"date" gorm:"index;not null"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName pins the gorm table name
func (RecordedTransaction) TableName() string { return "transactions" }

// Validate performs basic validation on the RecordedTransaction
func (t *RecordedTransaction) Validate() error {
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %q", t.Type)
	}
	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount cannot be zero")
	}
	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("transaction category cannot be empty")
	}
	return nil
}

// Snapshot returns the audited representation of the transaction
func (t *RecordedTransaction) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"type":        string(t.Type),
		"amount":      t.Amount.String(),
		"currency":    t.Currency,
		"category":    t.Category,
		"description": t.Description,
		"vendor":      t.Vendor,
		"bank":        t.Bank,
		"date":        FormatDate(t.Date),
	}
}

// String returns a string representation of the RecordedTransaction
func (t *RecordedTransaction) String() string {
	return fmt.Sprintf("Transaction{ID: %d, Amount: %s %s, Date: %s, Vendor: %q}",
		t.ID, t.Amount.String(), t.Currency, FormatDate(t.Date), t.Vendor)
}

// Statement is an imported bank statement. Status and counts are derived from
// its line items and are never persisted.
type Statement struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	BankName     string     `json:"bank_name" gorm:"size:128;not null"`
	AccountLast4 string     `json:"account_last4,omitempty" gorm:"size:4"`
	FileName     string     `json:"file_name,omitempty" gorm:"size:255"`
	FileType     string     `json:"file_type,omitempty" gorm:"size:16"`
	Currency     string     `json:"currency,omitempty" gorm:"size:3"`
	PeriodStart  *time.Time `json:"period_start,omitempty"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	Status       StatementStatus `json:"status" gorm:"-"`
	TotalItems   int             `json:"total_items" gorm:"-"`
	MatchedItems int             `json:"matched_items" gorm:"-"`
}

// TableName pins the gorm table name
func (Statement) TableName() string { return "bank_statements" }

// Validate performs basic validation on the Statement
func (s *Statement) Validate() error {
	if strings.TrimSpace(s.BankName) == "" {
		return fmt.Errorf("bank name cannot be empty")
	}
	if s.PeriodStart != nil && s.PeriodEnd != nil && s.PeriodEnd.Before(*s.PeriodStart) {
		return fmt.Errorf("statement period ends before it starts")
	}
	return nil
}

// Snapshot returns the audited representation of the statement
func (s *Statement) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"bank_name":     s.BankName,
		"account_last4": s.AccountLast4,
		"file_name":     s.FileName,
		"file_type":     s.FileType,
	}
	if s.PeriodStart != nil {
		snap["period_start"] = FormatDate(*s.PeriodStart)
	}
	if s.PeriodEnd != nil {
		snap["period_end"] = FormatDate(*s.PeriodEnd)
	}
	return snap
}

// BankLineItem is one parsed row of a bank statement. Only the match fields
// change after ingestion.
type BankLineItem struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	StatementID int64           `json:"statement_id" gorm:"index;not null"`
	Position    int             `json:"position"`
	Date        time.Time       `json:"date" gorm:"index;not null"`
	Description string          `json:"description" gorm:"size:512"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(18,4);not null"`
	Currency    string          `json:"currency,omitempty" gorm:"size:3"`
	Direction   Direction       `json:"direction" gorm:"size:8;not null"`
	Reference   string          `json:"reference,omitempty" gorm:"size:128"`

	Status                 MatchStatus     `json:"status" gorm:"size:16;not null;index"`
	MatchedTransactionID   *int64          `json:"matched_transaction_id,omitempty"`
	Confidence             *float64        `json:"confidence,omitempty"`
	SuggestedTransactionID *int64          `json:"suggested_transaction_id,omitempty"`
	SuggestedCategory      string          `json:"suggested_category,omitempty" gorm:"size:64"`
	SuggestedType          TransactionType `json:"suggested_type,omitempty" gorm:"size:16"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TableName pins the gorm table name
func (BankLineItem) TableName() string { return "bank_line_items" }

// Validate performs basic validation on the BankLineItem
func (b *BankLineItem) Validate() error {
	if b.Date.IsZero() {
		return fmt.Errorf("line item date cannot be zero")
	}
	if b.Amount.IsZero() {
		return fmt.Errorf("line item amount cannot be zero")
	}
	if !b.Direction.IsValid() {
		return fmt.Errorf("invalid direction: %q", b.Direction)
	}
	return nil
}

// IsMatched reports whether the item has an active Match
func (b *BankLineItem) IsMatched() bool {
	return b.Status == MatchStatusMatched && b.MatchedTransactionID != nil
}

// AbsAmount returns the unsigned amount of the item
func (b *BankLineItem) AbsAmount() decimal.Decimal {
	return b.Amount.Abs()
}

// Snapshot returns the audited representation of the item's match state
func (b *BankLineItem) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"status": string(b.Status),
	}
	if b.MatchedTransactionID != nil {
		snap["matched_transaction_id"] = *b.MatchedTransactionID
	}
	if b.SuggestedTransactionID != nil {
		snap["suggested_transaction_id"] = *b.SuggestedTransactionID
	}
	if b.Confidence != nil {
		snap["confidence"] = *b.Confidence
	}
	if b.SuggestedCategory != "" {
		snap["suggested_category"] = b.SuggestedCategory
		snap["suggested_type"] = string(b.SuggestedType)
	}
	return snap
}

// Match is the committed pairing of a bank line item with a recorded transaction.
// Both sides are unique across all active matches.
type Match struct {
	ID             int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	BankLineItemID int64       `json:"bank_line_item_id" gorm:"uniqueIndex;not null"`
	TransactionID  int64       `json:"transaction_id" gorm:"uniqueIndex;not null"`
	StatementID    int64       `json:"statement_id" gorm:"index;not null"`
	Confidence     *float64    `json:"confidence"`
	Method         MatchMethod `json:"method" gorm:"size:24;not null"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TableName pins the gorm table name
func (Match) TableName() string { return "reconciliation_matches" }

// ReconciliationStatus is the fresh aggregate of a statement's line item statuses
type ReconciliationStatus struct {
	StatementID   int64           `json:"statement_id"`
	Total         int             `json:"total"`
	Matched       int             `json:"matched"`
	Unmatched     int             `json:"unmatched"`
	Discrepancies int             `json:"discrepancies"`
	Status        StatementStatus `json:"status"`
}

// NewReconciliationStatus aggregates statuses of the given items
func NewReconciliationStatus(statementID int64, items []*BankLineItem) ReconciliationStatus {
	status := ReconciliationStatus{StatementID: statementID, Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case MatchStatusMatched:
			status.Matched++
		case MatchStatusDiscrepancy:
			status.Discrepancies++
		default:
			status.Unmatched++
		}
	}
	status.Status = StatementStatusPending
	if status.Total > 0 && status.Matched == status.Total {
		status.Status = StatementStatusReconciled
	}
	return status
}
