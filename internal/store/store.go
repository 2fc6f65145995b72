// Package store persists recorded transactions, statements, line items,
// matches and audit entries.
//
// Two implementations are provided: MemoryStore for tests and single-process
// use, and GormStore for sqlite and mysql. Both enforce the match bijection at
// the storage layer: CreateMatch fails with an AlreadyMatched error when either
// side is already paired, regardless of which statement lock the caller holds.
package store

import (
	"context"
	"time"

	"reconciliation-engine/internal/models"
)

// TransactionFilter narrows ListTransactions. Zero values match everything.
type TransactionFilter struct {
	Type          models.TransactionType
	Category      string
	From          *time.Time
	To            *time.Time
	UnmatchedOnly bool
	Limit         int
	Offset        int
}

// TransactionStore holds recorded transactions
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *models.RecordedTransaction) error
	GetTransaction(ctx context.Context, id int64) (*models.RecordedTransaction, error)
	UpdateTransaction(ctx context.Context, tx *models.RecordedTransaction) error
	// DeleteTransaction refuses transactions with an active match.
	DeleteTransaction(ctx context.Context, id int64) error
	// ListTransactions orders by date, then id.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.RecordedTransaction, error)
}

// StatementStore holds statements and their line items
type StatementStore interface {
	// CreateStatement stores st and items together. Items get the statement
	// id, their position and status unmatched.
	CreateStatement(ctx context.Context, st *models.Statement, items []*models.BankLineItem) error
	GetStatement(ctx context.Context, id int64) (*models.Statement, error)
	ListStatements(ctx context.Context) ([]*models.Statement, error)
	// DeleteStatement removes the statement, its line items and their
	// matches. Recorded transactions are kept.
	DeleteStatement(ctx context.Context, id int64) error

	GetLineItem(ctx context.Context, id int64) (*models.BankLineItem, error)
	// ListLineItems orders by date, then id.
	ListLineItems(ctx context.Context, statementID int64) ([]*models.BankLineItem, error)
	// UpdateLineItemReview writes status (unmatched or discrepancy), the
	// suggested transaction, confidence and suggested category/type of an item
	// without an active match.
	UpdateLineItemReview(ctx context.Context, item *models.BankLineItem) error
}

// MatchStore holds the active pairings
type MatchStore interface {
	// CreateMatch atomically creates m and marks its line item matched.
	CreateMatch(ctx context.Context, m *models.Match) error
	// CreateMatchedTransaction atomically creates tx and a match linking it
	// to m.BankLineItemID. m.TransactionID is set from tx.
	CreateMatchedTransaction(ctx context.Context, tx *models.RecordedTransaction, m *models.Match) error
	// DeleteMatch removes the active match of a line item and resets it to
	// unmatched. It returns the removed match.
	DeleteMatch(ctx context.Context, bankItemID int64) (*models.Match, error)
	GetMatchByLineItem(ctx context.Context, bankItemID int64) (*models.Match, error)
	ListMatches(ctx context.Context, statementID int64) ([]*models.Match, error)
}

// AuditStore is the append-only audit log
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	// QueryAudit orders by timestamp desc, then id desc. A non-positive
	// limit returns every entry.
	QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error)
}

// Store combines every persistence concern of the engine
type Store interface {
	TransactionStore
	StatementStore
	MatchStore
	AuditStore
	Close() error
}

// Driver names accepted by Open
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config selects and configures a store implementation
type Config struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}
