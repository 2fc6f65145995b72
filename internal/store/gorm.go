package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore persists to a SQL database through gorm. Unique indexes on both
// sides of reconciliation_matches back the match bijection.
type GormStore struct {
	db *gorm.DB
}

// Open creates the store selected by cfg.Driver
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite, DriverMySQL:
		s, err := OpenGorm(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", cfg.Driver,
			fmt.Errorf("unsupported driver"))
	}
}

// OpenGorm connects to sqlite or mysql and migrates the schema
func OpenGorm(cfg Config) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", "", nil)
		}
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", cfg.Driver,
			fmt.Errorf("not a SQL driver"))
	}

	logLevel := gormlogger.Warn
	if cfg.LogQueries {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "connect database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "connect database", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the schema
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&models.RecordedTransaction{},
		&models.Statement{},
		&models.BankLineItem{},
		&models.Match{},
		&models.AuditLogEntry{},
	)
	if err != nil {
		return nil, errors.InternalError(errors.CodeStorageFailure, "migrate schema", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storageError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Cancelled(operation, err)
	}
	return errors.InternalError(errors.CodeStorageFailure, operation, err)
}

func (s *GormStore) CreateTransaction(ctx context.Context, tx *models.RecordedTransaction) error {
	return storageError("create transaction", s.db.WithContext(ctx).Create(tx).Error)
}

func (s *GormStore) GetTransaction(ctx context.Context, id int64) (*models.RecordedTransaction, error) {
	var tx models.RecordedTransaction
	err := s.db.WithContext(ctx).First(&tx, id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(errors.CodeTransactionNotFound, id)
		}
		return nil, storageError("get transaction", err)
	}
	return &tx, nil
}

func (s *GormStore) UpdateTransaction(ctx context.Context, tx *models.RecordedTransaction) error {
	result := s.db.WithContext(ctx).Model(&models.RecordedTransaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{
			"type":        tx.Type,
			"amount":      tx.Amount,
			"currency":    tx.Currency,
			"category":    tx.Category,
			"description": tx.Description,
			"vendor":      tx.Vendor,
			"bank":        tx.Bank,
			"date":        tx.Date,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return storageError("update transaction", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound(errors.CodeTransactionNotFound, tx.ID)
	}
	return nil
}

func (s *GormStore) DeleteTransaction(ctx context.Context, id int64) error {
	return storageError("delete transaction", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var m models.Match
		err := db.Where("transaction_id = ?", id).First(&m).Error
		if err == nil {
			return errors.AlreadyMatched(errors.CodeTransactionMatched, m.BankLineItemID, id)
		}
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		result := db.Delete(&models.RecordedTransaction{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.NotFound(errors.CodeTransactionNotFound, id)
		}
		return nil
	}))
}

func (s *GormStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.RecordedTransaction, error) {
	query := s.db.WithContext(ctx).Model(&models.RecordedTransaction{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("date <= ?", *filter.To)
	}
	if filter.UnmatchedOnly {
		query = query.Where("id NOT IN (?)", s.db.Model(&models.Match{}).Select("transaction_id"))
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var result []*models.RecordedTransaction
	err := query.Order("date ASC, id ASC").Find(&result).Error
	return result, storageError("list transactions", err)
}

func (s *GormStore) CreateStatement(ctx context.Context, st *models.Statement, items []*models.BankLineItem) error {
	return storageError("create statement", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Create(st).Error; err != nil {
			return err
		}
		for i, item := range items {
			item.StatementID = st.ID
			item.Position = i
			item.Status = models.MatchStatusUnmatched
		}
		if len(items) == 0 {
			return nil
		}
		return db.CreateInBatches(items, 200).Error
	}))
}

func (s *GormStore) GetStatement(ctx context.Context, id int64) (*models.Statement, error) {
	var st models.Statement
	err := s.db.WithContext(ctx).First(&st, id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(errors.CodeStatementNotFound, id)
		}
		return nil, storageError("get statement", err)
	}

	counts, err := s.statementCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	applyCounts(&st, counts[id])
	return &st, nil
}

func (s *GormStore) ListStatements(ctx context.Context) ([]*models.Statement, error) {
	var result []*models.Statement
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&result).Error; err != nil {
		return nil, storageError("list statements", err)
	}

	counts, err := s.statementCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range result {
		applyCounts(st, counts[st.ID])
	}
	return result, nil
}

type statusCountRow struct {
	StatementID int64
	Status      models.MatchStatus
	Count       int
}

// statementCounts aggregates line item statuses per statement. With no ids
// every statement is aggregated.
func (s *GormStore) statementCounts(ctx context.Context, ids ...int64) (map[int64]models.ReconciliationStatus, error) {
	query := s.db.WithContext(ctx).Model(&models.BankLineItem{}).
		Select("statement_id, status, COUNT(*) AS count").
		Group("statement_id, status")
	if len(ids) > 0 {
		query = query.Where("statement_id IN ?", ids)
	}

	var rows []statusCountRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, storageError("count line items", err)
	}

	counts := make(map[int64]models.ReconciliationStatus)
	for _, row := range rows {
		c := counts[row.StatementID]
		c.StatementID = row.StatementID
		c.Total += row.Count
		switch row.Status {
		case models.MatchStatusMatched:
			c.Matched += row.Count
		case models.MatchStatusDiscrepancy:
			c.Discrepancies += row.Count
		default:
			c.Unmatched += row.Count
		}
		counts[row.StatementID] = c
	}
	for id, c := range counts {
		c.Status = models.StatementStatusPending
		if c.Total > 0 && c.Matched == c.Total {
			c.Status = models.StatementStatusReconciled
		}
		counts[id] = c
	}
	for _, id := range ids {
		if _, ok := counts[id]; !ok {
			counts[id] = models.ReconciliationStatus{StatementID: id, Status: models.StatementStatusPending}
		}
	}
	return counts, nil
}

func (s *GormStore) DeleteStatement(ctx context.Context, id int64) error {
	return storageError("delete statement", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		result := db.Delete(&models.Statement{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.NotFound(errors.CodeStatementNotFound, id)
		}
		if err := db.Where("statement_id = ?", id).Delete(&models.Match{}).Error; err != nil {
			return err
		}
		return db.Where("statement_id = ?", id).Delete(&models.BankLineItem{}).Error
	}))
}

func (s *GormStore) GetLineItem(ctx context.Context, id int64) (*models.BankLineItem, error) {
	var item models.BankLineItem
	err := s.db.WithContext(ctx).First(&item, id).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(errors.CodeBankItemNotFound, id)
		}
		return nil, storageError("get line item", err)
	}
	return &item, nil
}

func (s *GormStore) ListLineItems(ctx context.Context, statementID int64) ([]*models.BankLineItem, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Statement{}).Where("id = ?", statementID).Count(&count).Error; err != nil {
		return nil, storageError("list line items", err)
	}
	if count == 0 {
		return nil, errors.NotFound(errors.CodeStatementNotFound, statementID)
	}

	var items []*models.BankLineItem
	err := s.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("date ASC, id ASC").
		Find(&items).Error
	return items, storageError("list line items", err)
}

func (s *GormStore) UpdateLineItemReview(ctx context.Context, item *models.BankLineItem) error {
	if item.Status == models.MatchStatusMatched {
		return errors.ValidationError(errors.CodeInvalidValue, "status", item.Status, nil)
	}

	return storageError("update line item", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var m models.Match
		err := db.Where("bank_line_item_id = ?", item.ID).First(&m).Error
		if err == nil {
			return errors.AlreadyMatched(errors.CodeBankItemMatched, item.ID, m.TransactionID)
		}
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		item.UpdatedAt = time.Now().UTC()
		result := db.Model(&models.BankLineItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"status":                   item.Status,
				"suggested_transaction_id": item.SuggestedTransactionID,
				"confidence":               item.Confidence,
				"suggested_category":       item.SuggestedCategory,
				"suggested_type":           item.SuggestedType,
				"updated_at":               item.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.NotFound(errors.CodeBankItemNotFound, item.ID)
		}
		return nil
	}))
}

func (s *GormStore) CreateMatch(ctx context.Context, m *models.Match) error {
	return storageError("create match", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&models.RecordedTransaction{}).Where("id = ?", m.TransactionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.NotFound(errors.CodeTransactionNotFound, m.TransactionID)
		}
		return createMatchTx(db, m)
	}))
}

func (s *GormStore) CreateMatchedTransaction(ctx context.Context, tx *models.RecordedTransaction, m *models.Match) error {
	return storageError("create matched transaction", s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if _, err := lockFreeItem(db, m.BankLineItemID); err != nil {
			return err
		}
		if err := db.Create(tx).Error; err != nil {
			return err
		}
		m.TransactionID = tx.ID
		return createMatchTx(db, m)
	}))
}

// lockFreeItem loads a line item and verifies it has no active match
func lockFreeItem(db *gorm.DB, itemID int64) (*models.BankLineItem, error) {
	var item models.BankLineItem
	if err := db.First(&item, itemID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound(errors.CodeBankItemNotFound, itemID)
		}
		return nil, err
	}

	var existing models.Match
	err := db.Where("bank_line_item_id = ?", itemID).First(&existing).Error
	if err == nil {
		return nil, errors.AlreadyMatched(errors.CodeBankItemMatched, itemID, existing.TransactionID)
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return &item, nil
}

func createMatchTx(db *gorm.DB, m *models.Match) error {
	item, err := lockFreeItem(db, m.BankLineItemID)
	if err != nil {
		return err
	}

	var existing models.Match
	err = db.Where("transaction_id = ?", m.TransactionID).First(&existing).Error
	if err == nil {
		return errors.AlreadyMatched(errors.CodeTransactionMatched, existing.BankLineItemID, m.TransactionID)
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	m.StatementID = item.StatementID
	if err := db.Create(m).Error; err != nil {
		// a concurrent writer won the unique index
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.AlreadyMatched(errors.CodeTransactionMatched, m.BankLineItemID, m.TransactionID)
		}
		return err
	}

	return db.Model(&models.BankLineItem{}).
		Where("id = ?", m.BankLineItemID).
		Updates(map[string]interface{}{
			"status":                   models.MatchStatusMatched,
			"matched_transaction_id":   m.TransactionID,
			"confidence":               m.Confidence,
			"suggested_transaction_id": nil,
			"updated_at":               m.CreatedAt,
		}).Error
}

func (s *GormStore) DeleteMatch(ctx context.Context, bankItemID int64) (*models.Match, error) {
	var removed models.Match
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&models.BankLineItem{}).Where("id = ?", bankItemID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.NotFound(errors.CodeBankItemNotFound, bankItemID)
		}

		err := db.Where("bank_line_item_id = ?", bankItemID).First(&removed).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NoActiveMatch(bankItemID)
		}
		if err != nil {
			return err
		}
		if err := db.Delete(&removed).Error; err != nil {
			return err
		}

		return db.Model(&models.BankLineItem{}).
			Where("id = ?", bankItemID).
			Updates(map[string]interface{}{
				"status":                   models.MatchStatusUnmatched,
				"matched_transaction_id":   nil,
				"confidence":               nil,
				"suggested_transaction_id": nil,
				"updated_at":               time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, storageError("delete match", err)
	}
	return &removed, nil
}

func (s *GormStore) GetMatchByLineItem(ctx context.Context, bankItemID int64) (*models.Match, error) {
	if _, err := s.GetLineItem(ctx, bankItemID); err != nil {
		return nil, err
	}

	var m models.Match
	err := s.db.WithContext(ctx).Where("bank_line_item_id = ?", bankItemID).First(&m).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NoActiveMatch(bankItemID)
		}
		return nil, storageError("get match", err)
	}
	return &m, nil
}

func (s *GormStore) ListMatches(ctx context.Context, statementID int64) ([]*models.Match, error) {
	var result []*models.Match
	err := s.db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("id ASC").
		Find(&result).Error
	return result, storageError("list matches", err)
}

func (s *GormStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return storageError("append audit entry", s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLogEntry{})
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var result []*models.AuditLogEntry
	err := query.Order("timestamp DESC, id DESC").Find(&result).Error
	return result, storageError("query audit log", err)
}
