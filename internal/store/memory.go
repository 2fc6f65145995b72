package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"
)

// MemoryStore keeps everything in process memory behind a single mutex.
// Values handed in and out are copies.
type MemoryStore struct {
	mu sync.RWMutex

	transactions map[int64]*models.RecordedTransaction
	statements   map[int64]*models.Statement
	items        map[int64]*models.BankLineItem
	matchByItem  map[int64]*models.Match
	itemByTx     map[int64]int64
	audit        []*models.AuditLogEntry

	nextTxID        int64
	nextStatementID int64
	nextItemID      int64
	nextMatchID     int64
	nextAuditID     int64

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[int64]*models.RecordedTransaction),
		statements:   make(map[int64]*models.Statement),
		items:        make(map[int64]*models.BankLineItem),
		matchByItem:  make(map[int64]*models.Match),
		itemByTx:     make(map[int64]int64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateTransaction(ctx context.Context, tx *models.RecordedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertTransactionLocked(tx)
	return nil
}

func (s *MemoryStore) insertTransactionLocked(tx *models.RecordedTransaction) {
	s.nextTxID++
	now := s.now()
	tx.ID = s.nextTxID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	cp := *tx
	s.transactions[tx.ID] = &cp
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id int64) (*models.RecordedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeTransactionNotFound, id)
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, tx *models.RecordedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactions[tx.ID]
	if !ok {
		return errors.NotFound(errors.CodeTransactionNotFound, tx.ID)
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = s.now()
	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTransaction(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return errors.NotFound(errors.CodeTransactionNotFound, id)
	}
	if itemID, matched := s.itemByTx[id]; matched {
		return errors.AlreadyMatched(errors.CodeTransactionMatched, itemID, id)
	}
	delete(s.transactions, id)
	return nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.RecordedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.RecordedTransaction
	for _, tx := range s.transactions {
		if !matchesFilter(tx, filter) {
			continue
		}
		if filter.UnmatchedOnly {
			if _, matched := s.itemByTx[tx.ID]; matched {
				continue
			}
		}
		cp := *tx
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, filter.Offset, filter.Limit), nil
}

func matchesFilter(tx *models.RecordedTransaction, filter TransactionFilter) bool {
	if filter.Type != "" && tx.Type != filter.Type {
		return false
	}
	if filter.Category != "" && tx.Category != filter.Category {
		return false
	}
	if filter.From != nil && tx.Date.Before(*filter.From) {
		return false
	}
	if filter.To != nil && tx.Date.After(*filter.To) {
		return false
	}
	return true
}

func paginate[T any](list []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return nil
		}
		list = list[offset:]
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (s *MemoryStore) CreateStatement(ctx context.Context, st *models.Statement, items []*models.BankLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStatementID++
	now := s.now()
	st.ID = s.nextStatementID
	st.CreatedAt = now
	cp := *st
	s.statements[st.ID] = &cp

	for i, item := range items {
		s.nextItemID++
		item.ID = s.nextItemID
		item.StatementID = st.ID
		item.Position = i
		item.Status = models.MatchStatusUnmatched
		item.UpdatedAt = now
		itemCopy := *item
		s.items[item.ID] = &itemCopy
	}
	return nil
}

func (s *MemoryStore) GetStatement(ctx context.Context, id int64) (*models.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeStatementNotFound, id)
	}
	return s.withCountsLocked(st), nil
}

func (s *MemoryStore) ListStatements(ctx context.Context) ([]*models.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Statement, 0, len(s.statements))
	for _, st := range s.statements {
		result = append(result, s.withCountsLocked(st))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (s *MemoryStore) withCountsLocked(st *models.Statement) *models.Statement {
	cp := *st
	status := models.NewReconciliationStatus(st.ID, s.itemsOfLocked(st.ID))
	applyCounts(&cp, status)
	return &cp
}

func applyCounts(st *models.Statement, status models.ReconciliationStatus) {
	st.TotalItems = status.Total
	st.MatchedItems = status.Matched
	st.Status = status.Status
}

func (s *MemoryStore) itemsOfLocked(statementID int64) []*models.BankLineItem {
	var result []*models.BankLineItem
	for _, item := range s.items {
		if item.StatementID == statementID {
			result = append(result, item)
		}
	}
	return result
}

func (s *MemoryStore) DeleteStatement(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statements[id]; !ok {
		return errors.NotFound(errors.CodeStatementNotFound, id)
	}
	for _, item := range s.itemsOfLocked(id) {
		if m, ok := s.matchByItem[item.ID]; ok {
			delete(s.itemByTx, m.TransactionID)
			delete(s.matchByItem, item.ID)
		}
		delete(s.items, item.ID)
	}
	delete(s.statements, id)
	return nil
}

func (s *MemoryStore) GetLineItem(ctx context.Context, id int64) (*models.BankLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeBankItemNotFound, id)
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ListLineItems(ctx context.Context, statementID int64) ([]*models.BankLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.statements[statementID]; !ok {
		return nil, errors.NotFound(errors.CodeStatementNotFound, statementID)
	}

	var result []*models.BankLineItem
	for _, item := range s.itemsOfLocked(statementID) {
		cp := *item
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) UpdateLineItemReview(ctx context.Context, item *models.BankLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return errors.NotFound(errors.CodeBankItemNotFound, item.ID)
	}
	if m, matched := s.matchByItem[item.ID]; matched {
		return errors.AlreadyMatched(errors.CodeBankItemMatched, item.ID, m.TransactionID)
	}
	if item.Status == models.MatchStatusMatched {
		return errors.ValidationError(errors.CodeInvalidValue, "status", item.Status, nil)
	}

	existing.Status = item.Status
	existing.SuggestedTransactionID = copyInt64(item.SuggestedTransactionID)
	existing.Confidence = copyFloat(item.Confidence)
	existing.SuggestedCategory = item.SuggestedCategory
	existing.SuggestedType = item.SuggestedType
	existing.UpdatedAt = s.now()
	item.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryStore) CreateMatch(ctx context.Context, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[m.TransactionID]; !ok {
		return errors.NotFound(errors.CodeTransactionNotFound, m.TransactionID)
	}
	return s.createMatchLocked(m)
}

func (s *MemoryStore) CreateMatchedTransaction(ctx context.Context, tx *models.RecordedTransaction, m *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkItemFreeLocked(m.BankLineItemID); err != nil {
		return err
	}
	s.insertTransactionLocked(tx)
	m.TransactionID = tx.ID
	return s.createMatchLocked(m)
}

func (s *MemoryStore) checkItemFreeLocked(itemID int64) error {
	if _, ok := s.items[itemID]; !ok {
		return errors.NotFound(errors.CodeBankItemNotFound, itemID)
	}
	if existing, ok := s.matchByItem[itemID]; ok {
		return errors.AlreadyMatched(errors.CodeBankItemMatched, itemID, existing.TransactionID)
	}
	return nil
}

func (s *MemoryStore) createMatchLocked(m *models.Match) error {
	if err := s.checkItemFreeLocked(m.BankLineItemID); err != nil {
		return err
	}
	if itemID, ok := s.itemByTx[m.TransactionID]; ok {
		return errors.AlreadyMatched(errors.CodeTransactionMatched, itemID, m.TransactionID)
	}

	item := s.items[m.BankLineItemID]
	s.nextMatchID++
	m.ID = s.nextMatchID
	m.StatementID = item.StatementID
	m.CreatedAt = s.now()
	cp := *m
	cp.Confidence = copyFloat(m.Confidence)
	s.matchByItem[m.BankLineItemID] = &cp
	s.itemByTx[m.TransactionID] = m.BankLineItemID

	txID := m.TransactionID
	item.Status = models.MatchStatusMatched
	item.MatchedTransactionID = &txID
	item.Confidence = copyFloat(m.Confidence)
	item.SuggestedTransactionID = nil
	item.UpdatedAt = m.CreatedAt
	return nil
}

func (s *MemoryStore) DeleteMatch(ctx context.Context, bankItemID int64) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[bankItemID]
	if !ok {
		return nil, errors.NotFound(errors.CodeBankItemNotFound, bankItemID)
	}
	m, ok := s.matchByItem[bankItemID]
	if !ok {
		return nil, errors.NoActiveMatch(bankItemID)
	}

	delete(s.matchByItem, bankItemID)
	delete(s.itemByTx, m.TransactionID)

	item.Status = models.MatchStatusUnmatched
	item.MatchedTransactionID = nil
	item.Confidence = nil
	item.SuggestedTransactionID = nil
	item.UpdatedAt = s.now()

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMatchByLineItem(ctx context.Context, bankItemID int64) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[bankItemID]; !ok {
		return nil, errors.NotFound(errors.CodeBankItemNotFound, bankItemID)
	}
	m, ok := s.matchByItem[bankItemID]
	if !ok {
		return nil, errors.NoActiveMatch(bankItemID)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMatches(ctx context.Context, statementID int64) ([]*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Match
	for _, m := range s.matchByItem {
		if m.StatementID == statementID {
			cp := *m
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *MemoryStore) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AuditLogEntry
	for _, entry := range s.audit {
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != nil && entry.EntityID != *filter.EntityID {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})
	return paginate(result, 0, filter.Limit), nil
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
