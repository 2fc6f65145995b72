package matcher

import (
	"sort"
	"time"

	"reconciliation-engine/internal/models"
)

// TransactionIndex buckets the candidate pool by calendar date so that
// candidate generation only scores transactions inside the date window.
type TransactionIndex struct {
	// DateIndex maps date strings (YYYY-MM-DD) to transactions, each bucket ordered by id
	DateIndex map[string][]*models.RecordedTransaction

	// AllTransactions holds all indexed transactions ordered by id
	AllTransactions []*models.RecordedTransaction
}

// NewTransactionIndex creates a new transaction index from a slice of transactions
func NewTransactionIndex(transactions []*models.RecordedTransaction) *TransactionIndex {
	index := &TransactionIndex{
		DateIndex:       make(map[string][]*models.RecordedTransaction),
		AllTransactions: make([]*models.RecordedTransaction, 0, len(transactions)),
	}

	for _, tx := range transactions {
		if tx != nil {
			index.AllTransactions = append(index.AllTransactions, tx)
		}
	}
	sort.Slice(index.AllTransactions, func(i, j int) bool {
		return index.AllTransactions[i].ID < index.AllTransactions[j].ID
	})

	for _, tx := range index.AllTransactions {
		key := models.FormatDate(tx.Date)
		index.DateIndex[key] = append(index.DateIndex[key], tx)
	}
	return index
}

// GetByDate returns transactions recorded on the given calendar date
func (ti *TransactionIndex) GetByDate(date time.Time) []*models.RecordedTransaction {
	return ti.DateIndex[models.FormatDate(date)]
}

// GetWithinDays returns transactions at most days calendar days from date,
// ordered by id.
func (ti *TransactionIndex) GetWithinDays(date time.Time, days int) []*models.RecordedTransaction {
	if days < 0 {
		return nil
	}

	day := models.TruncateToDate(date)
	var result []*models.RecordedTransaction
	for offset := -days; offset <= days; offset++ {
		result = append(result, ti.DateIndex[models.FormatDate(day.AddDate(0, 0, offset))]...)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AddTransaction indexes one more transaction
func (ti *TransactionIndex) AddTransaction(tx *models.RecordedTransaction) {
	key := models.FormatDate(tx.Date)
	ti.DateIndex[key] = insertByID(ti.DateIndex[key], tx)
	ti.AllTransactions = insertByID(ti.AllTransactions, tx)
}

// RemoveTransaction drops a transaction that has been claimed
func (ti *TransactionIndex) RemoveTransaction(id int64) {
	for key, bucket := range ti.DateIndex {
		ti.DateIndex[key] = removeByID(bucket, id)
	}
	ti.AllTransactions = removeByID(ti.AllTransactions, id)
}

// Size returns the number of indexed transactions
func (ti *TransactionIndex) Size() int {
	return len(ti.AllTransactions)
}

func insertByID(list []*models.RecordedTransaction, tx *models.RecordedTransaction) []*models.RecordedTransaction {
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= tx.ID })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = tx
	return list
}

func removeByID(list []*models.RecordedTransaction, id int64) []*models.RecordedTransaction {
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= id })
	if i < len(list) && list[i].ID == id {
		return append(list[:i], list[i+1:]...)
	}
	return list
}
