// Package transactions manages recorded transactions outside of
// reconciliation: manual entry, edits, deletion, bulk category changes and
// confirmation of extracted receipts. Every change is written to the audit log
// with before and after snapshots.
package transactions

import (
	"context"
	"strings"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Input carries the fields of a transaction to create. Currency defaults to
// USD; vendor and bank are optional.
type Input struct {
	Type        models.TransactionType `json:"type"`
	Amount      decimal.NullDecimal    `json:"amount"`
	Currency    string                 `json:"currency,omitempty"`
	Category    string                 `json:"category"`
	Description string                 `json:"description"`
	Date        string                 `json:"date"`
	Vendor      string                 `json:"vendor,omitempty"`
	Bank        string                 `json:"bank,omitempty"`
}

// Patch lists the fields to change. Nil fields are left as they are.
type Patch struct {
	Type        *models.TransactionType `json:"type,omitempty"`
	Amount      *decimal.Decimal        `json:"amount,omitempty"`
	Currency    *string                 `json:"currency,omitempty"`
	Category    *string                 `json:"category,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Date        *string                 `json:"date,omitempty"`
	Vendor      *string                 `json:"vendor,omitempty"`
	Bank        *string                 `json:"bank,omitempty"`
}

// BatchResult reports a bulk operation item by item
type BatchResult struct {
	Updated  int                           `json:"updated"`
	Created  []*models.RecordedTransaction `json:"created,omitempty"`
	Outcomes []errors.ItemOutcome          `json:"outcomes"`
}

// Service is the recorded transaction use-case layer
type Service struct {
	store    store.Store
	recorder *audit.Recorder
	logger   logger.Logger
}

// NewService creates a transaction service
func NewService(s store.Store, recorder *audit.Recorder, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		store:    s,
		recorder: recorder,
		logger:   log.WithComponent("transactions"),
	}
}

// Create validates in and records a new transaction
func (s *Service) Create(ctx context.Context, in Input) (*models.RecordedTransaction, error) {
	tx, err := in.build()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.recorder.Record(ctx, models.EntityTransaction, tx.ID, models.AuditActionCreate, nil, tx.Snapshot()); err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"transaction_id": tx.ID,
		"amount":         tx.Amount.String(),
		"category":       tx.Category,
	}).Info("Transaction created")
	return tx, nil
}

// Get returns one transaction
func (s *Service) Get(ctx context.Context, id int64) (*models.RecordedTransaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// List returns transactions matching filter ordered by date, then id
func (s *Service) List(ctx context.Context, filter store.TransactionFilter) ([]*models.RecordedTransaction, error) {
	return s.store.ListTransactions(ctx, filter)
}

// Update applies patch to a transaction. The audit entry records only the
// changed fields.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*models.RecordedTransaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	before := tx.Snapshot()

	if err := patch.apply(tx); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	oldValues, newValues := diff(before, tx.Snapshot())
	if len(newValues) == 0 {
		return tx, nil
	}
	if _, err := s.recorder.Record(ctx, models.EntityTransaction, tx.ID, models.AuditActionUpdate, oldValues, newValues); err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"transaction_id": tx.ID,
		"fields":         len(newValues),
	}).Info("Transaction updated")
	return tx, nil
}

// Delete removes a transaction. Transactions with an active match are
// refused with AlreadyMatched; unmatch first.
func (s *Service) Delete(ctx context.Context, id int64) error {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	if _, err := s.recorder.Record(ctx, models.EntityTransaction, id, models.AuditActionDelete, tx.Snapshot(), nil); err != nil {
		return err
	}

	s.logger.WithField("transaction_id", id).Info("Transaction deleted")
	return nil
}

// BatchUpdateCategory sets category on every listed transaction. Unknown ids
// are reported as NotFound outcomes; the others are still updated.
func (s *Service) BatchUpdateCategory(ctx context.Context, ids []int64, category string) (*BatchResult, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "category", category, nil)
	}

	result := &BatchResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(id, errors.Cancelled("batch category update", err)))
			continue
		}
		if err := s.updateCategory(ctx, id, category); err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(id, err))
			continue
		}
		result.Updated++
		result.Outcomes = append(result.Outcomes, errors.Succeeded(id))
	}

	if batchErr := errors.NewBatchError("batch category update", result.Outcomes); batchErr != nil {
		return result, batchErr
	}
	return result, nil
}

func (s *Service) updateCategory(ctx context.Context, id int64, category string) error {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if tx.Category == category {
		return nil
	}
	old := tx.Category
	tx.Category = category
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	_, err = s.recorder.Record(ctx, models.EntityTransaction, id, models.AuditActionUpdate,
		map[string]interface{}{"category": old},
		map[string]interface{}{"category": category})
	return err
}

// BatchConfirm records the receipts a reviewer accepted after extraction.
// Outcome ids are the zero-based positions of the inputs.
func (s *Service) BatchConfirm(ctx context.Context, inputs []Input) (*BatchResult, error) {
	result := &BatchResult{}
	for i, in := range inputs {
		pos := int64(i)
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(pos, errors.Cancelled("batch confirm", err)))
			continue
		}
		tx, err := s.Create(ctx, in)
		if err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(pos, err))
			continue
		}
		result.Created = append(result.Created, tx)
		result.Outcomes = append(result.Outcomes, errors.Succeeded(pos))
	}

	if batchErr := errors.NewBatchError("batch confirm", result.Outcomes); batchErr != nil {
		return result, batchErr
	}
	return result, nil
}

func (in Input) build() (*models.RecordedTransaction, error) {
	txType, err := models.ParseTransactionType(string(in.Type))
	if err != nil {
		if strings.TrimSpace(string(in.Type)) == "" {
			return nil, errors.ValidationError(errors.CodeMissingField, "type", in.Type, nil)
		}
		return nil, errors.ValidationError(errors.CodeInvalidValue, "type", in.Type, err)
	}
	if !in.Amount.Valid {
		return nil, errors.ValidationError(errors.CodeMissingField, "amount", nil, nil)
	}
	if in.Amount.Decimal.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", in.Amount.Decimal.String(), nil)
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "category", in.Category, nil)
	}
	date, err := models.ParseDate(in.Date)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, "date", in.Date, err)
	}

	currency := models.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = models.DefaultCurrency
	}

	return &models.RecordedTransaction{
		Type:        txType,
		Amount:      in.Amount.Decimal.Abs(),
		Currency:    currency,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Vendor:      strings.TrimSpace(in.Vendor),
		Bank:        strings.TrimSpace(in.Bank),
		Date:        date,
	}, nil
}

func (p Patch) apply(tx *models.RecordedTransaction) error {
	if p.Type != nil {
		txType, err := models.ParseTransactionType(string(*p.Type))
		if err != nil {
			return errors.ValidationError(errors.CodeInvalidValue, "type", *p.Type, err)
		}
		tx.Type = txType
	}
	if p.Amount != nil {
		if p.Amount.IsZero() {
			return errors.ValidationError(errors.CodeInvalidAmount, "amount", p.Amount.String(), nil)
		}
		tx.Amount = p.Amount.Abs()
	}
	if p.Currency != nil {
		currency := models.NormalizeCurrency(*p.Currency)
		if currency == "" {
			return errors.ValidationError(errors.CodeMissingField, "currency", *p.Currency, nil)
		}
		tx.Currency = currency
	}
	if p.Category != nil {
		category := strings.TrimSpace(*p.Category)
		if category == "" {
			return errors.ValidationError(errors.CodeMissingField, "category", *p.Category, nil)
		}
		tx.Category = category
	}
	if p.Description != nil {
		tx.Description = strings.TrimSpace(*p.Description)
	}
	if p.Date != nil {
		date, err := models.ParseDate(*p.Date)
		if err != nil {
			return errors.ValidationError(errors.CodeInvalidDate, "date", *p.Date, err)
		}
		tx.Date = date
	}
	if p.Vendor != nil {
		tx.Vendor = strings.TrimSpace(*p.Vendor)
	}
	if p.Bank != nil {
		tx.Bank = strings.TrimSpace(*p.Bank)
	}
	return nil
}

// diff keeps the keys whose values differ between two snapshots
func diff(before, after map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	oldValues := make(map[string]interface{})
	newValues := make(map[string]interface{})
	for key, value := range after {
		if before[key] != value {
			oldValues[key] = before[key]
			newValues[key] = value
		}
	}
	return oldValues, newValues
}
