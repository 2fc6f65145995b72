// Package statements ingests parsed bank statements and manages their
// lifecycle. Line items receive a category suggestion at ingestion; deleting a
// statement removes its line items and their matches but keeps every recorded
// transaction.
package statements

import (
	"context"
	"fmt"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/classifier"
	"reconciliation-engine/internal/ledger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// DeleteResult reports a batch delete
type DeleteResult struct {
	Deleted  int                  `json:"deleted"`
	Outcomes []errors.ItemOutcome `json:"outcomes"`
}

// Service is the statement use-case layer
type Service struct {
	store      store.Store
	ledger     *ledger.Ledger
	classifier classifier.Classifier
	recorder   *audit.Recorder
	logger     logger.Logger
}

// NewService creates a statement service. A nil classifier leaves line items
// without suggestions.
func NewService(s store.Store, l *ledger.Ledger, c classifier.Classifier, recorder *audit.Recorder, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{
		store:      s,
		ledger:     l,
		classifier: c,
		recorder:   recorder,
		logger:     log.WithComponent("statements"),
	}
}

// Ingest stores a parsed statement and its line items in file order. Every
// item must validate; one invalid item rejects the whole statement.
func (s *Service) Ingest(ctx context.Context, st *models.Statement, items []*models.BankLineItem) (*models.Statement, error) {
	if err := st.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "statement", st.BankName, err)
	}
	if len(items) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "items", 0, nil).
			WithSuggestion("Check that the file contains date, description and amount columns")
	}

	st.Currency = models.NormalizeCurrency(st.Currency)
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidValue, fmt.Sprintf("items[%d]", i), item.Description, err)
		}
		item.Currency = models.NormalizeCurrency(item.Currency)
		if item.Currency == "" {
			item.Currency = st.Currency
		}
		if s.classifier != nil && item.SuggestedCategory == "" {
			suggestion := s.classifier.Classify(item.Description, item.Direction)
			item.SuggestedCategory = suggestion.Category
			item.SuggestedType = suggestion.Type
		}
	}

	if err := s.store.CreateStatement(ctx, st, items); err != nil {
		return nil, err
	}

	snapshot := st.Snapshot()
	snapshot["item_count"] = len(items)
	if _, err := s.recorder.Record(ctx, models.EntityStatement, st.ID, models.AuditActionCreate, nil, snapshot); err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"statement_id": st.ID,
		"bank_name":    st.BankName,
		"items":        len(items),
	}).Info("Statement ingested")
	return s.store.GetStatement(ctx, st.ID)
}

// Get returns a statement with its derived counts
func (s *Service) Get(ctx context.Context, id int64) (*models.Statement, error) {
	return s.store.GetStatement(ctx, id)
}

// List returns every statement, newest first
func (s *Service) List(ctx context.Context) ([]*models.Statement, error) {
	return s.store.ListStatements(ctx)
}

// Items returns the line items of a statement ordered by date, then id
func (s *Service) Items(ctx context.Context, statementID int64) ([]*models.BankLineItem, error) {
	return s.store.ListLineItems(ctx, statementID)
}

// Delete removes a statement inside its ledger session, so it never races an
// auto-match or import of the same statement.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.ledger.Session(ctx, id, func(ctx context.Context) error {
		st, err := s.store.GetStatement(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.DeleteStatement(ctx, id); err != nil {
			return err
		}

		snapshot := st.Snapshot()
		snapshot["item_count"] = st.TotalItems
		snapshot["matched_items"] = st.MatchedItems
		if _, err := s.recorder.Record(ctx, models.EntityStatement, id, models.AuditActionDelete, snapshot, nil); err != nil {
			return err
		}

		s.logger.WithFields(logger.Fields{
			"statement_id":  id,
			"items":         st.TotalItems,
			"matched_items": st.MatchedItems,
		}).Info("Statement deleted")
		return nil
	})
}

// BatchDelete deletes each listed statement independently
func (s *Service) BatchDelete(ctx context.Context, ids []int64) (*DeleteResult, error) {
	result := &DeleteResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(id, errors.Cancelled("batch delete", err)))
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(id, err))
			continue
		}
		result.Deleted++
		result.Outcomes = append(result.Outcomes, errors.Succeeded(id))
	}

	if batchErr := errors.NewBatchError("batch delete", result.Outcomes); batchErr != nil {
		return result, batchErr
	}
	return result, nil
}
