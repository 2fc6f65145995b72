package reconciler

import (
	"context"
	"strings"

	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// ImportItem is the caller-edited content of one line item to import.
// Vendor falls back to the line item description; every other field is
// required.
type ImportItem struct {
	BankItemID  int64                  `json:"bank_item_id"`
	Category    string                 `json:"category"`
	Type        models.TransactionType `json:"type"`
	Vendor      string                 `json:"vendor,omitempty"`
	Description string                 `json:"description"`
	Date        string                 `json:"date"`
	Amount      decimal.NullDecimal    `json:"amount"`
	Currency    string                 `json:"currency"`
}

// ImportResult summarizes an import run. Outcomes holds one entry per
// requested item in request order.
type ImportResult struct {
	StatementID int64                `json:"statement_id"`
	Saved       int                  `json:"saved"`
	Reconciled  int                  `json:"reconciled"`
	Outcomes    []errors.ItemOutcome `json:"outcomes"`
}

type importOutcome int

const (
	outcomeSaved importOutcome = iota
	outcomeReconciled
)

// Import converts selected line items of a statement into recorded
// transactions. Items that already have an active match count as reconciled;
// items whose money movement is already recorded are linked to the existing
// transaction instead of creating a copy. Every item is processed on its own:
// a failing item never undoes earlier ones, and when any item fails the
// result is returned together with a BatchError.
func (s *Service) Import(ctx context.Context, statementID int64, items []ImportItem) (*ImportResult, error) {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{StatementID: statementID}
	err = s.ledger.Session(ctx, statementID, func(ctx context.Context) error {
		return s.importLocked(ctx, statement, items, result)
	})
	if err != nil {
		return result, err
	}
	if batchErr := errors.NewBatchError("import", result.Outcomes); batchErr != nil {
		return result, batchErr
	}
	return result, nil
}

func (s *Service) importLocked(ctx context.Context, statement *models.Statement, items []ImportItem, result *ImportResult) error {
	lineItems, err := s.store.ListLineItems(ctx, statement.ID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*models.BankLineItem, len(lineItems))
	for _, item := range lineItems {
		byID[item.ID] = item
	}

	pool, err := s.store.ListTransactions(ctx, store.TransactionFilter{UnmatchedOnly: true})
	if err != nil {
		return err
	}
	index := matcher.NewTransactionIndex(pool)

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "import",
		Total:       int64(len(items)),
		LogInterval: s.config.ProgressInterval,
		Fields:      logger.Fields{"statement_id": statement.ID},
		Logger:      s.logger,
	})

	for i, req := range items {
		if err := ctx.Err(); err != nil {
			cancelled := errors.Cancelled("import", err)
			for _, rest := range items[i:] {
				result.Outcomes = append(result.Outcomes, errors.Failed(rest.BankItemID, cancelled))
			}
			tracker.CompleteWithError(err)
			return nil
		}

		outcome, warning, err := s.importItem(ctx, statement, byID[req.BankItemID], req, index)
		if err != nil {
			result.Outcomes = append(result.Outcomes, errors.Failed(req.BankItemID, err))
			tracker.Fail()
			continue
		}

		switch outcome {
		case outcomeSaved:
			result.Saved++
		case outcomeReconciled:
			result.Reconciled++
		}
		result.Outcomes = append(result.Outcomes, errors.SucceededWithWarning(req.BankItemID, warning))
		tracker.Increment()
	}

	stats := tracker.Complete()
	s.logger.WithFields(logger.Fields{
		"statement_id": statement.ID,
		"saved":        result.Saved,
		"reconciled":   result.Reconciled,
		"failed":       stats.Failed,
	}).Info("Import completed")
	return nil
}

func (s *Service) importItem(ctx context.Context, statement *models.Statement, item *models.BankLineItem, req ImportItem, index *matcher.TransactionIndex) (importOutcome, string, error) {
	if item == nil {
		return 0, "", errors.NotFound(errors.CodeBankItemNotFound, req.BankItemID)
	}

	// re-read: an earlier item of this request may have changed it
	current, err := s.store.GetLineItem(ctx, item.ID)
	if err != nil {
		return 0, "", err
	}
	if current.IsMatched() {
		return outcomeReconciled, "", nil
	}

	tx, err := buildTransaction(req, current, statement)
	if err != nil {
		return 0, "", err
	}

	probe := &models.BankLineItem{
		ID:        current.ID,
		Date:      tx.Date,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Reference: current.Reference,
	}
	if existing, reason := s.duplicates.FindDuplicate(probe, statement.BankName, index); existing != nil {
		confidence := 1.0
		m := &models.Match{
			BankLineItemID: current.ID,
			TransactionID:  existing.ID,
			Confidence:     &confidence,
			Method:         models.MatchMethodDuplicateImport,
		}
		if err := s.ledger.RecordMatch(ctx, m, current.Snapshot()); err != nil {
			return 0, "", err
		}
		index.RemoveTransaction(existing.ID)

		s.logger.WithFields(logger.Fields{
			"bank_item_id":   current.ID,
			"transaction_id": existing.ID,
			"reason":         reason,
		}).Info("Linked imported item to existing transaction")
		return outcomeReconciled, "", nil
	}

	confidence := 1.0
	m := &models.Match{
		BankLineItemID: current.ID,
		Confidence:     &confidence,
		Method:         models.MatchMethodImport,
	}
	if err := s.store.CreateMatchedTransaction(ctx, tx, m); err != nil {
		return 0, "", err
	}

	// the transaction and its match are committed from here on
	if err := s.recordImport(ctx, tx, current, confidence); err != nil {
		s.logger.WithError(err).WithFields(logger.Fields{
			"bank_item_id":   current.ID,
			"transaction_id": tx.ID,
		}).Warn("Imported item saved but its audit entries were not written")
		return outcomeSaved, "audit entries not written: " + err.Error(), nil
	}
	return outcomeSaved, "", nil
}

func (s *Service) recordImport(ctx context.Context, tx *models.RecordedTransaction, item *models.BankLineItem, confidence float64) error {
	snapshot := tx.Snapshot()
	snapshot["source"] = "statement_import"
	if _, err := s.recorder.Record(ctx, models.EntityTransaction, tx.ID, models.AuditActionCreate, nil, snapshot); err != nil {
		return err
	}
	_, err := s.recorder.Record(ctx, models.EntityReconciliation, item.ID, models.AuditActionMatch,
		item.Snapshot(), map[string]interface{}{
			"bank_item_id":   item.ID,
			"transaction_id": tx.ID,
			"confidence":     confidence,
			"method":         string(models.MatchMethodImport),
		})
	return err
}

// buildTransaction validates the request fields and builds the transaction
// to create for item.
func buildTransaction(req ImportItem, item *models.BankLineItem, statement *models.Statement) (*models.RecordedTransaction, error) {
	if strings.TrimSpace(req.Category) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "category", req.Category, nil)
	}
	if !req.Type.IsValid() {
		if req.Type == "" {
			return nil, errors.ValidationError(errors.CodeMissingField, "type", req.Type, nil)
		}
		return nil, errors.ValidationError(errors.CodeInvalidValue, "type", req.Type, nil)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "description", req.Description, nil)
	}
	if strings.TrimSpace(req.Date) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "date", req.Date, nil)
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, "date", req.Date, err)
	}
	if !req.Amount.Valid {
		return nil, errors.ValidationError(errors.CodeMissingField, "amount", nil, nil)
	}
	if req.Amount.Decimal.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", req.Amount.Decimal.String(), nil)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "currency", req.Currency, nil)
	}

	vendor := strings.TrimSpace(req.Vendor)
	if vendor == "" {
		vendor = item.Description
	}

	return &models.RecordedTransaction{
		Type:        req.Type,
		Amount:      req.Amount.Decimal.Abs(),
		Currency:    models.NormalizeCurrency(req.Currency),
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Vendor:      vendor,
		Bank:        statement.BankName,
		Date:        date,
	}, nil
}
