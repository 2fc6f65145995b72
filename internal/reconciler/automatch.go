package reconciler

import (
	"context"

	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// AutoMatchResult summarizes one auto-match pass
type AutoMatchResult struct {
	StatementID int64 `json:"statement_id"`
	// Matched counts matches created by this pass
	Matched       int `json:"matched"`
	Discrepancies int `json:"discrepancies"`
	Unmatched     int `json:"unmatched"`
	Processed     int `json:"processed"`
}

// AutoMatch plans and commits an assignment for every line item of the
// statement without an active match. Already matched items are never
// re-scored, so a second run without intervening edits matches nothing.
//
// On cancellation the result reflects the items processed so far and the
// error is Cancelled.
func (s *Service) AutoMatch(ctx context.Context, statementID int64) (*AutoMatchResult, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}

	result := &AutoMatchResult{StatementID: statementID}
	err := s.ledger.Session(ctx, statementID, func(ctx context.Context) error {
		return s.autoMatchLocked(ctx, statementID, result)
	})
	return result, err
}

func (s *Service) autoMatchLocked(ctx context.Context, statementID int64, result *AutoMatchResult) error {
	items, err := s.store.ListLineItems(ctx, statementID)
	if err != nil {
		return err
	}

	var open []*models.BankLineItem
	for _, item := range items {
		if !item.IsMatched() {
			open = append(open, item)
		}
	}
	if len(open) == 0 {
		return nil
	}

	pool, err := s.store.ListTransactions(ctx, store.TransactionFilter{UnmatchedOnly: true})
	if err != nil {
		return err
	}

	plan := s.engine.Plan(open, pool)
	log := s.logger.WithField("statement_id", statementID)

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "auto_match",
		Total:       int64(len(plan.Decisions)),
		LogInterval: s.config.ProgressInterval,
		Fields:      logger.Fields{"statement_id": statementID},
		Logger:      s.logger,
	})

	for _, decision := range plan.Decisions {
		if err := ctx.Err(); err != nil {
			tracker.CompleteWithError(err)
			return errors.Cancelled("auto-match", err)
		}

		if err := s.commitDecision(ctx, decision, result); err != nil {
			tracker.Fail()
			tracker.CompleteWithError(err)
			return err
		}
		result.Processed++
		tracker.Increment()
	}

	tracker.Complete()
	log.WithFields(logger.Fields{
		"matched":       result.Matched,
		"discrepancies": result.Discrepancies,
		"unmatched":     result.Unmatched,
	}).Info("Auto-match completed")
	return nil
}

// commitDecision persists one plan decision. A transaction claimed by
// another statement or deleted since the snapshot downgrades the item to
// unmatched.
func (s *Service) commitDecision(ctx context.Context, decision matcher.Decision, result *AutoMatchResult) error {
	item := decision.Item
	kind := decision.Kind
	if kind == matcher.DecisionConfirm && !s.config.AutoCommit {
		kind = matcher.DecisionSuggest
	}

	if kind == matcher.DecisionConfirm {
		confidence := decision.Candidate.Score
		m := &models.Match{
			BankLineItemID: item.ID,
			TransactionID:  decision.Candidate.TransactionID,
			Confidence:     &confidence,
			Method:         models.MatchMethodAuto,
		}
		err := s.ledger.RecordMatch(ctx, m, item.Snapshot())
		if err == nil {
			result.Matched++
			return nil
		}
		if !lostSinceSnapshot(err) {
			return err
		}

		s.logger.WithError(err).WithFields(logger.Fields{
			"bank_item_id":   item.ID,
			"transaction_id": m.TransactionID,
		}).Warn("Transaction claimed or deleted concurrently, leaving item unmatched")
		kind = matcher.DecisionNone
	}

	desired := *item
	switch kind {
	case matcher.DecisionSuggest:
		txID := decision.Candidate.TransactionID
		confidence := decision.Candidate.Score
		desired.Status = models.MatchStatusDiscrepancy
		desired.SuggestedTransactionID = &txID
		desired.Confidence = &confidence
		result.Discrepancies++
	default:
		desired.Status = models.MatchStatusUnmatched
		desired.SuggestedTransactionID = nil
		desired.Confidence = nil
		result.Unmatched++
	}

	if desired.SuggestedCategory == "" && s.classifier != nil {
		suggestion := s.classifier.Classify(item.Description, item.Direction)
		desired.SuggestedCategory = suggestion.Category
		desired.SuggestedType = suggestion.Type
	}

	if !reviewChanged(item, &desired) {
		return nil
	}
	if err := s.store.UpdateLineItemReview(ctx, &desired); err != nil {
		return err
	}
	_, err := s.recorder.Record(ctx, models.EntityBankLineItem, item.ID, models.AuditActionUpdate,
		item.Snapshot(), desired.Snapshot())
	return err
}

func reviewChanged(before, after *models.BankLineItem) bool {
	return before.Status != after.Status ||
		!equalInt64(before.SuggestedTransactionID, after.SuggestedTransactionID) ||
		!equalFloat(before.Confidence, after.Confidence) ||
		before.SuggestedCategory != after.SuggestedCategory ||
		before.SuggestedType != after.SuggestedType
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// lostSinceSnapshot reports whether the planned transaction is no longer
// available to this pass
func lostSinceSnapshot(err error) bool {
	if errors.IsKind(err, errors.KindAlreadyMatched) {
		return true
	}
	reconcilerErr, ok := errors.AsReconcilerError(err)
	return ok && reconcilerErr.Code == errors.CodeTransactionNotFound
}
