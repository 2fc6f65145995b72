// Package ledger owns the authoritative pairing between bank line items and
// recorded transactions. Every mutation runs inside a statement session that
// holds the statement's lock, so mutations of one statement are serialized
// while different statements proceed in parallel.
package ledger

import (
	"context"
	stderrors "errors"
	"time"

	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/locking"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

// Ledger performs manual match, unmatch and status queries
type Ledger struct {
	store    store.Store
	locker   locking.Locker
	recorder *audit.Recorder
	logger   logger.Logger
}

// New creates a ledger
func New(s store.Store, locker locking.Locker, recorder *audit.Recorder, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Ledger{
		store:    s,
		locker:   locker,
		recorder: recorder,
		logger:   log.WithComponent("ledger"),
	}
}

// Session runs fn while holding the lock of statementID. A lock still held
// elsewhere after the wait timeout yields ConcurrentModification.
func (l *Ledger) Session(ctx context.Context, statementID int64, fn func(ctx context.Context) error) error {
	lock, err := l.locker.Acquire(ctx, locking.StatementKey(statementID))
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return errors.Cancelled("statement session", err)
		}
		if stderrors.Is(err, locking.ErrNotAcquired) {
			return errors.ConcurrentModification(statementID, err)
		}
		return errors.ServiceUnavailable("statement lock", err)
	}

	defer func() {
		// release even when the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			l.logger.WithError(err).WithField("statement_id", statementID).Warn("Failed to release statement lock")
		}
	}()

	return fn(ctx)
}

// ManualMatch pairs a bank line item with a recorded transaction chosen by the
// user. The match carries no confidence.
func (l *Ledger) ManualMatch(ctx context.Context, bankItemID, transactionID int64) (*models.Match, error) {
	item, err := l.store.GetLineItem(ctx, bankItemID)
	if err != nil {
		return nil, err
	}

	var match *models.Match
	err = l.Session(ctx, item.StatementID, func(ctx context.Context) error {
		// re-read under the lock
		current, err := l.store.GetLineItem(ctx, bankItemID)
		if err != nil {
			return err
		}
		if current.StatementID != item.StatementID {
			return errors.ValidationError(errors.CodeItemMismatch, "bank_item_id", bankItemID, nil)
		}
		if current.IsMatched() {
			return errors.AlreadyMatched(errors.CodeBankItemMatched, bankItemID, *current.MatchedTransactionID)
		}
		if _, err := l.store.GetTransaction(ctx, transactionID); err != nil {
			return err
		}

		m := &models.Match{
			BankLineItemID: bankItemID,
			TransactionID:  transactionID,
			Method:         models.MatchMethodManual,
		}
		if err := l.RecordMatch(ctx, m, current.Snapshot()); err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// RecordMatch creates m and audits it. The caller must hold the session of
// the item's statement.
func (l *Ledger) RecordMatch(ctx context.Context, m *models.Match, before map[string]interface{}) error {
	if err := l.store.CreateMatch(ctx, m); err != nil {
		return err
	}

	l.logger.WithFields(logger.Fields{
		"statement_id":   m.StatementID,
		"bank_item_id":   m.BankLineItemID,
		"transaction_id": m.TransactionID,
		"method":         m.Method,
	}).Info("Match created")

	_, err := l.recorder.Record(ctx, models.EntityReconciliation, m.BankLineItemID, models.AuditActionMatch,
		before, MatchSnapshot(m))
	return err
}

// Unmatch destroys the active match of a bank line item
func (l *Ledger) Unmatch(ctx context.Context, bankItemID int64) error {
	item, err := l.store.GetLineItem(ctx, bankItemID)
	if err != nil {
		return err
	}

	return l.Session(ctx, item.StatementID, func(ctx context.Context) error {
		removed, err := l.store.DeleteMatch(ctx, bankItemID)
		if err != nil {
			return err
		}

		l.logger.WithFields(logger.Fields{
			"statement_id":   removed.StatementID,
			"bank_item_id":   bankItemID,
			"transaction_id": removed.TransactionID,
		}).Info("Match removed")

		_, err = l.recorder.Record(ctx, models.EntityReconciliation, bankItemID, models.AuditActionUnmatch,
			MatchSnapshot(removed), map[string]interface{}{"status": string(models.MatchStatusUnmatched)})
		return err
	})
}

// Status aggregates the current line item statuses of a statement
func (l *Ledger) Status(ctx context.Context, statementID int64) (models.ReconciliationStatus, error) {
	items, err := l.store.ListLineItems(ctx, statementID)
	if err != nil {
		return models.ReconciliationStatus{}, err
	}
	return models.NewReconciliationStatus(statementID, items), nil
}

// MatchSnapshot is the audited representation of a match
func MatchSnapshot(m *models.Match) map[string]interface{} {
	snap := map[string]interface{}{
		"bank_item_id":   m.BankLineItemID,
		"transaction_id": m.TransactionID,
		"method":         string(m.Method),
	}
	if m.Confidence != nil {
		snap["confidence"] = *m.Confidence
	}
	return snap
}
