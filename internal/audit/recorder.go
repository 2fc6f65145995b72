// Package audit records every state change of the engine in an append-only
// log and optionally fans entries out to event publishers.
package audit

import (
	"context"
	"time"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"
)

const (
	// DefaultQueryLimit applies when a query names no limit
	DefaultQueryLimit = 100
	// MaxQueryLimit caps any requested limit
	MaxQueryLimit = 1000
)

// Publisher receives every appended entry. Publish failures never fail the
// recorded operation.
type Publisher interface {
	Publish(ctx context.Context, entry *models.AuditLogEntry) error
}

// Recorder appends audit entries. It never updates or deletes an entry.
type Recorder struct {
	store      store.AuditStore
	publishers []Publisher
	logger     logger.Logger
	now        func() time.Time
}

// NewRecorder creates a recorder writing to s
func NewRecorder(s store.AuditStore, log logger.Logger, publishers ...Publisher) *Recorder {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Recorder{
		store:      s,
		publishers: publishers,
		logger:     log.WithComponent("audit"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one entry built from its parts
func (r *Recorder) Record(ctx context.Context, entityType models.EntityType, entityID int64, action models.AuditAction, oldValues, newValues map[string]interface{}) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := r.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Append validates and stores entry, stamping the timestamp when unset
func (r *Recorder) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := entry.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, "audit_entry", entry.Action, err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}

	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return err
	}

	r.logger.WithFields(logger.Fields{
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"action":      entry.Action,
	}).Debug("Audit entry recorded")

	for _, p := range r.publishers {
		if err := p.Publish(ctx, entry); err != nil {
			r.logger.WithError(err).WithField("audit_id", entry.ID).Warn("Failed to publish audit entry")
		}
	}
	return nil
}

// Query returns entries newest first. The limit defaults to DefaultQueryLimit
// and is clamped to MaxQueryLimit.
func (r *Recorder) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	filter.Limit = ClampLimit(filter.Limit)
	return r.store.QueryAudit(ctx, filter)
}

// ClampLimit applies the default and maximum query limits
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueryLimit
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return limit
	}
}
