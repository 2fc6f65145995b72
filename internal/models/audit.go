package models

import (
	"fmt"
	"time"
)

// AuditAction is the kind of state change recorded in the audit log
type AuditAction string

const (
	AuditActionCreate  AuditAction = "create"
	AuditActionUpdate  AuditAction = "update"
	AuditActionDelete  AuditAction = "delete"
	AuditActionMatch   AuditAction = "match"
	AuditActionUnmatch AuditAction = "unmatch"
)

// IsValid checks if the action is one of the recorded actions
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionDelete, AuditActionMatch, AuditActionUnmatch:
		return true
	}
	return false
}

// EntityType names the kind of entity an audit entry refers to
type EntityType string

const (
	EntityTransaction    EntityType = "transaction"
	EntityStatement      EntityType = "statement"
	EntityBankLineItem   EntityType = "bank_line_item"
	EntityReconciliation EntityType = "reconciliation"
)

// AuditLogEntry is an immutable record of one state change
type AuditLogEntry struct {
	ID         int64                  `json:"id" gorm:"primaryKey;autoIncrement"`
	EntityType EntityType             `json:"entity_type" gorm:"size:32;not null;index:idx_audit_entity"`
	EntityID   int64                  `json:"entity_id" gorm:"not null;index:idx_audit_entity"`
	Action     AuditAction            `json:"action" gorm:"size:16;not null"`
	OldValues  map[string]interface{} `json:"old_values,omitempty" gorm:"serializer:json"`
	NewValues  map[string]interface{} `json:"new_values,omitempty" gorm:"serializer:json"`
	Timestamp  time.Time              `json:"timestamp" gorm:"index;not null"`
}

// TableName pins the gorm table name
func (AuditLogEntry) TableName() string { return "audit_logs" }

// Validate performs basic validation on the AuditLogEntry
func (e *AuditLogEntry) Validate() error {
	if e.EntityType == "" {
		return fmt.Errorf("entity type cannot be empty")
	}
	if !e.Action.IsValid() {
		return fmt.Errorf("invalid audit action: %q", e.Action)
	}
	return nil
}

// AuditFilter narrows an audit log query. Zero values match everything.
type AuditFilter struct {
	EntityType EntityType `json:"entity_type,omitempty"`
	EntityID   *int64     `json:"entity_id,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}
