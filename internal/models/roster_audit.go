package models

import "time"

// AuditAction names a state-changing roster action.
type AuditAction string

const (
	AuditActionCreate       AuditAction = "create"
	AuditActionLock         AuditAction = "lock"
	AuditActionUnlock       AuditAction = "unlock"
	AuditActionExport       AuditAction = "export"
	AuditActionVerify       AuditAction = "verify"
	AuditActionScheduleRun  AuditAction = "schedule_run"
	AuditActionItemAdd      AuditAction = "item_add"
	AuditActionItemRemove   AuditAction = "item_remove"
	AuditActionStatusChange AuditAction = "status_change"
	AuditActionBankReview   AuditAction = "bank_review"
)

// AuditLevel grades audit entries.
type AuditLevel string

const (
	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelError    AuditLevel = "error"
	AuditLevelCritical AuditLevel = "critical"
)

// RosterAuditLog is an append-only record of a roster action.
type RosterAuditLog struct {
	ID         string      `db:"id" json:"id"`
	RosterID   string      `db:"roster_id" json:"roster_id"`
	Action     AuditAction `db:"action" json:"action"`
	Level      AuditLevel  `db:"level" json:"level"`
	Message    string      `db:"message" json:"message"`
	ActorID    string      `db:"actor_id" json:"actor_id"`
	ActorRole  string      `db:"actor_role" json:"actor_role"`
	OldValues  []byte      `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte      `db:"new_values" json:"new_values,omitempty"`
	DurationMs *int64      `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// RosterAuditFilter is the audit read contract.
type RosterAuditFilter struct {
	RosterID string
	Action   AuditAction
	Level    AuditLevel
	ActorID  string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
