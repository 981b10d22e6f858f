package models

import (
	"time"

	"github.com/lib/pq"
)

// ScheduleStatus is the schedule's own lifecycle, independent of rosters.
type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusPaused   ScheduleStatus = "paused"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
	ScheduleStatusError    ScheduleStatus = "error"
)

// Valid reports whether the status is known.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusActive, ScheduleStatusPaused, ScheduleStatusDisabled, ScheduleStatusError:
		return true
	default:
		return false
	}
}

// Fires reports whether a schedule in this status may run.
func (s ScheduleStatus) Fires() bool {
	return s == ScheduleStatusActive
}

// ScheduleRunResult summarises the latest run.
type ScheduleRunResult string

const (
	ScheduleRunSuccess ScheduleRunResult = "success"
	ScheduleRunFailed  ScheduleRunResult = "failed"
	ScheduleRunSkipped ScheduleRunResult = "skipped"
)

// RosterSchedule configures recurring roster generation.
type RosterSchedule struct {
	ID                  string             `db:"id" json:"id"`
	ConfigurationID     string             `db:"configuration_id" json:"configuration_id"`
	Name                string             `db:"name" json:"name"`
	RosterCycle         RosterCycle        `db:"roster_cycle" json:"roster_cycle"`
	CronExpression      string             `db:"cron_expression" json:"cron_expression"`
	Status              ScheduleStatus     `db:"status" json:"status"`
	AutoLock            bool               `db:"auto_lock" json:"auto_lock"`
	VerificationEnabled bool               `db:"verification_enabled" json:"verification_enabled"`
	NotifyOnSuccess     bool               `db:"notify_on_success" json:"notify_on_success"`
	NotifyOnFailure     bool               `db:"notify_on_failure" json:"notify_on_failure"`
	NotifyEmails        pq.StringArray     `db:"notify_emails" json:"notify_emails"`
	MaxRetries          int                `db:"max_retries" json:"max_retries"`
	RetryDelaySeconds   int                `db:"retry_delay_seconds" json:"retry_delay_seconds"`
	TotalRuns           int                `db:"total_runs" json:"total_runs"`
	SuccessfulRuns      int                `db:"successful_runs" json:"successful_runs"`
	FailedRuns          int                `db:"failed_runs" json:"failed_runs"`
	LastRunAt           *time.Time         `db:"last_run_at" json:"last_run_at,omitempty"`
	LastRunResult       *ScheduleRunResult `db:"last_run_result" json:"last_run_result,omitempty"`
	LastError           *string            `db:"last_error" json:"last_error,omitempty"`
	LastRosterID        *string            `db:"last_roster_id" json:"last_roster_id,omitempty"`
	NextRunAt           *time.Time         `db:"next_run_at" json:"next_run_at,omitempty"`
	CreatedBy           string             `db:"created_by" json:"created_by"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// ScheduleRunUpdate is the bookkeeping written after a run.
type ScheduleRunUpdate struct {
	ID           string
	Result       ScheduleRunResult
	Status       ScheduleStatus
	LastError    *string
	LastRosterID *string
	RanAt        time.Time
}
