package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/scholarship-api/internal/models"
)

const scheduleColumns = `id, configuration_id, name, roster_cycle, cron_expression, status, auto_lock, verification_enabled,
       notify_on_success, notify_on_failure, notify_emails, max_retries, retry_delay_seconds, total_runs, successful_runs,
       failed_runs, last_run_at, last_run_result, last_error, last_roster_id, next_run_at, created_by, created_at, updated_at`

// RosterScheduleRepository persists recurring generation schedules.
type RosterScheduleRepository struct {
	db *sqlx.DB
}

// NewRosterScheduleRepository constructs the repository.
func NewRosterScheduleRepository(db *sqlx.DB) *RosterScheduleRepository {
	return &RosterScheduleRepository{db: db}
}

// Create inserts a schedule.
func (r *RosterScheduleRepository) Create(ctx context.Context, schedule *models.RosterSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.Status == "" {
		schedule.Status = models.ScheduleStatusActive
	}
	if schedule.NotifyEmails == nil {
		schedule.NotifyEmails = pq.StringArray{}
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	const query = `INSERT INTO roster_schedules
	(id, configuration_id, name, roster_cycle, cron_expression, status, auto_lock, verification_enabled, notify_on_success,
	 notify_on_failure, notify_emails, max_retries, retry_delay_seconds, total_runs, successful_runs, failed_runs,
	 next_run_at, created_by, created_at, updated_at)
	VALUES (:id, :configuration_id, :name, :roster_cycle, :cron_expression, :status, :auto_lock, :verification_enabled, :notify_on_success,
	 :notify_on_failure, :notify_emails, :max_retries, :retry_delay_seconds, :total_runs, :successful_runs, :failed_runs,
	 :next_run_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create roster schedule: %w", err)
	}
	return nil
}

// GetByID loads a schedule.
func (r *RosterScheduleRepository) GetByID(ctx context.Context, id string) (*models.RosterSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM roster_schedules WHERE id = $1`
	var schedule models.RosterSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// List returns schedules, optionally restricted to statuses.
func (r *RosterScheduleRepository) List(ctx context.Context, statuses []models.ScheduleStatus) ([]models.RosterSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM roster_schedules`
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, status := range statuses {
			args = append(args, status)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(marks, ","))
	}
	query += " ORDER BY created_at ASC"
	var schedules []models.RosterSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list roster schedules: %w", err)
	}
	return schedules, nil
}

// UpdateStatus changes the schedule's own status.
func (r *RosterScheduleRepository) UpdateStatus(ctx context.Context, id string, status models.ScheduleStatus) error {
	const query = `UPDATE roster_schedules SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update roster schedule status: %w", err)
	}
	return requireAffected(result, "roster schedule status")
}

// UpdateNextRun stores the next computed fire time.
func (r *RosterScheduleRepository) UpdateNextRun(ctx context.Context, id string, next *time.Time) error {
	const query = `UPDATE roster_schedules SET next_run_at = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, next, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update roster schedule next run: %w", err)
	}
	return requireAffected(result, "roster schedule next run")
}

// RecordRun bumps counters and writes last-run bookkeeping. next_run_at is left untouched.
func (r *RosterScheduleRepository) RecordRun(ctx context.Context, run models.ScheduleRunUpdate) error {
	successInc, failedInc := 0, 0
	switch run.Result {
	case models.ScheduleRunSuccess:
		successInc = 1
	case models.ScheduleRunFailed:
		failedInc = 1
	}
	const query = `UPDATE roster_schedules SET
	total_runs = total_runs + 1,
	successful_runs = successful_runs + $1,
	failed_runs = failed_runs + $2,
	last_run_at = $3,
	last_run_result = $4,
	last_error = $5,
	last_roster_id = COALESCE($6, last_roster_id),
	status = $7,
	updated_at = $8
	WHERE id = $9`
	result, err := r.db.ExecContext(ctx, query, successInc, failedInc, run.RanAt, run.Result, run.LastError,
		run.LastRosterID, run.Status, time.Now().UTC(), run.ID)
	if err != nil {
		return fmt.Errorf("record roster schedule run: %w", err)
	}
	return requireAffected(result, "roster schedule run")
}
