package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scholarship-api/internal/models"
)

// VerificationTaskRepository persists batch verification tasks.
type VerificationTaskRepository struct {
	db *sqlx.DB
}

// NewVerificationTaskRepository constructs the repository.
func NewVerificationTaskRepository(db *sqlx.DB) *VerificationTaskRepository {
	return &VerificationTaskRepository{db: db}
}

// Create inserts a task.
func (r *VerificationTaskRepository) Create(ctx context.Context, task *models.BatchVerificationTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.VerificationTaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO batch_verification_tasks
	(id, roster_id, status, total, processed, verified, needs_review, failed, results, error_message, created_by, created_at, started_at, finished_at)
	VALUES (:id, :roster_id, :status, :total, :processed, :verified, :needs_review, :failed, :results, :error_message, :created_by, :created_at, :started_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create verification task: %w", err)
	}
	return nil
}

// GetByID loads a task.
func (r *VerificationTaskRepository) GetByID(ctx context.Context, id string) (*models.BatchVerificationTask, error) {
	const query = `SELECT id, roster_id, status, total, processed, verified, needs_review, failed, results, error_message,
       created_by, created_at, started_at, finished_at FROM batch_verification_tasks WHERE id = $1`
	var task models.BatchVerificationTask
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update writes progress counters, status and results.
func (r *VerificationTaskRepository) Update(ctx context.Context, task *models.BatchVerificationTask) error {
	const query = `UPDATE batch_verification_tasks SET status = :status, total = :total, processed = :processed,
	verified = :verified, needs_review = :needs_review, failed = :failed, results = :results,
	error_message = :error_message, started_at = :started_at, finished_at = :finished_at
	WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("update verification task: %w", err)
	}
	return requireAffected(result, "verification task")
}
