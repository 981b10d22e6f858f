package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scholarship-api/internal/models"
)

// ReviewRepository persists immutable review records and their items.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the record followed by each item. Callers pass a transaction to
// keep record and items atomic.
func (r *ReviewRepository) Create(ctx context.Context, exec sqlx.ExtContext, record *models.ReviewRecord) error {
	if record == nil {
		return fmt.Errorf("review record is nil")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.SubmittedAt.IsZero() {
		record.SubmittedAt = time.Now().UTC()
	}
	target := r.exec(exec)

	const recordQuery = `INSERT INTO review_records (id, application_id, reviewer_id, reviewer_role, submitted_at)
VALUES (:id, :application_id, :reviewer_id, :reviewer_role, :submitted_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, recordQuery, record); err != nil {
		return fmt.Errorf("insert review record: %w", err)
	}

	const itemQuery = `INSERT INTO review_items (id, review_id, sub_type, recommendation, comment)
VALUES (:id, :review_id, :sub_type, :recommendation, :comment)`
	for i := range record.Items {
		item := &record.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.ReviewID = record.ID
		if _, err := sqlx.NamedExecContext(ctx, target, itemQuery, item); err != nil {
			return fmt.Errorf("insert review item %s: %w", item.SubType, err)
		}
	}
	return nil
}

// ListByApplication returns every record for an application, oldest first, with items attached.
func (r *ReviewRepository) ListByApplication(ctx context.Context, applicationID string) ([]models.ReviewRecord, error) {
	const recordQuery = `SELECT id, application_id, reviewer_id, reviewer_role, submitted_at
FROM review_records WHERE application_id = $1 ORDER BY submitted_at ASC, id ASC`
	var records []models.ReviewRecord
	if err := r.db.SelectContext(ctx, &records, recordQuery, applicationID); err != nil {
		return nil, fmt.Errorf("list review records: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	const itemQuery = `SELECT ri.id, ri.review_id, ri.sub_type, ri.recommendation, ri.comment
FROM review_items ri JOIN review_records rr ON rr.id = ri.review_id
WHERE rr.application_id = $1 ORDER BY ri.sub_type ASC`
	var items []models.ReviewItem
	if err := r.db.SelectContext(ctx, &items, itemQuery, applicationID); err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}

	index := make(map[string]int, len(records))
	for i := range records {
		index[records[i].ID] = i
	}
	for _, item := range items {
		if pos, ok := index[item.ReviewID]; ok {
			records[pos].Items = append(records[pos].Items, item)
		}
	}
	return records, nil
}
