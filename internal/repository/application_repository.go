package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scholarship-api/internal/models"
)

const applicationColumns = `id, app_code, student_id, student_number, student_name, configuration_id, academic_year, semester,
       status, review_stage, sub_types, is_renewal, rank_position, college_code, enrollment_year, enrollment_term,
       bank_code, bank_account, account_holder, is_alternate, replaces_application_id, created_at, updated_at`

// ApplicationRepository persists scholarship applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// NextSequence bumps and returns the monotonic counter for an academic year and semester.
// A missing semester is stored as 0.
func (r *ApplicationRepository) NextSequence(ctx context.Context, exec sqlx.ExtContext, academicYear int, semester *int) (int, error) {
	term := 0
	if semester != nil {
		term = *semester
	}
	const query = `INSERT INTO application_sequences (academic_year, semester, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (academic_year, semester) DO UPDATE SET last_value = application_sequences.last_value + 1
RETURNING last_value`
	var next int
	if err := sqlx.GetContext(ctx, r.exec(exec), &next, query, academicYear, term); err != nil {
		return 0, fmt.Errorf("next application sequence: %w", err)
	}
	return next, nil
}

// Create inserts an application.
func (r *ApplicationRepository) Create(ctx context.Context, exec sqlx.ExtContext, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusSubmitted
	}
	if app.ReviewStage == "" {
		app.ReviewStage = models.ReviewStageProfessor
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	const query = `INSERT INTO applications
	(id, app_code, student_id, student_number, student_name, configuration_id, academic_year, semester, status, review_stage,
	 sub_types, is_renewal, rank_position, college_code, enrollment_year, enrollment_term, bank_code, bank_account,
	 account_holder, is_alternate, replaces_application_id, created_at, updated_at)
	VALUES (:id, :app_code, :student_id, :student_number, :student_name, :configuration_id, :academic_year, :semester, :status, :review_stage,
	 :sub_types, :is_renewal, :rank_position, :college_code, :enrollment_year, :enrollment_term, :bank_code, :bank_account,
	 :account_holder, :is_alternate, :replaces_application_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetByID fetches an application.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetByIDs fetches applications keyed by id.
func (r *ApplicationRepository) GetByIDs(ctx context.Context, ids []string) (map[string]models.Application, error) {
	result := make(map[string]models.Application, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id IN (%s)`, applicationColumns, placeholders(len(ids)))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, fmt.Errorf("get applications by ids: %w", err)
	}
	for _, app := range apps {
		result[app.ID] = app
	}
	return result, nil
}

// List returns applications matching filter ordered by rank position (unranked last) then id.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + applicationColumns + ` FROM applications`)

	conditions := make([]string, 0, 5)
	if filter.ConfigurationID != "" {
		args = append(args, filter.ConfigurationID)
		conditions = append(conditions, fmt.Sprintf("configuration_id = $%d", len(args)))
	}
	if filter.AcademicYear > 0 {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.Semester != nil {
		args = append(args, *filter.Semester)
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}
	if filter.SubType != "" {
		args = append(args, filter.SubType)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(sub_types)", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY rank_position ASC NULLS LAST, id ASC")

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// UpdateReviewState persists the status and stage after a review submission.
func (r *ApplicationRepository) UpdateReviewState(ctx context.Context, exec sqlx.ExtContext, id string, status models.ApplicationStatus, stage models.ReviewStage) error {
	const query = `UPDATE applications SET status = $1, review_stage = $2, updated_at = $3 WHERE id = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, status, stage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update application review state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("application review state rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateRankPosition stores the ranking position used for quota ordering.
func (r *ApplicationRepository) UpdateRankPosition(ctx context.Context, id string, rank *int) error {
	const query = `UPDATE applications SET rank_position = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, rank, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update application rank: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("application rank rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UsageQuery selects the applications consuming a quota key.
type UsageQuery struct {
	ConfigurationID string
	SubType         string
	AcademicYear    int
	Semester        *int
	CollegeCode     string
}

// CountUsage returns approved/pending/rejected counts for the quota key.
func (r *ApplicationRepository) CountUsage(ctx context.Context, q UsageQuery) (*models.QuotaUsage, error) {
	builder := strings.Builder{}
	args := []interface{}{
		models.ApplicationStatusApproved,
		models.ApplicationStatusSubmitted,
		models.ApplicationStatusUnderReview,
		models.ApplicationStatusRejected,
	}
	builder.WriteString(`SELECT
	COUNT(*) FILTER (WHERE status = $1) AS approved,
	COUNT(*) FILTER (WHERE status IN ($2, $3)) AS pending,
	COUNT(*) FILTER (WHERE status = $4) AS rejected,
	COUNT(*) AS total
FROM applications`)

	conditions := []string{"status NOT IN ('draft', 'withdrawn')"}
	args = append(args, q.ConfigurationID)
	conditions = append(conditions, fmt.Sprintf("configuration_id = $%d", len(args)))
	if q.SubType != "" {
		args = append(args, q.SubType)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(sub_types)", len(args)))
	}
	if q.AcademicYear > 0 {
		args = append(args, q.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if q.Semester != nil {
		args = append(args, *q.Semester)
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)))
	}
	if q.CollegeCode != "" {
		args = append(args, q.CollegeCode)
		conditions = append(conditions, fmt.Sprintf("college_code = $%d", len(args)))
	}
	builder.WriteString(" WHERE ")
	builder.WriteString(strings.Join(conditions, " AND "))

	var usage models.QuotaUsage
	if err := r.db.GetContext(ctx, &usage, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count quota usage: %w", err)
	}
	return &usage, nil
}
