package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/scholarship-api/internal/models"
)

const rosterColumns = `id, roster_code, configuration_id, period_label, roster_cycle, academic_year, status, trigger_type,
       is_forced, supersedes_roster_id, qualified_count, disqualified_count, total_amount, verification_api_failures,
       generation_meta, error_message, created_by, locked_by, locked_at, started_at, completed_at, created_at, updated_at`

const rosterItemColumns = `id, roster_id, sequence, application_id, app_code, student_id, student_number, student_name,
       college_code, sub_type, rank_position, bank_code, bank_account, account_holder, amount, verification_status,
       verification_message, verification_details, bank_verification_status, is_included, exclusion_reason,
       failed_rules, warning_rules, rule_details, created_at, updated_at`

const rosterItemBatchSize = 500

// RosterRepository persists payment rosters and their items.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

func (r *RosterRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// LockPeriod serialises generation for a (configuration, period) pair until the
// surrounding transaction ends.
func (r *RosterRepository) LockPeriod(ctx context.Context, tx sqlx.ExtContext, configurationID, periodLabel string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := tx.ExecContext(ctx, query, configurationID+"|"+periodLabel); err != nil {
		return fmt.Errorf("lock roster period: %w", err)
	}
	return nil
}

// FindLatestByPeriod returns the newest roster for the pair, forced or not.
func (r *RosterRepository) FindLatestByPeriod(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (*models.PaymentRoster, error) {
	query := `SELECT ` + rosterColumns + ` FROM payment_rosters
WHERE configuration_id = $1 AND period_label = $2 ORDER BY created_at DESC LIMIT 1`
	var roster models.PaymentRoster
	if err := sqlx.GetContext(ctx, r.exec(exec), &roster, query, configurationID, periodLabel); err != nil {
		return nil, err
	}
	return &roster, nil
}

// HasLocked reports whether any roster for the pair is locked.
func (r *RosterRepository) HasLocked(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payment_rosters WHERE configuration_id = $1 AND period_label = $2 AND status = $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, configurationID, periodLabel, models.RosterStatusLocked); err != nil {
		return false, fmt.Errorf("check locked roster: %w", err)
	}
	return exists, nil
}

// Create inserts a roster row.
func (r *RosterRepository) Create(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error {
	if roster.ID == "" {
		roster.ID = uuid.NewString()
	}
	if roster.Status == "" {
		roster.Status = models.RosterStatusDraft
	}
	now := time.Now().UTC()
	roster.CreatedAt = now
	roster.UpdatedAt = now
	const query = `INSERT INTO payment_rosters
	(id, roster_code, configuration_id, period_label, roster_cycle, academic_year, status, trigger_type, is_forced,
	 supersedes_roster_id, qualified_count, disqualified_count, total_amount, verification_api_failures, generation_meta,
	 error_message, created_by, locked_by, locked_at, started_at, completed_at, created_at, updated_at)
	VALUES (:id, :roster_code, :configuration_id, :period_label, :roster_cycle, :academic_year, :status, :trigger_type, :is_forced,
	 :supersedes_roster_id, :qualified_count, :disqualified_count, :total_amount, :verification_api_failures, :generation_meta,
	 :error_message, :created_by, :locked_by, :locked_at, :started_at, :completed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, roster); err != nil {
		if isUniqueViolation(err) {
			return ErrRosterPeriodTaken
		}
		return fmt.Errorf("create roster: %w", err)
	}
	return nil
}

// GetByID loads a roster.
func (r *RosterRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.PaymentRoster, error) {
	query := `SELECT ` + rosterColumns + ` FROM payment_rosters WHERE id = $1`
	var roster models.PaymentRoster
	if err := sqlx.GetContext(ctx, r.exec(exec), &roster, query, id); err != nil {
		return nil, err
	}
	return &roster, nil
}

// GetForUpdate loads a roster and row-locks it inside tx.
func (r *RosterRepository) GetForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.PaymentRoster, error) {
	query := `SELECT ` + rosterColumns + ` FROM payment_rosters WHERE id = $1 FOR UPDATE`
	var roster models.PaymentRoster
	if err := sqlx.GetContext(ctx, tx, &roster, query, id); err != nil {
		return nil, err
	}
	return &roster, nil
}

// List returns rosters matching filter, newest first, with the total count.
func (r *RosterRepository) List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 6)
	if filter.ConfigurationID != "" {
		args = append(args, filter.ConfigurationID)
		conditions = append(conditions, fmt.Sprintf("configuration_id = $%d", len(args)))
	}
	if filter.PeriodLabel != "" {
		args = append(args, filter.PeriodLabel)
		conditions = append(conditions, fmt.Sprintf("period_label = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		marks := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(marks, ",")))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM payment_rosters"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count rosters: %w", err)
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s FROM payment_rosters%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		rosterColumns, where, size, (page-1)*size)
	var rosters []models.PaymentRoster
	if err := r.db.SelectContext(ctx, &rosters, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list rosters: %w", err)
	}
	return rosters, total, nil
}

// UpdateStatus moves a roster to next when its current status is one of from.
// sql.ErrNoRows signals that the roster is missing or in another status.
func (r *RosterRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from []models.RosterStatus, next models.RosterStatus, errorMessage *string) error {
	now := time.Now().UTC()
	args := []interface{}{next, errorMessage, now, id}
	marks := make([]string, len(from))
	for i, status := range from {
		args = append(args, status)
		marks[i] = fmt.Sprintf("$%d", len(args))
	}
	query := `UPDATE payment_rosters SET status = $1, error_message = COALESCE($2, error_message), updated_at = $3`
	switch next {
	case models.RosterStatusProcessing:
		query += `, started_at = $3`
	case models.RosterStatusCompleted, models.RosterStatusFailed:
		query += `, completed_at = COALESCE(completed_at, $3)`
	}
	query += ` WHERE id = $4`
	if len(marks) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(marks, ","))
	}
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update roster status: %w", err)
	}
	return requireAffected(result, "roster status")
}

// UpdateSummary writes the generation result and status in one statement.
func (r *RosterRepository) UpdateSummary(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error {
	roster.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payment_rosters SET status = :status, qualified_count = :qualified_count,
	disqualified_count = :disqualified_count, total_amount = :total_amount,
	verification_api_failures = :verification_api_failures, generation_meta = :generation_meta,
	error_message = :error_message, completed_at = :completed_at, updated_at = :updated_at
	WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, roster)
	if err != nil {
		return fmt.Errorf("update roster summary: %w", err)
	}
	return requireAffected(result, "roster summary")
}

// SetLockState writes the lock columns alongside the status.
func (r *RosterRepository) SetLockState(ctx context.Context, exec sqlx.ExtContext, id string, status models.RosterStatus, lockedBy *string, lockedAt *time.Time) error {
	const query = `UPDATE payment_rosters SET status = $1, locked_by = $2, locked_at = $3, updated_at = $4 WHERE id = $5`
	result, err := r.exec(exec).ExecContext(ctx, query, status, lockedBy, lockedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update roster lock: %w", err)
	}
	return requireAffected(result, "roster lock")
}

// InsertItems writes items in batches using the provided executor.
func (r *RosterRepository) InsertItems(ctx context.Context, exec sqlx.ExtContext, items []models.PaymentRosterItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].FailedRules == nil {
			items[i].FailedRules = pq.StringArray{}
		}
		if items[i].WarningRules == nil {
			items[i].WarningRules = pq.StringArray{}
		}
		if items[i].BankVerificationStatus == "" {
			items[i].BankVerificationStatus = models.BankVerificationPending
		}
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}
	const query = `INSERT INTO payment_roster_items
	(id, roster_id, sequence, application_id, app_code, student_id, student_number, student_name, college_code, sub_type,
	 rank_position, bank_code, bank_account, account_holder, amount, verification_status, verification_message,
	 verification_details, bank_verification_status, is_included, exclusion_reason, failed_rules, warning_rules,
	 rule_details, created_at, updated_at)
	VALUES (:id, :roster_id, :sequence, :application_id, :app_code, :student_id, :student_number, :student_name, :college_code, :sub_type,
	 :rank_position, :bank_code, :bank_account, :account_holder, :amount, :verification_status, :verification_message,
	 :verification_details, :bank_verification_status, :is_included, :exclusion_reason, :failed_rules, :warning_rules,
	 :rule_details, :created_at, :updated_at)`
	target := r.exec(exec)
	for start := 0; start < len(items); start += rosterItemBatchSize {
		end := start + rosterItemBatchSize
		if end > len(items) {
			end = len(items)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, items[start:end]); err != nil {
			return fmt.Errorf("insert roster items: %w", err)
		}
	}
	return nil
}

// CountItems counts stored items for a roster.
func (r *RosterRepository) CountItems(ctx context.Context, exec sqlx.ExtContext, rosterID string) (int, error) {
	const query = `SELECT COUNT(*) FROM payment_roster_items WHERE roster_id = $1`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, rosterID); err != nil {
		return 0, fmt.Errorf("count roster items: %w", err)
	}
	return count, nil
}

// ListItems returns items in generation order.
func (r *RosterRepository) ListItems(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error) {
	query := `SELECT ` + rosterItemColumns + ` FROM payment_roster_items WHERE roster_id = $1`
	if includedOnly {
		query += ` AND is_included = TRUE`
	}
	query += ` ORDER BY sequence ASC`
	var items []models.PaymentRosterItem
	if err := r.db.SelectContext(ctx, &items, query, rosterID); err != nil {
		return nil, fmt.Errorf("list roster items: %w", err)
	}
	return items, nil
}

// GetItem loads a single item scoped to its roster.
func (r *RosterRepository) GetItem(ctx context.Context, exec sqlx.ExtContext, rosterID, itemID string) (*models.PaymentRosterItem, error) {
	query := `SELECT ` + rosterItemColumns + ` FROM payment_roster_items WHERE roster_id = $1 AND id = $2`
	var item models.PaymentRosterItem
	if err := sqlx.GetContext(ctx, r.exec(exec), &item, query, rosterID, itemID); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItemBankStatus writes the bank status column and the details blob together.
func (r *RosterRepository) UpdateItemBankStatus(ctx context.Context, exec sqlx.ExtContext, item *models.PaymentRosterItem) error {
	item.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payment_roster_items SET bank_verification_status = :bank_verification_status,
	verification_details = :verification_details, updated_at = :updated_at
	WHERE id = :id AND roster_id = :roster_id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, item)
	if err != nil {
		return fmt.Errorf("update roster item bank status: %w", err)
	}
	return requireAffected(result, "roster item bank status")
}

// ListReceivedPeriods returns, per student, the distinct periods in which they were
// included on a completed or locked roster of the configuration.
func (r *RosterRepository) ListReceivedPeriods(ctx context.Context, configurationID string, studentIDs []string) (map[string][]models.ReceivedPeriod, error) {
	result := make(map[string][]models.ReceivedPeriod, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT DISTINCT i.student_id, r.period_label, r.roster_cycle
FROM payment_roster_items i JOIN payment_rosters r ON r.id = i.roster_id
WHERE r.configuration_id = ? AND r.status IN (?) AND i.is_included = TRUE AND i.student_id IN (?)
ORDER BY i.student_id, r.period_label`,
		configurationID,
		[]string{string(models.RosterStatusCompleted), string(models.RosterStatusLocked)},
		studentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("build received periods query: %w", err)
	}
	var periods []models.ReceivedPeriod
	if err := r.db.SelectContext(ctx, &periods, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list received periods: %w", err)
	}
	for _, period := range periods {
		result[period.StudentID] = append(result[period.StudentID], period)
	}
	return result, nil
}

func requireAffected(result sql.Result, label string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalisePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return page, size
}
