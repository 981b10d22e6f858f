package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scholarship-api/internal/models"
)

// RosterAuditRepository is the append-only store for roster audit entries.
// It exposes no update or delete operations.
type RosterAuditRepository struct {
	db *sqlx.DB
}

// NewRosterAuditRepository constructs the repository.
func NewRosterAuditRepository(db *sqlx.DB) *RosterAuditRepository {
	return &RosterAuditRepository{db: db}
}

// Create appends an audit entry, inside tx when one is given.
func (r *RosterAuditRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RosterAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Level == "" {
		entry.Level = models.AuditLevelInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	target := sqlx.ExtContext(r.db)
	if exec != nil {
		target = exec
	}
	const query = `INSERT INTO roster_audit_logs
	(id, roster_id, action, level, message, actor_id, actor_role, old_values, new_values, duration_ms, created_at)
	VALUES (:id, :roster_id, :action, :level, :message, :actor_id, :actor_role, :old_values, :new_values, :duration_ms, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, entry); err != nil {
		return fmt.Errorf("create roster audit log: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first, with the total count.
func (r *RosterAuditRepository) List(ctx context.Context, filter models.RosterAuditFilter) ([]models.RosterAuditLog, int, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	if filter.RosterID != "" {
		args = append(args, filter.RosterID)
		conditions = append(conditions, fmt.Sprintf("roster_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, filter.Level)
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM roster_audit_logs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count roster audit logs: %w", err)
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT id, roster_id, action, level, message, actor_id, actor_role, old_values, new_values, duration_ms, created_at
FROM roster_audit_logs%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, where, size, (page-1)*size)
	var entries []models.RosterAuditLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list roster audit logs: %w", err)
	}
	return entries, total, nil
}
