package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/scholarship-api/internal/models"
)

const configurationColumns = `id, code, name, category, academic_year, semester, sub_types, quota_mode, total_quota,
       quota_mapping, amount, sub_type_amounts, roster_cycle, eligibility_rules, alternate_policy, created_at, updated_at`

// ConfigurationRepository persists scholarship configurations.
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository constructs the repository.
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// GetByID fetches a single configuration.
func (r *ConfigurationRepository) GetByID(ctx context.Context, id string) (*models.ScholarshipConfiguration, error) {
	query := `SELECT ` + configurationColumns + ` FROM scholarship_configurations WHERE id = $1`
	var cfg models.ScholarshipConfiguration
	if err := r.db.GetContext(ctx, &cfg, query, id); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListByIDs returns configurations whose id is in the provided slice.
func (r *ConfigurationRepository) ListByIDs(ctx context.Context, ids []string) ([]models.ScholarshipConfiguration, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM scholarship_configurations WHERE id IN (%s) ORDER BY code ASC`,
		configurationColumns, placeholders(len(ids)))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var configs []models.ScholarshipConfiguration
	if err := r.db.SelectContext(ctx, &configs, query, args...); err != nil {
		return nil, fmt.Errorf("list scholarship configurations: %w", err)
	}
	return configs, nil
}

// Create inserts a configuration.
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.ScholarshipConfiguration) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.QuotaMode == "" {
		cfg.QuotaMode = models.QuotaModeNone
	}
	if cfg.RosterCycle == "" {
		cfg.RosterCycle = models.RosterCycleMonthly
	}
	if len(cfg.QuotaMapping) == 0 {
		cfg.QuotaMapping = types.JSONText(`{}`)
	}
	if len(cfg.SubTypeAmounts) == 0 {
		cfg.SubTypeAmounts = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	const query = `INSERT INTO scholarship_configurations
	(id, code, name, category, academic_year, semester, sub_types, quota_mode, total_quota, quota_mapping, amount,
	 sub_type_amounts, roster_cycle, eligibility_rules, alternate_policy, created_at, updated_at)
	VALUES (:id, :code, :name, :category, :academic_year, :semester, :sub_types, :quota_mode, :total_quota, :quota_mapping, :amount,
	 :sub_type_amounts, :roster_cycle, :eligibility_rules, :alternate_policy, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("create scholarship configuration: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	values := make([]string, n)
	for i := 1; i <= n; i++ {
		values[i-1] = fmt.Sprintf("$%d", i)
	}
	return strings.Join(values, ",")
}
