package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// QuotaMode selects how capacity is expressed for a configuration.
type QuotaMode string

const (
	QuotaModeNone         QuotaMode = "none"
	QuotaModeSimple       QuotaMode = "simple"
	QuotaModeCollegeBased QuotaMode = "college_based"
	QuotaModeMatrixBased  QuotaMode = "matrix_based"
)

// Valid reports whether the mode is known.
func (m QuotaMode) Valid() bool {
	switch m {
	case QuotaModeNone, QuotaModeSimple, QuotaModeCollegeBased, QuotaModeMatrixBased:
		return true
	default:
		return false
	}
}

// RosterCycle is the disbursement cadence.
type RosterCycle string

const (
	RosterCycleMonthly    RosterCycle = "monthly"
	RosterCycleHalfYearly RosterCycle = "half_yearly"
	RosterCycleYearly     RosterCycle = "yearly"
)

// Valid reports whether the cycle is known.
func (c RosterCycle) Valid() bool {
	return c == RosterCycleMonthly || c == RosterCycleHalfYearly || c == RosterCycleYearly
}

// MonthsPerPeriod converts one roster period of this cycle to months.
func (c RosterCycle) MonthsPerPeriod() int {
	switch c {
	case RosterCycleHalfYearly:
		return 6
	case RosterCycleYearly:
		return 12
	default:
		return 1
	}
}

// ScholarshipCategory groups configurations with shared business rules.
type ScholarshipCategory string

const (
	ScholarshipCategoryGeneral  ScholarshipCategory = "general"
	ScholarshipCategoryDoctoral ScholarshipCategory = "doctoral"
)

// RuleSeverity decides whether a failed rule excludes or only flags.
type RuleSeverity string

const (
	RuleSeverityHard    RuleSeverity = "hard"
	RuleSeverityWarning RuleSeverity = "warning"
)

// EligibilityRule enables one named rule for a configuration.
type EligibilityRule struct {
	Key      string       `json:"key"`
	Severity RuleSeverity `json:"severity"`
}

// EligibilityRules is persisted as JSONB.
type EligibilityRules []EligibilityRule

// Value implements driver.Valuer.
func (r EligibilityRules) Value() (driver.Value, error) {
	if r == nil {
		r = EligibilityRules{}
	}
	return jsonValue([]EligibilityRule(r), "eligibility rules")
}

// Scan implements sql.Scanner.
func (r *EligibilityRules) Scan(value interface{}) error {
	return scanJSON(value, (*[]EligibilityRule)(r), "eligibility rules")
}

// ReceivedUnit defines how already-received awards are counted against caps.
type ReceivedUnit string

const (
	// ReceivedUnitPeriod counts distinct roster periods.
	ReceivedUnitPeriod ReceivedUnit = "period"
	// ReceivedUnitMonth converts each period to months using its roster cycle.
	ReceivedUnitMonth ReceivedUnit = "month"
)

// AlternatePolicy configures cohort-restricted alternate promotion.
type AlternatePolicy struct {
	CohortRestricted bool         `json:"cohort_restricted"`
	MaxReceived      int          `json:"max_received"`
	ReceivedUnit     ReceivedUnit `json:"received_unit"`
}

// Value implements driver.Valuer.
func (p AlternatePolicy) Value() (driver.Value, error) {
	return jsonValue(p, "alternate policy")
}

// Scan implements sql.Scanner.
func (p *AlternatePolicy) Scan(value interface{}) error {
	return scanJSON(value, p, "alternate policy")
}

// ScholarshipConfiguration is one academic-period instance of a scholarship.
type ScholarshipConfiguration struct {
	ID               string              `db:"id" json:"id"`
	Code             string              `db:"code" json:"code"`
	Name             string              `db:"name" json:"name"`
	Category         ScholarshipCategory `db:"category" json:"category"`
	AcademicYear     int                 `db:"academic_year" json:"academic_year"`
	Semester         *int                `db:"semester" json:"semester,omitempty"`
	SubTypes         pq.StringArray      `db:"sub_types" json:"sub_types"`
	QuotaMode        QuotaMode           `db:"quota_mode" json:"quota_mode"`
	TotalQuota       *int                `db:"total_quota" json:"total_quota,omitempty"`
	QuotaMapping     types.JSONText      `db:"quota_mapping" json:"quota_mapping,omitempty"`
	Amount           decimal.Decimal     `db:"amount" json:"amount"`
	SubTypeAmounts   types.JSONText      `db:"sub_type_amounts" json:"sub_type_amounts,omitempty"`
	RosterCycle      RosterCycle         `db:"roster_cycle" json:"roster_cycle"`
	EligibilityRules EligibilityRules    `db:"eligibility_rules" json:"eligibility_rules"`
	AlternatePolicy  AlternatePolicy     `db:"alternate_policy" json:"alternate_policy"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// CollegeQuotas decodes the college_based mapping: college code -> seats.
func (c *ScholarshipConfiguration) CollegeQuotas() (map[string]int, error) {
	out := map[string]int{}
	if len(c.QuotaMapping) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(c.QuotaMapping, &out); err != nil {
		return nil, fmt.Errorf("decode college quota mapping: %w", err)
	}
	return out, nil
}

// MatrixQuotas decodes the matrix_based mapping: sub-type -> college -> seats.
func (c *ScholarshipConfiguration) MatrixQuotas() (map[string]map[string]int, error) {
	out := map[string]map[string]int{}
	if len(c.QuotaMapping) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(c.QuotaMapping, &out); err != nil {
		return nil, fmt.Errorf("decode matrix quota mapping: %w", err)
	}
	return out, nil
}

// AmountFor returns the per-period award for subType, falling back to Amount.
func (c *ScholarshipConfiguration) AmountFor(subType string) decimal.Decimal {
	if len(c.SubTypeAmounts) > 0 {
		amounts := map[string]decimal.Decimal{}
		if err := json.Unmarshal(c.SubTypeAmounts, &amounts); err == nil {
			if amount, ok := amounts[subType]; ok {
				return amount
			}
		}
	}
	return c.Amount
}

// QuotaResult is the resolved capacity for a (configuration, sub-type) key.
// A nil TotalQuota means unlimited.
type QuotaResult struct {
	TotalQuota *int           `json:"total_quota"`
	Mode       QuotaMode      `json:"mode"`
	ByCollege  map[string]int `json:"by_college,omitempty"`
}

// QuotaUsage counts applications consuming a quota key.
type QuotaUsage struct {
	Approved int `db:"approved" json:"approved"`
	Pending  int `db:"pending" json:"pending"`
	Rejected int `db:"rejected" json:"rejected"`
	Total    int `db:"total" json:"total"`
}

// HasSubType reports whether the configuration offers subType.
func (c *ScholarshipConfiguration) HasSubType(subType string) bool {
	for _, st := range c.SubTypes {
		if st == subType {
			return true
		}
	}
	return false
}
