package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RosterStatus is the payment roster lifecycle.
type RosterStatus string

const (
	RosterStatusDraft      RosterStatus = "draft"
	RosterStatusProcessing RosterStatus = "processing"
	RosterStatusCompleted  RosterStatus = "completed"
	RosterStatusFailed     RosterStatus = "failed"
	RosterStatusLocked     RosterStatus = "locked"
)

var rosterTransitions = map[RosterStatus][]RosterStatus{
	RosterStatusDraft:      {RosterStatusProcessing, RosterStatusFailed},
	RosterStatusProcessing: {RosterStatusCompleted, RosterStatusFailed},
	RosterStatusCompleted:  {RosterStatusLocked},
	RosterStatusFailed:     {RosterStatusProcessing},
	RosterStatusLocked:     {RosterStatusCompleted},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s RosterStatus) CanTransitionTo(next RosterStatus) bool {
	for _, allowed := range rosterTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Modifiable reports whether roster content may still change.
func (s RosterStatus) Modifiable() bool {
	return s == RosterStatusDraft || s == RosterStatusFailed
}

// TriggerType records what started a generation.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerDryRun    TriggerType = "dry_run"
)

// VerificationStatus is the classification of an enrollment check.
type VerificationStatus string

const (
	VerificationVerified    VerificationStatus = "verified"
	VerificationGraduated   VerificationStatus = "graduated"
	VerificationSuspended   VerificationStatus = "suspended"
	VerificationWithdrawn   VerificationStatus = "withdrawn"
	VerificationAPIError    VerificationStatus = "api_error"
	VerificationNotFound    VerificationStatus = "not_found"
	VerificationNeedsReview VerificationStatus = "needs_review"
	VerificationSkipped     VerificationStatus = "skipped"
)

// Ineligible reports whether the registry positively determined the student
// cannot receive the award. not_found is not such a determination; it goes to
// manual review.
func (s VerificationStatus) Ineligible() bool {
	switch s {
	case VerificationGraduated, VerificationSuspended, VerificationWithdrawn:
		return true
	default:
		return false
	}
}

// BankVerificationStatus tracks manual review of bank details on an item.
type BankVerificationStatus string

const (
	BankVerificationPending     BankVerificationStatus = "pending"
	BankVerificationVerified    BankVerificationStatus = "verified"
	BankVerificationFailed      BankVerificationStatus = "failed"
	BankVerificationNeedsReview BankVerificationStatus = "needs_review"
)

// Valid reports whether the status is known.
func (s BankVerificationStatus) Valid() bool {
	switch s {
	case BankVerificationPending, BankVerificationVerified, BankVerificationFailed, BankVerificationNeedsReview:
		return true
	default:
		return false
	}
}

// ExclusionReason explains why an item was not included.
type ExclusionReason string

const (
	ExclusionQuotaExhausted      ExclusionReason = "quota_exhausted"
	ExclusionVerificationFailed  ExclusionReason = "verification_failed"
	ExclusionRuleFailed          ExclusionReason = "rule_failed"
	ExclusionAlternateIneligible ExclusionReason = "alternate_ineligible"
	ExclusionNoApprovedSubType   ExclusionReason = "no_approved_sub_type"
)

// PaymentRoster is one generation run for a (configuration, period) pair.
type PaymentRoster struct {
	ID                      string          `db:"id" json:"id"`
	RosterCode              string          `db:"roster_code" json:"roster_code"`
	ConfigurationID         string          `db:"configuration_id" json:"configuration_id"`
	PeriodLabel             string          `db:"period_label" json:"period_label"`
	RosterCycle             RosterCycle     `db:"roster_cycle" json:"roster_cycle"`
	AcademicYear            int             `db:"academic_year" json:"academic_year"`
	Status                  RosterStatus    `db:"status" json:"status"`
	TriggerType             TriggerType     `db:"trigger_type" json:"trigger_type"`
	IsForced                bool            `db:"is_forced" json:"is_forced"`
	SupersedesRosterID      *string         `db:"supersedes_roster_id" json:"supersedes_roster_id,omitempty"`
	QualifiedCount          int             `db:"qualified_count" json:"qualified_count"`
	DisqualifiedCount       int             `db:"disqualified_count" json:"disqualified_count"`
	TotalAmount             decimal.Decimal `db:"total_amount" json:"total_amount"`
	VerificationAPIFailures int             `db:"verification_api_failures" json:"verification_api_failures"`
	GenerationMeta          GenerationMeta  `db:"generation_meta" json:"generation_meta"`
	ErrorMessage            *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedBy               string          `db:"created_by" json:"created_by"`
	LockedBy                *string         `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt                *time.Time      `db:"locked_at" json:"locked_at,omitempty"`
	StartedAt               *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt             *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`
}

// GenerationMeta snapshots the quota state a roster was allocated against.
type GenerationMeta struct {
	Quotas              map[string]QuotaResult `json:"quotas,omitempty"`
	Usage               map[string]QuotaUsage  `json:"usage,omitempty"`
	VerificationEnabled bool                   `json:"verification_enabled"`
	CandidateCount      int                    `json:"candidate_count"`
	DurationMs          int64                  `json:"duration_ms"`
	ScheduleID          string                 `json:"schedule_id,omitempty"`
}

// Value implements driver.Valuer.
func (m GenerationMeta) Value() (driver.Value, error) {
	return jsonValue(m, "generation meta")
}

// Scan implements sql.Scanner.
func (m *GenerationMeta) Scan(value interface{}) error {
	return scanJSON(value, m, "generation meta")
}

// PaymentRosterItem is one student's line, snapshotted at generation time.
type PaymentRosterItem struct {
	ID                     string                 `db:"id" json:"id"`
	RosterID               string                 `db:"roster_id" json:"roster_id"`
	Sequence               int                    `db:"sequence" json:"sequence"`
	ApplicationID          string                 `db:"application_id" json:"application_id"`
	AppCode                string                 `db:"app_code" json:"app_code"`
	StudentID              string                 `db:"student_id" json:"student_id"`
	StudentNumber          string                 `db:"student_number" json:"student_number"`
	StudentName            string                 `db:"student_name" json:"student_name"`
	CollegeCode            string                 `db:"college_code" json:"college_code"`
	SubType                string                 `db:"sub_type" json:"sub_type"`
	RankPosition           *int                   `db:"rank_position" json:"rank_position,omitempty"`
	BankCode               string                 `db:"bank_code" json:"bank_code"`
	BankAccount            string                 `db:"bank_account" json:"bank_account"`
	AccountHolder          string                 `db:"account_holder" json:"account_holder"`
	Amount                 decimal.Decimal        `db:"amount" json:"amount"`
	VerificationStatus     VerificationStatus     `db:"verification_status" json:"verification_status"`
	VerificationMessage    string                 `db:"verification_message" json:"verification_message"`
	VerificationDetails    VerificationDetails    `db:"verification_details" json:"verification_details"`
	BankVerificationStatus BankVerificationStatus `db:"bank_verification_status" json:"bank_verification_status"`
	IsIncluded             bool                   `db:"is_included" json:"is_included"`
	ExclusionReason        *ExclusionReason       `db:"exclusion_reason" json:"exclusion_reason,omitempty"`
	FailedRules            pq.StringArray         `db:"failed_rules" json:"failed_rules"`
	WarningRules           pq.StringArray         `db:"warning_rules" json:"warning_rules"`
	RuleDetails            RuleResults            `db:"rule_details" json:"rule_details"`
	CreatedAt              time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time              `db:"updated_at" json:"updated_at"`
}

// RuleResult is the outcome of one eligibility rule for one candidate.
type RuleResult struct {
	Rule     string       `json:"rule"`
	Severity RuleSeverity `json:"severity"`
	Passed   bool         `json:"passed"`
	Skipped  bool         `json:"skipped,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// RuleResults is persisted as JSONB.
type RuleResults []RuleResult

// Value implements driver.Valuer.
func (r RuleResults) Value() (driver.Value, error) {
	if r == nil {
		r = RuleResults{}
	}
	return jsonValue([]RuleResult(r), "rule results")
}

// Scan implements sql.Scanner.
func (r *RuleResults) Scan(value interface{}) error {
	return scanJSON(value, (*[]RuleResult)(r), "rule results")
}

// RegistrySnapshot is what the enrollment registry answered at generation time.
type RegistrySnapshot struct {
	Status      VerificationStatus `json:"status"`
	Message     string             `json:"message,omitempty"`
	RawResponse string             `json:"raw_response,omitempty"`
	CheckedAt   time.Time          `json:"checked_at"`
}

// BankReview is the manual bank-detail correction recorded on an item.
type BankReview struct {
	Status     BankVerificationStatus `json:"status"`
	ReviewedBy string                 `json:"reviewed_by"`
	ReviewedAt time.Time              `json:"reviewed_at"`
	Note       string                 `json:"note,omitempty"`
}

// VerificationDetails is the cached verification blob kept on an item.
type VerificationDetails struct {
	Registry *RegistrySnapshot `json:"registry,omitempty"`
	Bank     *BankReview       `json:"bank,omitempty"`
}

// Value implements driver.Valuer.
func (d VerificationDetails) Value() (driver.Value, error) {
	return jsonValue(d, "verification details")
}

// Scan implements sql.Scanner.
func (d *VerificationDetails) Scan(value interface{}) error {
	return scanJSON(value, d, "verification details")
}

// ReceivedPeriod is a past roster period in which a student was paid.
type ReceivedPeriod struct {
	StudentID   string      `db:"student_id"`
	PeriodLabel string      `db:"period_label"`
	RosterCycle RosterCycle `db:"roster_cycle"`
}

// RosterFilter constrains roster listings.
type RosterFilter struct {
	ConfigurationID string
	PeriodLabel     string
	Status          []RosterStatus
	Page            int
	PageSize        int
}
