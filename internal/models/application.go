package models

import (
	"time"

	"github.com/lib/pq"
)

// ApplicationStatus captures the application lifecycle.
type ApplicationStatus string

const (
	ApplicationStatusDraft       ApplicationStatus = "draft"
	ApplicationStatusSubmitted   ApplicationStatus = "submitted"
	ApplicationStatusUnderReview ApplicationStatus = "under_review"
	ApplicationStatusApproved    ApplicationStatus = "approved"
	ApplicationStatusRejected    ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn   ApplicationStatus = "withdrawn"
	ApplicationStatusArchived    ApplicationStatus = "archived"
)

// Terminal reports whether no further review can change the application.
func (s ApplicationStatus) Terminal() bool {
	switch s {
	case ApplicationStatusApproved, ApplicationStatusRejected, ApplicationStatusWithdrawn, ApplicationStatusArchived:
		return true
	default:
		return false
	}
}

// ReviewStage is the reviewing level currently responsible for an application.
type ReviewStage string

const (
	ReviewStageProfessor ReviewStage = "professor"
	ReviewStageCollege   ReviewStage = "college"
	ReviewStageAdmin     ReviewStage = "admin"
	ReviewStageCompleted ReviewStage = "completed"
)

// NextReviewStage returns the stage following a submission by role.
func NextReviewStage(role ReviewerRole) ReviewStage {
	switch role {
	case ReviewerRoleProfessor:
		return ReviewStageCollege
	case ReviewerRoleCollege:
		return ReviewStageAdmin
	default:
		return ReviewStageCompleted
	}
}

// Application is a student's scholarship request.
type Application struct {
	ID                    string            `db:"id" json:"id"`
	AppCode               string            `db:"app_code" json:"app_code"`
	StudentID             string            `db:"student_id" json:"student_id"`
	StudentNumber         string            `db:"student_number" json:"student_number"`
	StudentName           string            `db:"student_name" json:"student_name"`
	ConfigurationID       string            `db:"configuration_id" json:"configuration_id"`
	AcademicYear          int               `db:"academic_year" json:"academic_year"`
	Semester              *int              `db:"semester" json:"semester,omitempty"`
	Status                ApplicationStatus `db:"status" json:"status"`
	ReviewStage           ReviewStage       `db:"review_stage" json:"review_stage"`
	SubTypes              pq.StringArray    `db:"sub_types" json:"sub_types"`
	IsRenewal             bool              `db:"is_renewal" json:"is_renewal"`
	RankPosition          *int              `db:"rank_position" json:"rank_position,omitempty"`
	CollegeCode           string            `db:"college_code" json:"college_code"`
	EnrollmentYear        *int              `db:"enrollment_year" json:"enrollment_year,omitempty"`
	EnrollmentTerm        *int              `db:"enrollment_term" json:"enrollment_term,omitempty"`
	BankCode              string            `db:"bank_code" json:"bank_code"`
	BankAccount           string            `db:"bank_account" json:"bank_account"`
	AccountHolder         string            `db:"account_holder" json:"account_holder"`
	IsAlternate           bool              `db:"is_alternate" json:"is_alternate"`
	ReplacesApplicationID *string           `db:"replaces_application_id" json:"replaces_application_id,omitempty"`
	CreatedAt             time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time         `db:"updated_at" json:"updated_at"`
}

// HasSubType reports whether the student selected subType.
func (a *Application) HasSubType(subType string) bool {
	for _, st := range a.SubTypes {
		if st == subType {
			return true
		}
	}
	return false
}

// VisibleTo reports whether actor may read the application. Students only see
// their own; reviewers and administrators see all.
func (a *Application) VisibleTo(actor Actor) bool {
	switch actor.Role {
	case RoleSuperAdmin, RoleAdmin, RoleCollege, RoleProfessor, RoleSystem:
		return true
	case RoleStudent:
		return actor.ID != "" && actor.ID == a.StudentID
	default:
		return false
	}
}

// ApplicationFilter constrains candidate selection.
type ApplicationFilter struct {
	ConfigurationID string
	AcademicYear    int
	Semester        *int
	Statuses        []ApplicationStatus
	SubType         string
}
