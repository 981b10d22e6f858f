package models

import "time"

// AuthorityLevel orders reviewer roles. Higher is more senior.
type AuthorityLevel int

const (
	AuthorityNone AuthorityLevel = iota
	AuthorityProfessor
	AuthorityCollege
	AuthorityAdmin
)

// ReviewerRole is the persisted name of a reviewing role.
type ReviewerRole string

const (
	ReviewerRoleProfessor ReviewerRole = "professor"
	ReviewerRoleCollege   ReviewerRole = "college"
	ReviewerRoleAdmin     ReviewerRole = "admin"
)

// ReviewerRoles lists roles from least to most senior.
var ReviewerRoles = []ReviewerRole{ReviewerRoleProfessor, ReviewerRoleCollege, ReviewerRoleAdmin}

// Level returns the authority level of the role, AuthorityNone when unknown.
func (r ReviewerRole) Level() AuthorityLevel {
	switch r {
	case ReviewerRoleProfessor:
		return AuthorityProfessor
	case ReviewerRoleCollege:
		return AuthorityCollege
	case ReviewerRoleAdmin:
		return AuthorityAdmin
	default:
		return AuthorityNone
	}
}

// Valid reports whether the role is part of the authority order.
func (r ReviewerRole) Valid() bool {
	return r.Level() != AuthorityNone
}

// SeniorTo reports whether r outranks other.
func (r ReviewerRole) SeniorTo(other ReviewerRole) bool {
	return r.Level() > other.Level()
}

// ReviewerRoleFor maps an authenticated user role onto its reviewing role.
func ReviewerRoleFor(role UserRole) (ReviewerRole, bool) {
	switch role {
	case RoleProfessor:
		return ReviewerRoleProfessor, true
	case RoleCollege:
		return ReviewerRoleCollege, true
	case RoleAdmin, RoleSuperAdmin:
		return ReviewerRoleAdmin, true
	default:
		return "", false
	}
}

// Recommendation is a reviewer's verdict on one sub-type.
type Recommendation string

const (
	RecommendationApprove Recommendation = "approve"
	RecommendationReject  Recommendation = "reject"
)

// Valid reports whether the recommendation is known.
func (r Recommendation) Valid() bool {
	return r == RecommendationApprove || r == RecommendationReject
}

// ReviewRecord is one reviewer submission. Records are never updated; a later
// record from the same reviewer supersedes earlier ones.
type ReviewRecord struct {
	ID            string       `db:"id" json:"id"`
	ApplicationID string       `db:"application_id" json:"application_id"`
	ReviewerID    string       `db:"reviewer_id" json:"reviewer_id"`
	ReviewerRole  ReviewerRole `db:"reviewer_role" json:"reviewer_role"`
	SubmittedAt   time.Time    `db:"submitted_at" json:"submitted_at"`
	Items         []ReviewItem `db:"-" json:"items"`
}

// ReviewItem is a per-sub-type recommendation within a record.
type ReviewItem struct {
	ID             string         `db:"id" json:"id"`
	ReviewID       string         `db:"review_id" json:"review_id"`
	SubType        string         `db:"sub_type" json:"sub_type"`
	Recommendation Recommendation `db:"recommendation" json:"recommendation"`
	Comment        string         `db:"comment" json:"comment"`
}

// SubTypeDecision is the cumulative outcome for a sub-type.
type SubTypeDecision string

const (
	SubTypePending  SubTypeDecision = "pending"
	SubTypeApproved SubTypeDecision = "approved"
	SubTypeRejected SubTypeDecision = "rejected"
)

// SubTypeStatus is derived from review records, never stored.
type SubTypeStatus struct {
	SubType    string          `json:"sub_type"`
	Status     SubTypeDecision `json:"status"`
	DecidedBy  ReviewerRole    `json:"decided_by,omitempty"`
	RejectedBy ReviewerRole    `json:"rejected_by,omitempty"`
	ReviewerID string          `json:"reviewer_id,omitempty"`
	Comment    string          `json:"comment,omitempty"`
	DecidedAt  *time.Time      `json:"decided_at,omitempty"`
}
