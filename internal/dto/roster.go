package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/scholarship-api/internal/models"
)

// GenerateRosterRequest captures POST /rosters/generate payload.
type GenerateRosterRequest struct {
	ConfigurationID     string `json:"configurationId" validate:"required"`
	PeriodLabel         string `json:"periodLabel" validate:"required"`
	AcademicYear        int    `json:"academicYear"`
	VerificationEnabled *bool  `json:"verificationEnabled,omitempty"`
	ForceRegenerate     bool   `json:"forceRegenerate"`
	DryRun              bool   `json:"dryRun"`
}

// RosterPlan is the computed allocation for one generation.
type RosterPlan struct {
	ConfigurationID         string                     `json:"configurationId"`
	PeriodLabel             string                     `json:"periodLabel"`
	QualifiedCount          int                        `json:"qualifiedCount"`
	DisqualifiedCount       int                        `json:"disqualifiedCount"`
	TotalAmount             decimal.Decimal            `json:"totalAmount"`
	VerificationAPIFailures int                        `json:"verificationApiFailures"`
	Items                   []models.PaymentRosterItem `json:"items"`
	Meta                    models.GenerationMeta      `json:"meta"`
}

// GenerateRosterResponse is returned by the generate endpoint.
type GenerateRosterResponse struct {
	Roster *models.PaymentRoster `json:"roster,omitempty"`
	Plan   *RosterPlan           `json:"plan,omitempty"`
	DryRun bool                  `json:"dryRun"`
}

// RosterDetailResponse exposes a roster with its item counts.
type RosterDetailResponse struct {
	Roster    *models.PaymentRoster `json:"roster"`
	ItemCount int                   `json:"itemCount"`
}

// LockRosterRequest captures POST /rosters/:id/lock payload.
type LockRosterRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// UnlockRosterRequest captures POST /rosters/:id/unlock payload.
type UnlockRosterRequest struct {
	Reason string `json:"reason" validate:"required,min=5,max=500"`
}

// FailRosterRequest captures POST /rosters/:id/fail payload.
type FailRosterRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// BankStatusRequest captures PATCH /rosters/:id/items/:itemId/bank-status payload.
type BankStatusRequest struct {
	Status models.BankVerificationStatus `json:"status" validate:"required,oneof=pending verified failed needs_review"`
	Note   string                        `json:"note" validate:"max=500"`
}

// RosterExport is a rendered roster file.
type RosterExport struct {
	FileName    string
	ContentType string
	Content     []byte
}

// AuditLogQuery mirrors GET /roster-audit-logs query parameters.
type AuditLogQuery struct {
	RosterID string `form:"rosterId"`
	Action   string `form:"action"`
	Level    string `form:"level"`
	ActorID  string `form:"actorId"`
	From     string `form:"from"`
	To       string `form:"to"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// VerificationTaskResponse exposes batch verification progress.
type VerificationTaskResponse struct {
	ID          string                         `json:"id"`
	RosterID    string                         `json:"rosterId"`
	Status      models.VerificationTaskStatus  `json:"status"`
	Progress    int                            `json:"progress"`
	Total       int                            `json:"total"`
	Processed   int                            `json:"processed"`
	Verified    int                            `json:"verified"`
	NeedsReview int                            `json:"needsReview"`
	Failed      int                            `json:"failed"`
	Results     models.VerificationTaskResults `json:"results,omitempty"`
	Error       *string                        `json:"error,omitempty"`
}
