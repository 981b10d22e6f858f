package dto

import "github.com/noah-isme/scholarship-api/internal/models"

// ReviewItemRequest is one per-sub-type recommendation.
type ReviewItemRequest struct {
	SubType        string                `json:"subType" validate:"required"`
	Recommendation models.Recommendation `json:"recommendation" validate:"required,oneof=approve reject"`
	Comment        string                `json:"comment" validate:"max=2000"`
}

// SubmitReviewRequest captures POST /applications/:id/reviews payload.
type SubmitReviewRequest struct {
	Items []ReviewItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ReviewableSubTypesResponse lists sub-types the caller's role may act on.
type ReviewableSubTypesResponse struct {
	ApplicationID string              `json:"applicationId"`
	Role          models.ReviewerRole `json:"role"`
	SubTypes      []string            `json:"subTypes"`
}

// SubmitApplicationRequest captures POST /applications payload.
type SubmitApplicationRequest struct {
	StudentID             string   `json:"studentId" validate:"required"`
	StudentNumber         string   `json:"studentNumber" validate:"required"`
	StudentName           string   `json:"studentName" validate:"required"`
	ConfigurationID       string   `json:"configurationId" validate:"required"`
	SubTypes              []string `json:"subTypes" validate:"required,min=1,dive,required"`
	IsRenewal             bool     `json:"isRenewal"`
	CollegeCode           string   `json:"collegeCode" validate:"required"`
	EnrollmentYear        *int     `json:"enrollmentYear,omitempty"`
	EnrollmentTerm        *int     `json:"enrollmentTerm,omitempty" validate:"omitempty,min=1,max=2"`
	BankCode              string   `json:"bankCode"`
	BankAccount           string   `json:"bankAccount"`
	AccountHolder         string   `json:"accountHolder"`
	IsAlternate           bool     `json:"isAlternate"`
	ReplacesApplicationID *string  `json:"replacesApplicationId,omitempty"`
}

// SetRankRequest captures PATCH /applications/:id/rank payload. A nil position clears the rank.
type SetRankRequest struct {
	RankPosition *int `json:"rankPosition" validate:"omitempty,min=1"`
}
