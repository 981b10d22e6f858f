package models

import (
	"database/sql/driver"
	"time"
)

// VerificationTaskStatus tracks an asynchronous batch verification.
type VerificationTaskStatus string

const (
	VerificationTaskPending    VerificationTaskStatus = "pending"
	VerificationTaskProcessing VerificationTaskStatus = "processing"
	VerificationTaskCompleted  VerificationTaskStatus = "completed"
	VerificationTaskFailed     VerificationTaskStatus = "failed"
	VerificationTaskCancelled  VerificationTaskStatus = "cancelled"
)

// Finished reports whether the task reached a terminal state.
func (s VerificationTaskStatus) Finished() bool {
	return s == VerificationTaskCompleted || s == VerificationTaskFailed || s == VerificationTaskCancelled
}

// VerificationTaskResult is the outcome for one roster item.
type VerificationTaskResult struct {
	ItemID    string             `json:"item_id"`
	StudentID string             `json:"student_id"`
	Previous  VerificationStatus `json:"previous"`
	Current   VerificationStatus `json:"current"`
	Message   string             `json:"message,omitempty"`
}

// VerificationTaskResults is persisted as JSONB.
type VerificationTaskResults []VerificationTaskResult

// Value implements driver.Valuer.
func (r VerificationTaskResults) Value() (driver.Value, error) {
	if r == nil {
		r = VerificationTaskResults{}
	}
	return jsonValue([]VerificationTaskResult(r), "verification task results")
}

// Scan implements sql.Scanner.
func (r *VerificationTaskResults) Scan(value interface{}) error {
	return scanJSON(value, (*[]VerificationTaskResult)(r), "verification task results")
}

// BatchVerificationTask re-verifies every item of a roster in the background.
type BatchVerificationTask struct {
	ID           string                  `db:"id" json:"id"`
	RosterID     string                  `db:"roster_id" json:"roster_id"`
	Status       VerificationTaskStatus  `db:"status" json:"status"`
	Total        int                     `db:"total" json:"total"`
	Processed    int                     `db:"processed" json:"processed"`
	Verified     int                     `db:"verified" json:"verified"`
	NeedsReview  int                     `db:"needs_review" json:"needs_review"`
	Failed       int                     `db:"failed" json:"failed"`
	Results      VerificationTaskResults `db:"results" json:"results"`
	ErrorMessage *string                 `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string                  `db:"created_by" json:"created_by"`
	CreatedAt    time.Time               `db:"created_at" json:"created_at"`
	StartedAt    *time.Time              `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time              `db:"finished_at" json:"finished_at,omitempty"`
}

// Progress returns completion as a 0-100 percentage.
func (t *BatchVerificationTask) Progress() int {
	if t.Total <= 0 {
		if t.Status.Finished() {
			return 100
		}
		return 0
	}
	return t.Processed * 100 / t.Total
}
