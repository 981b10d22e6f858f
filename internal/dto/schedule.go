package dto

import "github.com/noah-isme/scholarship-api/internal/models"

// CreateScheduleRequest captures POST /roster-schedules payload.
type CreateScheduleRequest struct {
	ConfigurationID     string             `json:"configurationId" validate:"required"`
	Name                string             `json:"name" validate:"required,max=120"`
	RosterCycle         models.RosterCycle `json:"rosterCycle" validate:"required,oneof=monthly half_yearly yearly"`
	CronExpression      string             `json:"cronExpression" validate:"required"`
	AutoLock            bool               `json:"autoLock"`
	VerificationEnabled bool               `json:"verificationEnabled"`
	NotifyOnSuccess     bool               `json:"notifyOnSuccess"`
	NotifyOnFailure     bool               `json:"notifyOnFailure"`
	NotifyEmails        []string           `json:"notifyEmails" validate:"omitempty,dive,email"`
	MaxRetries          *int               `json:"maxRetries,omitempty" validate:"omitempty,min=0,max=10"`
	RetryDelaySeconds   *int               `json:"retryDelaySeconds,omitempty" validate:"omitempty,min=0,max=3600"`
}

// UpdateScheduleStatusRequest captures PATCH /roster-schedules/:id/status payload.
type UpdateScheduleStatusRequest struct {
	Status models.ScheduleStatus `json:"status" validate:"required,oneof=active paused disabled"`
}

// ScheduleRunResponse reports the outcome of a manual run.
type ScheduleRunResponse struct {
	ScheduleID string                   `json:"scheduleId"`
	Result     models.ScheduleRunResult `json:"result"`
	RosterID   *string                  `json:"rosterId,omitempty"`
	Error      *string                  `json:"error,omitempty"`
}
