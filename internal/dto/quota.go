package dto

import "github.com/noah-isme/scholarship-api/internal/models"

// QuotaQuery mirrors GET /configurations/:id/quota query parameters.
type QuotaQuery struct {
	SubType      string
	AcademicYear int
	Semester     *int
}

// QuotaResponse exposes resolved capacity and live usage for one key.
type QuotaResponse struct {
	ConfigurationID string             `json:"configurationId"`
	SubType         string             `json:"subType"`
	Quota           models.QuotaResult `json:"quota"`
	Usage           models.QuotaUsage  `json:"usage"`
	UsagePercentage *float64           `json:"usagePercentage"`
}

// QuotaSummaryResponse aggregates quota usage for every sub-type of a configuration.
type QuotaSummaryResponse struct {
	ConfigurationID string           `json:"configurationId"`
	Mode            models.QuotaMode `json:"mode"`
	SubTypes        []QuotaResponse  `json:"subTypes"`
	FromCache       bool             `json:"-"`
}
