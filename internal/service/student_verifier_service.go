package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/pkg/registry"
)

type registryLookup interface {
	Lookup(ctx context.Context, req registry.LookupRequest) (*registry.LookupResult, error)
}

// VerificationResult is the classified registry answer for one student.
type VerificationResult struct {
	Status      models.VerificationStatus `json:"status"`
	Message     string                    `json:"message"`
	RawResponse string                    `json:"rawResponse,omitempty"`
}

// StudentVerifier re-confirms enrollment against the external registry. It never
// returns an error: failures to reach or understand the registry become api_error.
type StudentVerifier struct {
	client  registryLookup
	metrics *MetricsService
	logger  *zap.Logger
}

// NewStudentVerifier constructs a verifier. metrics may be nil.
func NewStudentVerifier(client registryLookup, metrics *MetricsService, logger *zap.Logger) *StudentVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentVerifier{client: client, metrics: metrics, logger: logger}
}

// Verify asks the registry for the student's current status.
func (v *StudentVerifier) Verify(ctx context.Context, studentID, name string) VerificationResult {
	result := v.verify(ctx, studentID, name)
	if v.metrics != nil {
		v.metrics.RecordVerification(result.Status)
	}
	return result
}

func (v *StudentVerifier) verify(ctx context.Context, studentID, name string) VerificationResult {
	resp, err := v.client.Lookup(ctx, registry.LookupRequest{StudentID: studentID, Name: name})
	raw := ""
	if resp != nil {
		raw = string(resp.Raw)
	}
	if err != nil {
		v.logger.Warn("registry lookup failed", zap.String("student_id", studentID), zap.Error(err))
		return VerificationResult{Status: models.VerificationAPIError, Message: err.Error(), RawResponse: raw}
	}

	status, ok := classifyRegistryStatus(resp.Response.Status)
	message := resp.Response.Message
	if status == models.VerificationNotFound && message == "" {
		message = "student not found in registry"
	}
	if !ok {
		v.logger.Warn("registry returned unknown status", zap.String("student_id", studentID), zap.String("status", resp.Response.Status))
		if message == "" {
			message = "unrecognised registry status " + resp.Response.Status
		}
	}
	return VerificationResult{Status: status, Message: message, RawResponse: raw}
}

// classifyRegistryStatus maps registry vocabulary onto verification statuses.
// Unknown values are treated as api_error so they reach manual review.
func classifyRegistryStatus(status string) (models.VerificationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "verified", "enrolled", "active":
		return models.VerificationVerified, true
	case "graduated":
		return models.VerificationGraduated, true
	case "suspended", "on_leave":
		return models.VerificationSuspended, true
	case "withdrawn", "dropped":
		return models.VerificationWithdrawn, true
	case "not_found":
		return models.VerificationNotFound, true
	default:
		return models.VerificationAPIError, false
	}
}
