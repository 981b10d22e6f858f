package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/models"
)

func TestMetricsServicePipelineCollectors(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordVerification(models.VerificationAPIError)
	metrics.RecordVerification(models.VerificationAPIError)
	metrics.RecordVerification(models.VerificationVerified)
	metrics.ObserveGeneration(models.TriggerManual, "completed", 2*time.Second, 4, 1)
	metrics.RecordScheduleRun(models.ScheduleRunSkipped)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `student_verifications_total{status="api_error"} 2`))
	assert.True(t, strings.Contains(body, `roster_items_total{included="true"} 4`))
	assert.True(t, strings.Contains(body, `roster_schedule_runs_total{result="skipped"} 1`))
	assert.True(t, strings.Contains(body, "roster_generation_duration_seconds"))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordVerification(models.VerificationVerified)
	metrics.ObserveGeneration(models.TriggerScheduled, "failed", time.Second, 0, 0)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
