package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/middleware"
	"github.com/noah-isme/scholarship-api/internal/service"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

type quotaService interface {
	Quota(ctx context.Context, configurationID string, query dto.QuotaQuery) (*dto.QuotaResponse, error)
	Summary(ctx context.Context, configurationID string, academicYear int, semester *int) (*dto.QuotaSummaryResponse, error)
}

// QuotaHandler exposes quota capacity and usage.
type QuotaHandler struct {
	quota quotaService
}

// NewQuotaHandler constructs the handler.
func NewQuotaHandler(quota *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// Quota godoc
// @Summary Quota and live usage for one sub-type
// @Tags Quota
// @Produce json
// @Param id path string true "Configuration ID"
// @Param subType query string true "Sub-type"
// @Param academicYear query int false "Academic year"
// @Param semester query int false "Semester"
// @Success 200 {object} response.Envelope
// @Router /configurations/{id}/quota [get]
func (h *QuotaHandler) Quota(c *gin.Context) {
	year, ok := queryInt(c, "academicYear")
	if !ok {
		return
	}
	semester, ok := queryInt(c, "semester")
	if !ok {
		return
	}
	query := dto.QuotaQuery{SubType: c.Query("subType"), Semester: semester}
	if year != nil {
		query.AcademicYear = *year
	}
	resp, err := h.quota.Quota(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Summary godoc
// @Summary Quota usage for every sub-type of a configuration
// @Tags Quota
// @Produce json
// @Param id path string true "Configuration ID"
// @Param academicYear query int false "Academic year"
// @Param semester query int false "Semester"
// @Success 200 {object} response.Envelope
// @Router /configurations/{id}/quota/summary [get]
func (h *QuotaHandler) Summary(c *gin.Context) {
	year, ok := queryInt(c, "academicYear")
	if !ok {
		return
	}
	semester, ok := queryInt(c, "semester")
	if !ok {
		return
	}
	academicYear := 0
	if year != nil {
		academicYear = *year
	}
	resp, err := h.quota.Summary(c.Request.Context(), c.Param("id"), academicYear, semester)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, resp.FromCache)
	response.JSON(c, http.StatusOK, resp, nil, middleware.ExtractMeta(c))
}
