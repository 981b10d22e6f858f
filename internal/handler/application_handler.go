package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

type applicationService interface {
	Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor models.Actor) (*models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
	SetRankPosition(ctx context.Context, id string, req dto.SetRankRequest) (*models.Application, error)
}

type reviewService interface {
	SubmitReview(ctx context.Context, applicationID, reviewerID string, role models.ReviewerRole, req dto.SubmitReviewRequest) (*models.ReviewRecord, error)
	ReviewableSubTypes(ctx context.Context, applicationID string, role models.ReviewerRole) ([]string, error)
	CumulativeStatus(ctx context.Context, applicationID string) ([]models.SubTypeStatus, error)
}

// ApplicationHandler exposes application intake and review endpoints.
type ApplicationHandler struct {
	apps    applicationService
	reviews reviewService
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(apps *service.ApplicationService, reviews *service.ReviewAuthorityService) *ApplicationHandler {
	return &ApplicationHandler{apps: apps, reviews: reviews}
}

// Submit godoc
// @Summary Submit a scholarship application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SubmitApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	app, err := h.apps.Submit(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// Get godoc
// @Summary Get application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, ok := h.visibleApplication(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// visibleApplication loads the path application and writes 403 when the
// caller is a student who does not own it.
func (h *ApplicationHandler) visibleApplication(c *gin.Context) (*models.Application, bool) {
	actor, ok := requireActor(c)
	if !ok {
		return nil, false
	}
	app, err := h.apps.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !app.VisibleTo(actor) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another student"))
		return nil, false
	}
	return app, true
}

// SetRank godoc
// @Summary Set or clear the ranking position
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.SetRankRequest true "Rank payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/rank [patch]
func (h *ApplicationHandler) SetRank(c *gin.Context) {
	var req dto.SetRankRequest
	if !bindJSON(c, &req) {
		return
	}
	app, err := h.apps.SetRankPosition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// SubmitReview godoc
// @Summary Submit per-sub-type recommendations
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.SubmitReviewRequest true "Review payload"
// @Success 201 {object} response.Envelope
// @Router /applications/{id}/reviews [post]
func (h *ApplicationHandler) SubmitReview(c *gin.Context) {
	actor, role, ok := reviewerFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	record, err := h.reviews.SubmitReview(c.Request.Context(), c.Param("id"), actor.ID, role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ReviewableSubTypes godoc
// @Summary List sub-types the caller may still review
// @Tags Reviews
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/reviewable-sub-types [get]
func (h *ApplicationHandler) ReviewableSubTypes(c *gin.Context) {
	_, role, ok := reviewerFromContext(c)
	if !ok {
		return
	}
	subTypes, err := h.reviews.ReviewableSubTypes(c.Request.Context(), c.Param("id"), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ReviewableSubTypesResponse{
		ApplicationID: c.Param("id"),
		Role:          role,
		SubTypes:      subTypes,
	}, nil)
}

// SubTypeStatus godoc
// @Summary Cumulative decision per sub-type
// @Tags Reviews
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/sub-type-status [get]
func (h *ApplicationHandler) SubTypeStatus(c *gin.Context) {
	app, ok := h.visibleApplication(c)
	if !ok {
		return
	}
	statuses, err := h.reviews.CumulativeStatus(c.Request.Context(), app.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

func reviewerFromContext(c *gin.Context) (models.Actor, models.ReviewerRole, bool) {
	actor, ok := requireActor(c)
	if !ok {
		return actor, "", false
	}
	role, ok := models.ReviewerRoleFor(actor.Role)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrReviewPermission, "role "+string(actor.Role)+" cannot review applications"))
		return actor, "", false
	}
	return actor, role, true
}
