package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

type rosterScheduler interface {
	Create(ctx context.Context, req dto.CreateScheduleRequest, actor models.Actor) (*models.RosterSchedule, error)
	Get(ctx context.Context, id string) (*models.RosterSchedule, error)
	List(ctx context.Context, statuses []models.ScheduleStatus) ([]models.RosterSchedule, error)
	SetStatus(ctx context.Context, id string, req dto.UpdateScheduleStatusRequest, actor models.Actor) (*models.RosterSchedule, error)
	RunNow(ctx context.Context, id string, actor models.Actor) (*dto.ScheduleRunResponse, error)
}

// RosterScheduleHandler exposes cron schedule management.
type RosterScheduleHandler struct {
	scheduler rosterScheduler
}

// NewRosterScheduleHandler constructs the handler.
func NewRosterScheduleHandler(scheduler *service.RosterSchedulerService) *RosterScheduleHandler {
	return &RosterScheduleHandler{scheduler: scheduler}
}

// Create godoc
// @Summary Create a roster generation schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Router /roster-schedules [post]
func (h *RosterScheduleHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	schedule, err := h.scheduler.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

// List godoc
// @Summary List schedules
// @Tags Schedules
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /roster-schedules [get]
func (h *RosterScheduleHandler) List(c *gin.Context) {
	var statuses []models.ScheduleStatus
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, models.ScheduleStatus(raw))
		}
	}
	schedules, err := h.scheduler.List(c.Request.Context(), statuses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, nil)
}

// Get godoc
// @Summary Get schedule
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /roster-schedules/{id} [get]
func (h *RosterScheduleHandler) Get(c *gin.Context) {
	schedule, err := h.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// UpdateStatus godoc
// @Summary Pause, resume or disable a schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.UpdateScheduleStatusRequest true "Status"
// @Success 200 {object} response.Envelope
// @Router /roster-schedules/{id}/status [patch]
func (h *RosterScheduleHandler) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdateScheduleStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	schedule, err := h.scheduler.SetStatus(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// RunNow godoc
// @Summary Run a schedule immediately
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /roster-schedules/{id}/run [post]
func (h *RosterScheduleHandler) RunNow(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	result, err := h.scheduler.RunNow(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
