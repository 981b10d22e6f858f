package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type schedulerMock struct {
	created  dto.CreateScheduleRequest
	statuses []models.ScheduleStatus
	status   dto.UpdateScheduleStatusRequest
	runActor models.Actor
}

func (m *schedulerMock) Create(ctx context.Context, req dto.CreateScheduleRequest, actor models.Actor) (*models.RosterSchedule, error) {
	m.created = req
	if req.CronExpression == "bad" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCron, "invalid cron expression \"bad\"")
	}
	return &models.RosterSchedule{ID: "sched-1", Name: req.Name, CronExpression: req.CronExpression, Status: models.ScheduleStatusActive}, nil
}

func (m *schedulerMock) Get(ctx context.Context, id string) (*models.RosterSchedule, error) {
	return &models.RosterSchedule{ID: id}, nil
}

func (m *schedulerMock) List(ctx context.Context, statuses []models.ScheduleStatus) ([]models.RosterSchedule, error) {
	m.statuses = statuses
	return []models.RosterSchedule{{ID: "sched-1"}}, nil
}

func (m *schedulerMock) SetStatus(ctx context.Context, id string, req dto.UpdateScheduleStatusRequest, actor models.Actor) (*models.RosterSchedule, error) {
	m.status = req
	return &models.RosterSchedule{ID: id, Status: req.Status}, nil
}

func (m *schedulerMock) RunNow(ctx context.Context, id string, actor models.Actor) (*dto.ScheduleRunResponse, error) {
	m.runActor = actor
	return &dto.ScheduleRunResponse{ScheduleID: id, Result: models.ScheduleRunSuccess}, nil
}

func newScheduleRouter() (*gin.Engine, *schedulerMock) {
	gin.SetMode(gin.TestMode)
	mock := &schedulerMock{}
	h := &RosterScheduleHandler{scheduler: mock}
	r := gin.New()
	r.Use(withClaims("admin-1", models.RoleAdmin))
	r.POST("/roster-schedules", h.Create)
	r.GET("/roster-schedules", h.List)
	r.GET("/roster-schedules/:id", h.Get)
	r.PATCH("/roster-schedules/:id/status", h.UpdateStatus)
	r.POST("/roster-schedules/:id/run", h.RunNow)
	return r, mock
}

func TestScheduleCreate(t *testing.T) {
	r, mock := newScheduleRouter()
	w := serve(r, http.MethodPost, "/roster-schedules", `{"name":"Monthly NSTC","configurationId":"cfg-1","rosterCycle":"monthly","cronExpression":"0 2 1 * *","autoLock":true}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0 2 1 * *", mock.created.CronExpression)
	assert.True(t, mock.created.AutoLock)

	w = serve(r, http.MethodPost, "/roster-schedules", `{"name":"Broken","configurationId":"cfg-1","rosterCycle":"monthly","cronExpression":"bad"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CRON_EXPRESSION", errorCode(t, w))
}

func TestScheduleListStatusAndRun(t *testing.T) {
	r, mock := newScheduleRouter()

	w := serve(r, http.MethodGet, "/roster-schedules?status=active,error", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.ScheduleStatus{models.ScheduleStatusActive, models.ScheduleStatusError}, mock.statuses)

	w = serve(r, http.MethodPatch, "/roster-schedules/sched-1/status", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ScheduleStatusPaused, mock.status.Status)

	w = serve(r, http.MethodPost, "/roster-schedules/sched-1/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", mock.runActor.ID)
	assert.Contains(t, w.Body.String(), `"success"`)

	w = serve(r, http.MethodGet, "/roster-schedules/sched-1", "")
	require.Equal(t, http.StatusOK, w.Code)
}
