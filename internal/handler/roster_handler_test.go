package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/dto"
	internalmiddleware "github.com/noah-isme/scholarship-api/internal/middleware"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type generatorMock struct {
	req  dto.GenerateRosterRequest
	opts service.GenerateOptions
	err  error
}

func (m *generatorMock) Generate(ctx context.Context, req dto.GenerateRosterRequest, actor models.Actor, opts service.GenerateOptions) (*dto.GenerateRosterResponse, error) {
	m.req, m.opts = req, opts
	if m.err != nil {
		return nil, m.err
	}
	if req.DryRun {
		return &dto.GenerateRosterResponse{Plan: &dto.RosterPlan{PeriodLabel: req.PeriodLabel}, DryRun: true}, nil
	}
	return &dto.GenerateRosterResponse{Roster: &models.PaymentRoster{ID: "roster-1", PeriodLabel: req.PeriodLabel}}, nil
}

type ledgerMock struct {
	lockReq    *dto.LockRosterRequest
	auditQuery dto.AuditLogQuery
	filter     models.RosterFilter
	actor      models.Actor
}

func (m *ledgerMock) Detail(ctx context.Context, rosterID string) (*dto.RosterDetailResponse, error) {
	if rosterID == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "roster not found")
	}
	return &dto.RosterDetailResponse{Roster: &models.PaymentRoster{ID: rosterID}, ItemCount: 2}, nil
}

func (m *ledgerMock) List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, *models.Pagination, error) {
	m.filter = filter
	return []models.PaymentRoster{{ID: "roster-1"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *ledgerMock) Items(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error) {
	return []models.PaymentRosterItem{{ID: "item-1", IsIncluded: true}}, nil
}

func (m *ledgerMock) Lock(ctx context.Context, rosterID string, req dto.LockRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	m.lockReq = &req
	m.actor = actor
	return &models.PaymentRoster{ID: rosterID, Status: models.RosterStatusLocked}, nil
}

func (m *ledgerMock) Unlock(ctx context.Context, rosterID string, req dto.UnlockRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	return &models.PaymentRoster{ID: rosterID, Status: models.RosterStatusCompleted}, nil
}

func (m *ledgerMock) MarkFailed(ctx context.Context, rosterID string, req dto.FailRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	return &models.PaymentRoster{ID: rosterID, Status: models.RosterStatusFailed}, nil
}

func (m *ledgerMock) UpdateItemBankStatus(ctx context.Context, rosterID, itemID string, req dto.BankStatusRequest, actor models.Actor) (*models.PaymentRosterItem, error) {
	return &models.PaymentRosterItem{ID: itemID, BankVerificationStatus: req.Status}, nil
}

func (m *ledgerMock) ListAudit(ctx context.Context, query dto.AuditLogQuery) ([]models.RosterAuditLog, *models.Pagination, error) {
	m.auditQuery = query
	return []models.RosterAuditLog{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

type exporterMock struct {
	format service.ExportFormat
}

func (m *exporterMock) Export(ctx context.Context, rosterID string, format service.ExportFormat, actor models.Actor) (*dto.RosterExport, error) {
	m.format = format
	return &dto.RosterExport{FileName: "RST-2025-01-ABCD.csv", ContentType: "text/csv", Content: []byte("No,Amount\n")}, nil
}

type tasksMock struct{}

func (tasksMock) CreateTask(ctx context.Context, rosterID string, actor models.Actor) (*dto.VerificationTaskResponse, error) {
	return &dto.VerificationTaskResponse{ID: "task-1", RosterID: rosterID, Status: models.VerificationTaskPending}, nil
}

func (tasksMock) GetStatus(ctx context.Context, id string) (*dto.VerificationTaskResponse, error) {
	return &dto.VerificationTaskResponse{ID: id, Status: models.VerificationTaskProcessing, Progress: 50}, nil
}

func (tasksMock) Cancel(ctx context.Context, id string, actor models.Actor) (*dto.VerificationTaskResponse, error) {
	return &dto.VerificationTaskResponse{ID: id, Status: models.VerificationTaskCancelled}, nil
}

func withClaims(userID string, role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: role})
		c.Next()
	}
}

type rosterRouterFixture struct {
	router    *gin.Engine
	generator *generatorMock
	ledger    *ledgerMock
	exporter  *exporterMock
}

func newRosterRouter(role models.UserRole) rosterRouterFixture {
	gin.SetMode(gin.TestMode)
	f := rosterRouterFixture{generator: &generatorMock{}, ledger: &ledgerMock{}, exporter: &exporterMock{}}
	h := &RosterHandler{generator: f.generator, ledger: f.ledger, exporter: f.exporter, tasks: tasksMock{}}
	r := gin.New()
	if role != "" {
		r.Use(withClaims("user-1", role))
	}
	r.POST("/rosters/generate", h.Generate)
	r.GET("/rosters", h.List)
	r.GET("/rosters/:id", h.Get)
	r.GET("/rosters/:id/items", h.Items)
	r.POST("/rosters/:id/lock", h.Lock)
	r.POST("/rosters/:id/unlock", h.Unlock)
	r.GET("/rosters/:id/export", h.Export)
	r.PATCH("/rosters/:id/items/:itemId/bank-status", h.UpdateBankStatus)
	r.GET("/roster-audit-logs", h.ListAudit)
	r.POST("/rosters/:id/verification-tasks", h.CreateVerificationTask)
	r.GET("/verification-tasks/:id", h.GetVerificationTask)
	r.POST("/verification-tasks/:id/cancel", h.CancelVerificationTask)
	f.router = r
	return f
}

func (f rosterRouterFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestRosterGenerateCreatesAndDryRuns(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)

	w := f.do(http.MethodPost, "/rosters/generate", `{"configurationId":"cfg-1","periodLabel":"2025-03"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.TriggerManual, f.generator.opts.Trigger)
	assert.Equal(t, "2025-03", f.generator.req.PeriodLabel)

	w = f.do(http.MethodPost, "/rosters/generate", `{"configurationId":"cfg-1","periodLabel":"2025-03","dryRun":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TriggerDryRun, f.generator.opts.Trigger)
	assert.Contains(t, w.Body.String(), `"dryRun":true`)
}

func TestRosterGenerateConflictAndBadBody(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)
	f.generator.err = appErrors.Clone(appErrors.ErrRosterAlreadyExists, "roster RST-2025-03-ABCD already exists")

	w := f.do(http.MethodPost, "/rosters/generate", `{"configurationId":"cfg-1","periodLabel":"2025-03"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ROSTER_ALREADY_EXISTS", errorCode(t, w))

	w = f.do(http.MethodPost, "/rosters/generate", `{"configurationId":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestRosterRoutesRequireClaims(t *testing.T) {
	f := newRosterRouter("")
	w := f.do(http.MethodPost, "/rosters/roster-1/lock", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRosterLockAcceptsEmptyBody(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)
	w := f.do(http.MethodPost, "/rosters/roster-1/lock", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.ledger.lockReq)
	assert.Equal(t, models.Actor{ID: "user-1", Role: models.RoleAdmin}, f.ledger.actor)

	w = f.do(http.MethodPost, "/rosters/roster-1/lock", `{"note":"approved by finance"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved by finance", f.ledger.lockReq.Note)
}

func TestRosterExportStreamsAttachment(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)
	w := f.do(http.MethodGet, "/rosters/roster-1/export?format=CSV", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, f.exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="RST-2025-01-ABCD.csv"`)
	assert.Equal(t, "No,Amount\n", w.Body.String())

	f.do(http.MethodGet, "/rosters/roster-1/export", "")
	assert.Equal(t, service.ExportFormatXLSX, f.exporter.format)
}

func TestRosterListAndAuditQueries(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)

	w := f.do(http.MethodGet, "/rosters?configurationId=cfg-1&status=completed,locked&page=2&pageSize=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RosterStatus{models.RosterStatusCompleted, models.RosterStatusLocked}, f.ledger.filter.Status)
	assert.Equal(t, 2, f.ledger.filter.Page)
	assert.Contains(t, w.Body.String(), `"total_count":1`)

	w = f.do(http.MethodGet, "/roster-audit-logs?rosterId=roster-1&action=lock&level=info&page=1&pageSize=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "roster-1", f.ledger.auditQuery.RosterID)
	assert.Equal(t, "lock", f.ledger.auditQuery.Action)
	assert.Equal(t, 10, f.ledger.auditQuery.PageSize)

	w = f.do(http.MethodGet, "/roster-audit-logs?page=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/rosters/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRosterBankStatusAndVerificationTasks(t *testing.T) {
	f := newRosterRouter(models.RoleAdmin)

	w := f.do(http.MethodPatch, "/rosters/roster-1/items/item-1/bank-status", `{"status":"verified"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bank_verification_status":"verified"`)

	w = f.do(http.MethodPost, "/rosters/roster-1/verification-tasks", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"task-1"`)

	w = f.do(http.MethodGet, "/verification-tasks/task-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"progress":50`)

	w = f.do(http.MethodPost, "/verification-tasks/task-1/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
}

func TestRosterUnlockRequiresRoleMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &RosterHandler{ledger: &ledgerMock{}}
	r := gin.New()
	r.Use(withClaims("admin-1", models.RoleAdmin))
	r.POST("/rosters/:id/unlock", internalmiddleware.RequireRoles(models.RoleSuperAdmin), h.Unlock)

	req := httptest.NewRequest(http.MethodPost, "/rosters/roster-1/unlock", bytes.NewReader([]byte(`{"reason":"bank file rejected"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
