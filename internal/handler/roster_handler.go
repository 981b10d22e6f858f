package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

type rosterGenerator interface {
	Generate(ctx context.Context, req dto.GenerateRosterRequest, actor models.Actor, opts service.GenerateOptions) (*dto.GenerateRosterResponse, error)
}

type rosterLedger interface {
	Detail(ctx context.Context, rosterID string) (*dto.RosterDetailResponse, error)
	List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, *models.Pagination, error)
	Items(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error)
	Lock(ctx context.Context, rosterID string, req dto.LockRosterRequest, actor models.Actor) (*models.PaymentRoster, error)
	Unlock(ctx context.Context, rosterID string, req dto.UnlockRosterRequest, actor models.Actor) (*models.PaymentRoster, error)
	MarkFailed(ctx context.Context, rosterID string, req dto.FailRosterRequest, actor models.Actor) (*models.PaymentRoster, error)
	UpdateItemBankStatus(ctx context.Context, rosterID, itemID string, req dto.BankStatusRequest, actor models.Actor) (*models.PaymentRosterItem, error)
	ListAudit(ctx context.Context, query dto.AuditLogQuery) ([]models.RosterAuditLog, *models.Pagination, error)
}

type rosterExporter interface {
	Export(ctx context.Context, rosterID string, format service.ExportFormat, actor models.Actor) (*dto.RosterExport, error)
}

type verificationTasks interface {
	CreateTask(ctx context.Context, rosterID string, actor models.Actor) (*dto.VerificationTaskResponse, error)
	GetStatus(ctx context.Context, id string) (*dto.VerificationTaskResponse, error)
	Cancel(ctx context.Context, id string, actor models.Actor) (*dto.VerificationTaskResponse, error)
}

// RosterHandler exposes roster generation, lifecycle, export and audit endpoints.
type RosterHandler struct {
	generator rosterGenerator
	ledger    rosterLedger
	exporter  rosterExporter
	tasks     verificationTasks
}

// NewRosterHandler constructs the handler.
func NewRosterHandler(generator *service.RosterGeneratorService, ledger *service.RosterLedgerService, exporter *service.RosterExportService, tasks *service.VerificationTaskService) *RosterHandler {
	return &RosterHandler{generator: generator, ledger: ledger, exporter: exporter, tasks: tasks}
}

// Generate godoc
// @Summary Generate a payment roster for a period
// @Description Dry runs return the computed plan without persisting a roster.
// @Tags Rosters
// @Accept json
// @Produce json
// @Param payload body dto.GenerateRosterRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rosters/generate [post]
func (h *RosterHandler) Generate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.GenerateRosterRequest
	if !bindJSON(c, &req) {
		return
	}
	trigger := models.TriggerManual
	if req.DryRun {
		trigger = models.TriggerDryRun
	}
	resp, err := h.generator.Generate(c.Request.Context(), req, actor, service.GenerateOptions{Trigger: trigger})
	if err != nil {
		response.Error(c, err)
		return
	}
	if resp.DryRun {
		response.JSON(c, http.StatusOK, resp, nil)
		return
	}
	response.Created(c, resp)
}

// List godoc
// @Summary List rosters
// @Tags Rosters
// @Produce json
// @Param configurationId query string false "Configuration ID"
// @Param periodLabel query string false "Period label"
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /rosters [get]
func (h *RosterHandler) List(c *gin.Context) {
	filter := models.RosterFilter{
		ConfigurationID: c.Query("configurationId"),
		PeriodLabel:     c.Query("periodLabel"),
	}
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Status = append(filter.Status, models.RosterStatus(raw))
		}
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	rosters, pagination, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rosters, pagination)
}

// Get godoc
// @Summary Get roster with item count
// @Tags Rosters
// @Produce json
// @Param id path string true "Roster ID"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id} [get]
func (h *RosterHandler) Get(c *gin.Context) {
	detail, err := h.ledger.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Items godoc
// @Summary List roster items
// @Tags Rosters
// @Produce json
// @Param id path string true "Roster ID"
// @Param includedOnly query bool false "Only included items"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id}/items [get]
func (h *RosterHandler) Items(c *gin.Context) {
	includedOnly := c.Query("includedOnly") == "true"
	items, err := h.ledger.Items(c.Request.Context(), c.Param("id"), includedOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Lock godoc
// @Summary Lock a completed roster
// @Tags Rosters
// @Accept json
// @Produce json
// @Param id path string true "Roster ID"
// @Param payload body dto.LockRosterRequest false "Lock note"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id}/lock [post]
func (h *RosterHandler) Lock(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.LockRosterRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	roster, err := h.ledger.Lock(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Unlock godoc
// @Summary Unlock a locked roster
// @Tags Rosters
// @Accept json
// @Produce json
// @Param id path string true "Roster ID"
// @Param payload body dto.UnlockRosterRequest true "Unlock reason"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id}/unlock [post]
func (h *RosterHandler) Unlock(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UnlockRosterRequest
	if !bindJSON(c, &req) {
		return
	}
	roster, err := h.ledger.Unlock(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Fail godoc
// @Summary Mark a roster failed, cancelling an in-flight generation
// @Tags Rosters
// @Accept json
// @Produce json
// @Param id path string true "Roster ID"
// @Param payload body dto.FailRosterRequest true "Failure reason"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id}/fail [post]
func (h *RosterHandler) Fail(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.FailRosterRequest
	if !bindJSON(c, &req) {
		return
	}
	roster, err := h.ledger.MarkFailed(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Export godoc
// @Summary Download the disbursement file
// @Tags Rosters
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Roster ID"
// @Param format query string false "xlsx, csv or pdf"
// @Success 200 {file} file
// @Router /rosters/{id}/export [get]
func (h *RosterHandler) Export(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatXLSX))))
	out, err := h.exporter.Export(c.Request.Context(), c.Param("id"), format, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.FileName, out.ContentType, out.Content)
}

// UpdateBankStatus godoc
// @Summary Record manual bank detail review for an item
// @Tags Rosters
// @Accept json
// @Produce json
// @Param id path string true "Roster ID"
// @Param itemId path string true "Item ID"
// @Param payload body dto.BankStatusRequest true "Bank status"
// @Success 200 {object} response.Envelope
// @Router /rosters/{id}/items/{itemId}/bank-status [patch]
func (h *RosterHandler) UpdateBankStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.BankStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.ledger.UpdateItemBankStatus(c.Request.Context(), c.Param("id"), c.Param("itemId"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// ListAudit godoc
// @Summary Query the roster audit trail
// @Tags Audit
// @Produce json
// @Param rosterId query string false "Roster ID"
// @Param action query string false "Action"
// @Param level query string false "Level"
// @Param actorId query string false "Actor ID"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /roster-audit-logs [get]
func (h *RosterHandler) ListAudit(c *gin.Context) {
	var query dto.AuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid audit query"))
		return
	}
	entries, pagination, err := h.ledger.ListAudit(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// CreateVerificationTask godoc
// @Summary Re-verify every included student of a roster in the background
// @Tags Verification
// @Produce json
// @Param id path string true "Roster ID"
// @Success 202 {object} response.Envelope
// @Router /rosters/{id}/verification-tasks [post]
func (h *RosterHandler) CreateVerificationTask(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, task)
}

// GetVerificationTask godoc
// @Summary Verification task progress
// @Tags Verification
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /verification-tasks/{id} [get]
func (h *RosterHandler) GetVerificationTask(c *gin.Context) {
	task, err := h.tasks.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// CancelVerificationTask godoc
// @Summary Cancel a pending or running verification task
// @Tags Verification
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /verification-tasks/{id}/cancel [post]
func (h *RosterHandler) CancelVerificationTask(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	task, err := h.tasks.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}
