package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/repository"
	"github.com/noah-isme/scholarship-api/pkg/database"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type rosterStore interface {
	LockPeriod(ctx context.Context, tx sqlx.ExtContext, configurationID, periodLabel string) error
	FindLatestByPeriod(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (*models.PaymentRoster, error)
	HasLocked(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.PaymentRoster, error)
	GetForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.PaymentRoster, error)
	List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, int, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from []models.RosterStatus, next models.RosterStatus, errorMessage *string) error
	UpdateSummary(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error
	SetLockState(ctx context.Context, exec sqlx.ExtContext, id string, status models.RosterStatus, lockedBy *string, lockedAt *time.Time) error
	InsertItems(ctx context.Context, exec sqlx.ExtContext, items []models.PaymentRosterItem) error
	CountItems(ctx context.Context, exec sqlx.ExtContext, rosterID string) (int, error)
	ListItems(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error)
	GetItem(ctx context.Context, exec sqlx.ExtContext, rosterID, itemID string) (*models.PaymentRosterItem, error)
	UpdateItemBankStatus(ctx context.Context, exec sqlx.ExtContext, item *models.PaymentRosterItem) error
}

type rosterAuditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RosterAuditLog) error
	List(ctx context.Context, filter models.RosterAuditFilter) ([]models.RosterAuditLog, int, error)
}

// CreateRosterParams describes a roster row about to be generated.
type CreateRosterParams struct {
	Configuration *models.ScholarshipConfiguration
	PeriodLabel   string
	AcademicYear  int
	Trigger       models.TriggerType
	Force         bool
	Actor         models.Actor
}

// generationRegistry tracks cancel functions of in-flight generations.
type generationRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newGenerationRegistry() *generationRegistry {
	return &generationRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *generationRegistry) track(rosterID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[rosterID] = cancel
}

func (r *generationRegistry) done(rosterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, rosterID)
}

func (r *generationRegistry) cancel(rosterID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[rosterID]
	delete(r.cancels, rosterID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RosterLedgerService owns the roster lifecycle and its audit trail.
type RosterLedgerService struct {
	rosters    rosterStore
	audits     rosterAuditStore
	tx         database.TxBeginner
	inflight   *generationRegistry
	validator  *validator.Validate
	logger     *zap.Logger
	codePrefix string
	now        func() time.Time
}

// NewRosterLedgerService constructs the ledger. tx may be nil in tests.
func NewRosterLedgerService(rosters rosterStore, audits rosterAuditStore, tx database.TxBeginner, codePrefix string, logger *zap.Logger) *RosterLedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codePrefix == "" {
		codePrefix = "RST"
	}
	return &RosterLedgerService{
		rosters:    rosters,
		audits:     audits,
		tx:         tx,
		inflight:   newGenerationRegistry(),
		validator:  validator.New(),
		logger:     logger,
		codePrefix: codePrefix,
		now:        time.Now,
	}
}

// Create checks for an existing roster and inserts a new draft row inside one
// transaction serialised per (configuration, period).
func (s *RosterLedgerService) Create(ctx context.Context, params CreateRosterParams) (*models.PaymentRoster, error) {
	cfg := params.Configuration
	roster := &models.PaymentRoster{
		ID:              uuid.NewString(),
		ConfigurationID: cfg.ID,
		PeriodLabel:     params.PeriodLabel,
		RosterCycle:     cfg.RosterCycle,
		AcademicYear:    params.AcademicYear,
		Status:          models.RosterStatusDraft,
		TriggerType:     params.Trigger,
		CreatedBy:       params.Actor.ID,
	}
	roster.RosterCode = s.rosterCode(params.PeriodLabel, roster.ID)

	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		if exec != nil {
			if err := s.rosters.LockPeriod(ctx, exec, cfg.ID, params.PeriodLabel); err != nil {
				return err
			}
		}
		existing, err := s.rosters.FindLatestByPeriod(ctx, exec, cfg.ID, params.PeriodLabel)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if existing != nil {
			if err := s.checkExisting(ctx, exec, existing, params.Force); err != nil {
				return err
			}
			roster.SupersedesRosterID = &existing.ID
			// A retry of a failed forced run stays forced so it does not collide
			// with the non-forced roster it was meant to supersede.
			if existing.Status == models.RosterStatusFailed {
				roster.IsForced = existing.IsForced
			} else {
				roster.IsForced = params.Force
			}
		}
		if err := s.rosters.Create(ctx, exec, roster); err != nil {
			if errors.Is(err, repository.ErrRosterPeriodTaken) {
				return appErrors.Clone(appErrors.ErrRosterAlreadyExists, fmt.Sprintf("roster for %s already exists", params.PeriodLabel))
			}
			return err
		}
		return s.audit(ctx, exec, roster.ID, models.AuditActionCreate, models.AuditLevelInfo, params.Actor,
			fmt.Sprintf("%s roster created for %s", params.Trigger, params.PeriodLabel), nil, roster, nil)
	})
	if err != nil {
		return nil, wrapLedgerError(err, "failed to create roster")
	}
	return roster, nil
}

func (s *RosterLedgerService) checkExisting(ctx context.Context, exec sqlx.ExtContext, existing *models.PaymentRoster, force bool) error {
	switch {
	case existing.Status == models.RosterStatusProcessing:
		return appErrors.Clone(appErrors.ErrRosterAlreadyExists, fmt.Sprintf("roster %s is still processing", existing.RosterCode))
	case existing.Status == models.RosterStatusFailed:
		return nil
	case !force:
		return appErrors.Clone(appErrors.ErrRosterAlreadyExists, fmt.Sprintf("roster %s already exists for %s", existing.RosterCode, existing.PeriodLabel))
	}
	locked, err := s.rosters.HasLocked(ctx, exec, existing.ConfigurationID, existing.PeriodLabel)
	if err != nil {
		return err
	}
	if locked {
		return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("a locked roster exists for %s; unlock it before regenerating", existing.PeriodLabel))
	}
	return nil
}

func (s *RosterLedgerService) rosterCode(period, id string) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 6 {
		short = short[:6]
	}
	return fmt.Sprintf("%s-%s-%s", s.codePrefix, period, short)
}

// Start moves a draft or failed roster to processing and registers cancel so
// an operator can abort the generation.
func (s *RosterLedgerService) Start(ctx context.Context, rosterID string, cancel context.CancelFunc) error {
	err := s.rosters.UpdateStatus(ctx, nil, rosterID, []models.RosterStatus{models.RosterStatusDraft, models.RosterStatusFailed}, models.RosterStatusProcessing, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrRosterModification, "roster cannot start processing from its current status")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start roster")
	}
	if cancel != nil {
		s.inflight.track(rosterID, cancel)
	}
	return nil
}

// Complete persists items and summary atomically. When the stored item count
// disagrees with the summary counts the write is rolled back, a diagnostic audit
// entry is recorded and the roster is failed instead. Any other error in the
// write also fails the roster so the period is not left processing.
func (s *RosterLedgerService) Complete(ctx context.Context, roster *models.PaymentRoster, items []models.PaymentRosterItem, actor models.Actor) error {
	defer s.inflight.done(roster.ID)
	var mismatch *countMismatch
	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		current, err := s.loadForUpdate(ctx, exec, roster.ID)
		if err != nil {
			return err
		}
		if current.Status != models.RosterStatusProcessing {
			return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("roster %s is %s, not processing", current.RosterCode, current.Status))
		}
		for i := range items {
			items[i].RosterID = roster.ID
		}
		if err := s.rosters.InsertItems(ctx, exec, items); err != nil {
			return err
		}
		stored, err := s.rosters.CountItems(ctx, exec, roster.ID)
		if err != nil {
			return err
		}
		if expected := roster.QualifiedCount + roster.DisqualifiedCount; stored != expected {
			mismatch = &countMismatch{stored: stored, qualified: roster.QualifiedCount, disqualified: roster.DisqualifiedCount}
			return mismatch
		}
		completedAt := s.now().UTC()
		roster.Status = models.RosterStatusCompleted
		roster.CompletedAt = &completedAt
		roster.ErrorMessage = nil
		if err := s.rosters.UpdateSummary(ctx, exec, roster); err != nil {
			return err
		}
		duration := roster.GenerationMeta.DurationMs
		return s.audit(ctx, exec, roster.ID, models.AuditActionStatusChange, models.AuditLevelInfo, actor,
			fmt.Sprintf("roster completed: %d qualified, %d disqualified", roster.QualifiedCount, roster.DisqualifiedCount),
			map[string]models.RosterStatus{"status": models.RosterStatusProcessing}, summaryValues(roster), &duration)
	})
	if mismatch != nil {
		s.logger.Error("roster item count mismatch", zap.String("roster_id", roster.ID), zap.Error(mismatch))
		if failErr := s.fail(ctx, roster.ID, mismatch.Error(), models.AuditLevelCritical, actor); failErr != nil {
			return failErr
		}
		roster.Status = models.RosterStatusFailed
		return appErrors.Wrap(mismatch, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "roster failed invariant check")
	}
	if err != nil {
		if appErrors.Is(err, appErrors.ErrRosterModification) {
			return err
		}
		reason := fmt.Sprintf("completion aborted: %v", err)
		s.logger.Error("roster completion failed", zap.String("roster_id", roster.ID), zap.Error(err))
		if failErr := s.fail(context.WithoutCancel(ctx), roster.ID, reason, models.AuditLevelError, actor); failErr != nil {
			s.logger.Error("failed to record roster failure", zap.String("roster_id", roster.ID), zap.Error(failErr))
		} else {
			roster.Status = models.RosterStatusFailed
		}
		return wrapLedgerError(err, "failed to complete roster")
	}
	return nil
}

type countMismatch struct {
	stored, qualified, disqualified int
}

func (e *countMismatch) Error() string {
	return fmt.Sprintf("item count %d does not equal qualified %d + disqualified %d", e.stored, e.qualified, e.disqualified)
}

// Fail records the reason and moves an unfinished roster to failed.
func (s *RosterLedgerService) Fail(ctx context.Context, rosterID, reason string, actor models.Actor) error {
	defer s.inflight.done(rosterID)
	return s.fail(ctx, rosterID, reason, models.AuditLevelError, actor)
}

// MarkFailed lets an operator abort a processing roster; in-flight
// verification calls are cancelled rather than awaited.
func (s *RosterLedgerService) MarkFailed(ctx context.Context, rosterID string, req dto.FailRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fail payload")
	}
	roster, err := s.Get(ctx, rosterID)
	if err != nil {
		return nil, err
	}
	if roster.Status != models.RosterStatusProcessing && roster.Status != models.RosterStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("roster %s is %s and cannot be failed", roster.RosterCode, roster.Status))
	}
	cancelled := s.inflight.cancel(rosterID)
	reason := "marked failed by operator: " + req.Reason
	if err := s.fail(ctx, rosterID, reason, models.AuditLevelWarning, actor); err != nil {
		return nil, err
	}
	s.logger.Warn("roster marked failed", zap.String("roster_id", rosterID), zap.String("actor_id", actor.ID), zap.Bool("generation_cancelled", cancelled))
	return s.Get(ctx, rosterID)
}

func (s *RosterLedgerService) fail(ctx context.Context, rosterID, reason string, level models.AuditLevel, actor models.Actor) error {
	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		if err := s.audit(ctx, exec, rosterID, models.AuditActionStatusChange, level, actor, reason, nil,
			map[string]models.RosterStatus{"status": models.RosterStatusFailed}, nil); err != nil {
			return err
		}
		return s.rosters.UpdateStatus(ctx, exec, rosterID,
			[]models.RosterStatus{models.RosterStatusDraft, models.RosterStatusProcessing}, models.RosterStatusFailed, &reason)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrRosterModification, "roster is no longer processing")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark roster failed")
	}
	return nil
}

// Lock freezes a completed roster.
func (s *RosterLedgerService) Lock(ctx context.Context, rosterID string, req dto.LockRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lock payload")
	}
	var locked *models.PaymentRoster
	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		roster, err := s.loadForUpdate(ctx, exec, rosterID)
		if err != nil {
			return err
		}
		if roster.Status == models.RosterStatusLocked {
			return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("roster %s is already locked", roster.RosterCode))
		}
		if !roster.Status.CanTransitionTo(models.RosterStatusLocked) {
			return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("roster %s is %s; only completed rosters can be locked", roster.RosterCode, roster.Status))
		}
		now := s.now().UTC()
		by := actor.ID
		if err := s.rosters.SetLockState(ctx, exec, roster.ID, models.RosterStatusLocked, &by, &now); err != nil {
			return err
		}
		message := "roster locked"
		if req.Note != "" {
			message += ": " + req.Note
		}
		before := map[string]interface{}{"status": roster.Status}
		roster.Status = models.RosterStatusLocked
		roster.LockedBy = &by
		roster.LockedAt = &now
		locked = roster
		return s.audit(ctx, exec, roster.ID, models.AuditActionLock, models.AuditLevelInfo, actor, message, before,
			map[string]interface{}{"status": roster.Status, "locked_by": by, "locked_at": now}, nil)
	})
	if err != nil {
		return nil, wrapLedgerError(err, "failed to lock roster")
	}
	return locked, nil
}

// Unlock returns a locked roster to completed. Only super administrators may
// unlock and a reason is always recorded.
func (s *RosterLedgerService) Unlock(ctx context.Context, rosterID string, req dto.UnlockRosterRequest, actor models.Actor) (*models.PaymentRoster, error) {
	if actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only super administrators can unlock rosters")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "an unlock reason is required")
	}
	var unlocked *models.PaymentRoster
	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		roster, err := s.loadForUpdate(ctx, exec, rosterID)
		if err != nil {
			return err
		}
		if roster.Status != models.RosterStatusLocked {
			return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("roster %s is not locked", roster.RosterCode))
		}
		if err := s.rosters.SetLockState(ctx, exec, roster.ID, models.RosterStatusCompleted, nil, nil); err != nil {
			return err
		}
		before := map[string]interface{}{"status": roster.Status, "locked_by": roster.LockedBy, "locked_at": roster.LockedAt}
		roster.Status = models.RosterStatusCompleted
		roster.LockedBy = nil
		roster.LockedAt = nil
		unlocked = roster
		return s.audit(ctx, exec, roster.ID, models.AuditActionUnlock, models.AuditLevelWarning, actor,
			"roster unlocked: "+req.Reason, before, map[string]interface{}{"status": roster.Status}, nil)
	})
	if err != nil {
		return nil, wrapLedgerError(err, "failed to unlock roster")
	}
	return unlocked, nil
}

// UpdateItemBankStatus records a manual bank-detail review on a finished roster.
// The column and the cached verification blob change together, and the change is
// audited as bank_review. This is the only item mutation allowed on locked rosters.
func (s *RosterLedgerService) UpdateItemBankStatus(ctx context.Context, rosterID, itemID string, req dto.BankStatusRequest, actor models.Actor) (*models.PaymentRosterItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bank status payload")
	}
	var updated *models.PaymentRosterItem
	err := runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		roster, err := s.loadForUpdate(ctx, exec, rosterID)
		if err != nil {
			return err
		}
		if roster.Status != models.RosterStatusCompleted && roster.Status != models.RosterStatusLocked {
			return appErrors.Clone(appErrors.ErrRosterModification, fmt.Sprintf("bank review requires a completed roster, %s is %s", roster.RosterCode, roster.Status))
		}
		item, err := s.rosters.GetItem(ctx, exec, rosterID, itemID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "roster item not found")
			}
			return err
		}
		before := map[string]interface{}{"item_id": item.ID, "bank_verification_status": item.BankVerificationStatus, "bank": item.VerificationDetails.Bank}
		item.BankVerificationStatus = req.Status
		item.VerificationDetails.Bank = &models.BankReview{
			Status:     req.Status,
			ReviewedBy: actor.ID,
			ReviewedAt: s.now().UTC(),
			Note:       req.Note,
		}
		if err := s.rosters.UpdateItemBankStatus(ctx, exec, item); err != nil {
			return err
		}
		updated = item
		return s.audit(ctx, exec, rosterID, models.AuditActionBankReview, models.AuditLevelInfo, actor,
			fmt.Sprintf("bank status of %s set to %s", item.StudentNumber, req.Status), before,
			map[string]interface{}{"item_id": item.ID, "bank_verification_status": item.BankVerificationStatus, "bank": item.VerificationDetails.Bank}, nil)
	})
	if err != nil {
		return nil, wrapLedgerError(err, "failed to update bank status")
	}
	return updated, nil
}

// RecordAudit appends an audit entry outside any roster transaction.
func (s *RosterLedgerService) RecordAudit(ctx context.Context, rosterID string, action models.AuditAction, level models.AuditLevel, actor models.Actor, message string, before, after interface{}) error {
	if err := s.audit(ctx, nil, rosterID, action, level, actor, message, before, after, nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit")
	}
	return nil
}

func (s *RosterLedgerService) audit(ctx context.Context, exec sqlx.ExtContext, rosterID string, action models.AuditAction, level models.AuditLevel, actor models.Actor, message string, before, after interface{}, durationMs *int64) error {
	entry := &models.RosterAuditLog{
		RosterID:   rosterID,
		Action:     action,
		Level:      level,
		Message:    message,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		DurationMs: durationMs,
		CreatedAt:  s.now().UTC(),
	}
	var err error
	if entry.OldValues, err = marshalAuditValues(before); err != nil {
		return err
	}
	if entry.NewValues, err = marshalAuditValues(after); err != nil {
		return err
	}
	return s.audits.Create(ctx, exec, entry)
}

func marshalAuditValues(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return raw, nil
}

func summaryValues(r *models.PaymentRoster) map[string]interface{} {
	return map[string]interface{}{
		"status":                    r.Status,
		"qualified_count":           r.QualifiedCount,
		"disqualified_count":        r.DisqualifiedCount,
		"total_amount":              r.TotalAmount.StringFixed(2),
		"verification_api_failures": r.VerificationAPIFailures,
	}
}

// ListAudit returns audit entries matching the query, newest first.
func (s *RosterLedgerService) ListAudit(ctx context.Context, query dto.AuditLogQuery) ([]models.RosterAuditLog, *models.Pagination, error) {
	filter := models.RosterAuditFilter{
		RosterID: query.RosterID,
		Action:   models.AuditAction(query.Action),
		Level:    models.AuditLevel(query.Level),
		ActorID:  query.ActorID,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	var err error
	if filter.From, err = parseAuditTime(query.From); err != nil {
		return nil, nil, err
	}
	if filter.To, err = parseAuditTime(query.To); err != nil {
		return nil, nil, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	entries, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func parseAuditTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid time %q, expected RFC3339 or YYYY-MM-DD", value))
}

// Get loads a roster.
func (s *RosterLedgerService) Get(ctx context.Context, rosterID string) (*models.PaymentRoster, error) {
	roster, err := s.rosters.GetByID(ctx, nil, rosterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "roster not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// Detail loads a roster together with its stored item count.
func (s *RosterLedgerService) Detail(ctx context.Context, rosterID string) (*dto.RosterDetailResponse, error) {
	roster, err := s.Get(ctx, rosterID)
	if err != nil {
		return nil, err
	}
	count, err := s.rosters.CountItems(ctx, nil, rosterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count roster items")
	}
	return &dto.RosterDetailResponse{Roster: roster, ItemCount: count}, nil
}

// List returns rosters matching filter.
func (s *RosterLedgerService) List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, *models.Pagination, error) {
	rosters, total, err := s.rosters.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rosters")
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	return rosters, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Items returns the stored snapshot rows of a roster in sequence order.
func (s *RosterLedgerService) Items(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error) {
	if _, err := s.Get(ctx, rosterID); err != nil {
		return nil, err
	}
	items, err := s.rosters.ListItems(ctx, rosterID, includedOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster items")
	}
	return items, nil
}

func (s *RosterLedgerService) loadForUpdate(ctx context.Context, exec sqlx.ExtContext, rosterID string) (*models.PaymentRoster, error) {
	var (
		roster *models.PaymentRoster
		err    error
	)
	if exec != nil {
		roster, err = s.rosters.GetForUpdate(ctx, exec, rosterID)
	} else {
		roster, err = s.rosters.GetByID(ctx, nil, rosterID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "roster not found")
		}
		return nil, err
	}
	return roster, nil
}

func wrapLedgerError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
