package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type scheduleStore interface {
	Create(ctx context.Context, schedule *models.RosterSchedule) error
	GetByID(ctx context.Context, id string) (*models.RosterSchedule, error)
	List(ctx context.Context, statuses []models.ScheduleStatus) ([]models.RosterSchedule, error)
	UpdateStatus(ctx context.Context, id string, status models.ScheduleStatus) error
	UpdateNextRun(ctx context.Context, id string, next *time.Time) error
	RecordRun(ctx context.Context, run models.ScheduleRunUpdate) error
}

type scheduledGenerator interface {
	Generate(ctx context.Context, req dto.GenerateRosterRequest, actor models.Actor, opts GenerateOptions) (*dto.GenerateRosterResponse, error)
}

type scheduledLedger interface {
	Lock(ctx context.Context, rosterID string, req dto.LockRosterRequest, actor models.Actor) (*models.PaymentRoster, error)
	RecordAudit(ctx context.Context, rosterID string, action models.AuditAction, level models.AuditLevel, actor models.Actor, message string, before, after interface{}) error
}

type scheduleNotifier interface {
	NotifyScheduleRun(ctx context.Context, schedule *models.RosterSchedule, outcome ScheduleRunOutcome)
}

// RosterSchedulerConfig tunes the scheduler.
type RosterSchedulerConfig struct {
	Location          *time.Location
	DefaultMaxRetries int
	DefaultRetryDelay time.Duration
}

// RosterSchedulerService owns the cron entries of recurring roster schedules.
// Each firing re-reads its schedule row, so status changes made elsewhere take
// effect on the next tick.
type RosterSchedulerService struct {
	schedules scheduleStore
	configs   generatorConfigReader
	generator scheduledGenerator
	ledger    scheduledLedger
	notifier  scheduleNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       RosterSchedulerConfig

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRosterSchedulerService wires the scheduler. notifier and metrics may be nil.
func NewRosterSchedulerService(
	schedules scheduleStore,
	configs generatorConfigReader,
	generator scheduledGenerator,
	ledger scheduledLedger,
	notifier scheduleNotifier,
	metrics *MetricsService,
	cfg RosterSchedulerConfig,
	logger *zap.Logger,
) *RosterSchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = time.Minute
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &RosterSchedulerService{
		schedules: schedules,
		configs:   configs,
		generator: generator,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   metrics,
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		entries:   make(map[string]cron.EntryID),
		baseCtx:   baseCtx,
		cancel:    cancel,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseCron validates a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidCron.Code, appErrors.ErrInvalidCron.Status, fmt.Sprintf("invalid cron expression %q", expr))
	}
	return sched, nil
}

// Start registers every active schedule and starts the cron runner.
func (s *RosterSchedulerService) Start(ctx context.Context) error {
	active, err := s.schedules.List(ctx, []models.ScheduleStatus{models.ScheduleStatusActive})
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}
	for i := range active {
		if err := s.Register(ctx, &active[i]); err != nil {
			s.logger.Warn("skipping schedule with invalid cron", zap.String("schedule_id", active[i].ID), zap.Error(err))
		}
	}
	s.cron.Start()
	s.logger.Info("roster scheduler started", zap.Int("schedules", len(s.entries)), zap.String("timezone", s.cfg.Location.String()))
	return nil
}

// Stop halts new firings, cancels in-flight runs and waits for them to return.
func (s *RosterSchedulerService) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("roster scheduler stopped")
}

// Register (re)installs the cron entry for schedule. Schedules that must not
// fire are unregistered instead.
func (s *RosterSchedulerService) Register(ctx context.Context, schedule *models.RosterSchedule) error {
	sched, err := ParseCron(schedule.CronExpression)
	if err != nil {
		return err
	}
	s.Unregister(schedule.ID)
	if !schedule.Status.Fires() {
		return nil
	}
	id := schedule.ID
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.execute(s.baseCtx, id, false)
	}))
	s.mu.Lock()
	s.entries[id] = s.cron.Schedule(sched, job)
	s.mu.Unlock()

	next := sched.Next(s.now().In(s.cfg.Location))
	if err := s.schedules.UpdateNextRun(ctx, id, &next); err != nil {
		s.logger.Warn("failed to store next run", zap.String("schedule_id", id), zap.Error(err))
	}
	return nil
}

// Unregister removes the cron entry for scheduleID if present.
func (s *RosterSchedulerService) Unregister(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[scheduleID]; ok {
		s.cron.Remove(entry)
		delete(s.entries, scheduleID)
	}
}

// Registered reports whether a cron entry exists for scheduleID.
func (s *RosterSchedulerService) Registered(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[scheduleID]
	return ok
}

// Create validates and stores a schedule, registering it when active.
func (s *RosterSchedulerService) Create(ctx context.Context, req dto.CreateScheduleRequest, actor models.Actor) (*models.RosterSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if _, err := ParseCron(req.CronExpression); err != nil {
		return nil, err
	}
	cfg, err := s.configs.GetByID(ctx, req.ConfigurationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if cfg.RosterCycle != req.RosterCycle {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("schedule cycle %s does not match configuration cycle %s", req.RosterCycle, cfg.RosterCycle))
	}

	schedule := &models.RosterSchedule{
		ConfigurationID:     req.ConfigurationID,
		Name:                req.Name,
		RosterCycle:         req.RosterCycle,
		CronExpression:      req.CronExpression,
		Status:              models.ScheduleStatusActive,
		AutoLock:            req.AutoLock,
		VerificationEnabled: req.VerificationEnabled,
		NotifyOnSuccess:     req.NotifyOnSuccess,
		NotifyOnFailure:     req.NotifyOnFailure,
		NotifyEmails:        req.NotifyEmails,
		MaxRetries:          s.cfg.DefaultMaxRetries,
		RetryDelaySeconds:   int(s.cfg.DefaultRetryDelay / time.Second),
		CreatedBy:           actor.ID,
	}
	if req.MaxRetries != nil {
		schedule.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelaySeconds != nil {
		schedule.RetryDelaySeconds = *req.RetryDelaySeconds
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	if err := s.Register(ctx, schedule); err != nil {
		return nil, err
	}
	s.logger.Info("roster schedule created", zap.String("schedule_id", schedule.ID), zap.String("cron", schedule.CronExpression), zap.String("actor_id", actor.ID))
	return schedule, nil
}

// Get loads a schedule.
func (s *RosterSchedulerService) Get(ctx context.Context, id string) (*models.RosterSchedule, error) {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// List returns schedules, optionally filtered by status.
func (s *RosterSchedulerService) List(ctx context.Context, statuses []models.ScheduleStatus) ([]models.RosterSchedule, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown schedule status %q", st))
		}
	}
	schedules, err := s.schedules.List(ctx, statuses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return schedules, nil
}

// SetStatus pauses, resumes or disables a schedule. Resuming also clears the
// error state left by exhausted retries.
func (s *RosterSchedulerService) SetStatus(ctx context.Context, id string, req dto.UpdateScheduleStatusRequest, actor models.Actor) (*models.RosterSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule status")
	}
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.schedules.UpdateStatus(ctx, id, req.Status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule status")
	}
	previous := schedule.Status
	schedule.Status = req.Status
	if err := s.Register(ctx, schedule); err != nil {
		return nil, err
	}
	s.logger.Info("roster schedule status changed",
		zap.String("schedule_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(req.Status)),
		zap.String("actor_id", actor.ID),
	)
	return schedule, nil
}

// Pause stops a schedule from firing until resumed.
func (s *RosterSchedulerService) Pause(ctx context.Context, id string, actor models.Actor) (*models.RosterSchedule, error) {
	return s.SetStatus(ctx, id, dto.UpdateScheduleStatusRequest{Status: models.ScheduleStatusPaused}, actor)
}

// Resume reactivates a paused or errored schedule.
func (s *RosterSchedulerService) Resume(ctx context.Context, id string, actor models.Actor) (*models.RosterSchedule, error) {
	return s.SetStatus(ctx, id, dto.UpdateScheduleStatusRequest{Status: models.ScheduleStatusActive}, actor)
}

// Disable retires a schedule.
func (s *RosterSchedulerService) Disable(ctx context.Context, id string, actor models.Actor) (*models.RosterSchedule, error) {
	return s.SetStatus(ctx, id, dto.UpdateScheduleStatusRequest{Status: models.ScheduleStatusDisabled}, actor)
}

// RunNow executes a schedule immediately, outside its cron timing. Disabled
// schedules cannot be run.
func (s *RosterSchedulerService) RunNow(ctx context.Context, id string, actor models.Actor) (*dto.ScheduleRunResponse, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.Status == models.ScheduleStatusDisabled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule is disabled")
	}
	s.logger.Info("manual schedule run", zap.String("schedule_id", id), zap.String("actor_id", actor.ID))
	outcome := s.execute(ctx, id, true)
	resp := &dto.ScheduleRunResponse{ScheduleID: id, Result: outcome.Result}
	if outcome.Roster != nil {
		resp.RosterID = &outcome.Roster.ID
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		resp.Error = &msg
	}
	return resp, nil
}

// PeriodLabelFor derives the roster period a schedule covers at t.
func PeriodLabelFor(cycle models.RosterCycle, t time.Time) string {
	switch cycle {
	case models.RosterCycleHalfYearly:
		half := 1
		if t.Month() > time.June {
			half = 2
		}
		return fmt.Sprintf("%d-H%d", t.Year(), half)
	case models.RosterCycleYearly:
		return fmt.Sprintf("%d", t.Year())
	default:
		return t.Format("2006-01")
	}
}

// execute performs one run: re-read, generate with retries, optional auto-lock,
// bookkeeping and notification.
func (s *RosterSchedulerService) execute(ctx context.Context, scheduleID string, manual bool) ScheduleRunOutcome {
	outcome := ScheduleRunOutcome{ScheduleID: scheduleID}
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		s.logger.Error("failed to reload schedule", zap.String("schedule_id", scheduleID), zap.Error(err))
		outcome.Result = models.ScheduleRunFailed
		outcome.Err = err
		return outcome
	}
	if !manual && !schedule.Status.Fires() {
		s.logger.Info("schedule not active, skipping tick", zap.String("schedule_id", scheduleID), zap.String("status", string(schedule.Status)))
		s.Unregister(scheduleID)
		outcome.Result = models.ScheduleRunSkipped
		return outcome
	}

	ranAt := s.now().In(s.cfg.Location)
	outcome.PeriodLabel = PeriodLabelFor(schedule.RosterCycle, ranAt)
	verify := schedule.VerificationEnabled
	req := dto.GenerateRosterRequest{
		ConfigurationID:     schedule.ConfigurationID,
		PeriodLabel:         outcome.PeriodLabel,
		VerificationEnabled: &verify,
	}
	opts := GenerateOptions{Trigger: models.TriggerScheduled, ScheduleID: schedule.ID}
	delay := time.Duration(schedule.RetryDelaySeconds) * time.Second

	for attempt := 0; attempt <= schedule.MaxRetries; attempt++ {
		outcome.Attempts = attempt + 1
		resp, genErr := s.generator.Generate(ctx, req, models.SystemActor, opts)
		if genErr == nil {
			outcome.Result = models.ScheduleRunSuccess
			outcome.Roster = resp.Roster
			outcome.Err = nil
			break
		}
		outcome.Err = genErr
		if appErrors.Is(genErr, appErrors.ErrRosterAlreadyExists) {
			outcome.Result = models.ScheduleRunSkipped
			break
		}
		outcome.Result = models.ScheduleRunFailed
		if !retryable(genErr) || attempt == schedule.MaxRetries {
			break
		}
		s.logger.Warn("scheduled generation failed, retrying",
			zap.String("schedule_id", schedule.ID),
			zap.Int("attempt", outcome.Attempts),
			zap.Duration("delay", delay),
			zap.Error(genErr),
		)
		if err := s.sleep(ctx, delay); err != nil {
			outcome.Err = fmt.Errorf("retry aborted: %w", err)
			break
		}
	}

	if outcome.Result == models.ScheduleRunSuccess && schedule.AutoLock && outcome.Roster != nil {
		note := fmt.Sprintf("auto-locked by schedule %s", schedule.Name)
		if locked, err := s.ledger.Lock(ctx, outcome.Roster.ID, dto.LockRosterRequest{Note: note}, models.SystemActor); err != nil {
			s.logger.Error("auto-lock failed", zap.String("schedule_id", schedule.ID), zap.String("roster_id", outcome.Roster.ID), zap.Error(err))
		} else {
			outcome.Roster = locked
			outcome.Locked = true
		}
	}

	s.record(ctx, schedule, outcome, ranAt, manual)
	if s.notifier != nil {
		s.notifier.NotifyScheduleRun(ctx, schedule, outcome)
	}
	s.metrics.RecordScheduleRun(outcome.Result)
	return outcome
}

// record stores the run counters. A manual run of a schedule that does not fire
// leaves the operator's status and next_run_at untouched.
func (s *RosterSchedulerService) record(ctx context.Context, schedule *models.RosterSchedule, outcome ScheduleRunOutcome, ranAt time.Time, manual bool) {
	detached := manual && !schedule.Status.Fires()
	update := models.ScheduleRunUpdate{
		ID:     schedule.ID,
		Result: outcome.Result,
		Status: schedule.Status,
		RanAt:  ranAt.UTC(),
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		update.LastError = &msg
	}
	if outcome.Roster != nil {
		update.LastRosterID = &outcome.Roster.ID
	}
	exhausted := outcome.Result == models.ScheduleRunFailed && !detached
	if exhausted {
		update.Status = models.ScheduleStatusError
	}
	if err := s.schedules.RecordRun(ctx, update); err != nil {
		s.logger.Error("failed to record schedule run", zap.String("schedule_id", schedule.ID), zap.Error(err))
	}

	switch {
	case detached:
		if outcome.Result == models.ScheduleRunFailed {
			s.logger.Warn("manual run of inactive schedule failed",
				zap.String("schedule_id", schedule.ID),
				zap.String("status", string(schedule.Status)),
				zap.Error(outcome.Err),
			)
		}
	case exhausted:
		// next_run_at keeps its last value so operators can see when it would have fired.
		s.Unregister(schedule.ID)
		s.logger.Error("scheduled generation exhausted retries",
			zap.String("schedule_id", schedule.ID),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
	default:
		if sched, err := ParseCron(schedule.CronExpression); err == nil {
			next := sched.Next(ranAt)
			if err := s.schedules.UpdateNextRun(ctx, schedule.ID, &next); err != nil {
				s.logger.Warn("failed to store next run", zap.String("schedule_id", schedule.ID), zap.Error(err))
			}
		}
	}

	if outcome.Roster != nil {
		level := models.AuditLevelInfo
		if outcome.Attempts > 1 {
			level = models.AuditLevelWarning
		}
		message := fmt.Sprintf("schedule %s generated %s after %d attempt(s)", schedule.Name, outcome.PeriodLabel, outcome.Attempts)
		if err := s.ledger.RecordAudit(ctx, outcome.Roster.ID, models.AuditActionScheduleRun, level, models.SystemActor, message, nil,
			map[string]interface{}{"schedule_id": schedule.ID, "auto_locked": outcome.Locked}); err != nil {
			s.logger.Warn("failed to audit schedule run", zap.String("schedule_id", schedule.ID), zap.Error(err))
		}
	}
}

// retryable reports whether a generation error may succeed on a later attempt.
// Client-side errors such as a bad period label or missing configuration never do.
func retryable(err error) bool {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Status >= http.StatusInternalServerError
	}
	return true
}
