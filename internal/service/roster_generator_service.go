package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	applog "github.com/noah-isme/scholarship-api/pkg/logger"
)

type generatorConfigReader interface {
	GetByID(ctx context.Context, id string) (*models.ScholarshipConfiguration, error)
}

type candidateStore interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]models.Application, error)
}

type receivedHistory interface {
	ListReceivedPeriods(ctx context.Context, configurationID string, studentIDs []string) (map[string][]models.ReceivedPeriod, error)
}

type approvalSource interface {
	ApprovedSubTypes(ctx context.Context, app *models.Application) ([]string, error)
}

type quotaSnapshotter interface {
	Snapshot(ctx context.Context, cfg *models.ScholarshipConfiguration, academicYear int, semester *int) (map[string]models.QuotaResult, map[string]models.QuotaUsage, error)
}

type enrollmentVerifier interface {
	Verify(ctx context.Context, studentID, name string) VerificationResult
}

type generationLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error)
}

var periodLabelPatterns = map[models.RosterCycle]*regexp.Regexp{
	models.RosterCycleMonthly:    regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`),
	models.RosterCycleHalfYearly: regexp.MustCompile(`^\d{4}-H[12]$`),
	models.RosterCycleYearly:     regexp.MustCompile(`^\d{4}$`),
}

// ValidatePeriodLabel checks the label format required by cycle.
func ValidatePeriodLabel(cycle models.RosterCycle, label string) error {
	pattern, ok := periodLabelPatterns[cycle]
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidPeriodLabel, fmt.Sprintf("unknown roster cycle %q", cycle))
	}
	if !pattern.MatchString(label) {
		return appErrors.Clone(appErrors.ErrInvalidPeriodLabel, fmt.Sprintf("period label %q does not match %s cycle", label, cycle))
	}
	return nil
}

// GenerateOptions carries trigger context for a generation.
type GenerateOptions struct {
	Trigger    models.TriggerType
	ScheduleID string
}

// RosterGeneratorService turns approved applications into a payment roster.
type RosterGeneratorService struct {
	configs     generatorConfigReader
	apps        candidateStore
	history     receivedHistory
	approvals   approvalSource
	quota       quotaSnapshotter
	verifier    enrollmentVerifier
	ledger      *RosterLedgerService
	locks       generationLocker
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	concurrency int
	lockTTL     time.Duration
	now         func() time.Time
}

// RosterGeneratorConfig bundles tuning knobs.
type RosterGeneratorConfig struct {
	VerificationConcurrency int
	LockTTL                 time.Duration
}

// NewRosterGeneratorService wires the generator. locks and metrics may be nil.
func NewRosterGeneratorService(
	configs generatorConfigReader,
	apps candidateStore,
	history receivedHistory,
	approvals approvalSource,
	quota quotaSnapshotter,
	verifier enrollmentVerifier,
	ledger *RosterLedgerService,
	locks generationLocker,
	metrics *MetricsService,
	cfg RosterGeneratorConfig,
	logger *zap.Logger,
) *RosterGeneratorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerificationConcurrency <= 0 {
		cfg.VerificationConcurrency = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	return &RosterGeneratorService{
		configs:     configs,
		apps:        apps,
		history:     history,
		approvals:   approvals,
		quota:       quota,
		verifier:    verifier,
		ledger:      ledger,
		locks:       locks,
		metrics:     metrics,
		validator:   validator.New(),
		logger:      logger,
		concurrency: cfg.VerificationConcurrency,
		lockTTL:     cfg.LockTTL,
		now:         time.Now,
	}
}

// Generate validates the request, creates the roster row, computes the plan and
// completes the roster. Dry runs return the plan without persisting anything.
func (s *RosterGeneratorService) Generate(ctx context.Context, req dto.GenerateRosterRequest, actor models.Actor, opts GenerateOptions) (*dto.GenerateRosterResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}
	cfg, err := s.configs.GetByID(ctx, req.ConfigurationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	if err := ValidatePeriodLabel(cfg.RosterCycle, req.PeriodLabel); err != nil {
		return nil, err
	}
	if req.AcademicYear == 0 {
		req.AcademicYear = cfg.AcademicYear
	}
	verify := true
	if req.VerificationEnabled != nil {
		verify = *req.VerificationEnabled
	}
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}

	if req.DryRun {
		started := s.now()
		plan, err := s.Plan(ctx, cfg, req.PeriodLabel, req.AcademicYear, verify)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute roster plan")
		}
		plan.Meta.DurationMs = s.now().Sub(started).Milliseconds()
		s.observe(models.TriggerDryRun, "dry_run", started, plan)
		return &dto.GenerateRosterResponse{Plan: plan, DryRun: true}, nil
	}

	if s.locks != nil {
		release, ok, err := s.locks.Acquire(ctx, fmt.Sprintf("roster:generate:%s:%s", cfg.ID, req.PeriodLabel), s.lockTTL)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire generation lock")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrRosterAlreadyExists, fmt.Sprintf("generation for %s is already running", req.PeriodLabel))
		}
		defer release()
	}

	roster, err := s.ledger.Create(ctx, CreateRosterParams{
		Configuration: cfg,
		PeriodLabel:   req.PeriodLabel,
		AcademicYear:  req.AcademicYear,
		Trigger:       opts.Trigger,
		Force:         req.ForceRegenerate,
		Actor:         actor,
	})
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.ledger.Start(ctx, roster.ID, cancel); err != nil {
		return nil, err
	}
	roster.Status = models.RosterStatusProcessing

	started := s.now()
	plan, err := s.Plan(genCtx, cfg, req.PeriodLabel, req.AcademicYear, verify)
	if err != nil {
		reason := fmt.Sprintf("generation aborted: %v", err)
		if genCtx.Err() != nil && ctx.Err() == nil {
			reason = "generation cancelled by operator"
		}
		if failErr := s.ledger.Fail(context.WithoutCancel(ctx), roster.ID, reason, actor); failErr != nil && !appErrors.Is(failErr, appErrors.ErrRosterModification) {
			applog.WithContext(ctx, s.logger).Error("failed to record roster failure", zap.String("roster_id", roster.ID), zap.Error(failErr))
		}
		s.observe(opts.Trigger, "failed", started, nil)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, reason)
	}
	plan.Meta.DurationMs = s.now().Sub(started).Milliseconds()
	plan.Meta.ScheduleID = opts.ScheduleID

	roster.QualifiedCount = plan.QualifiedCount
	roster.DisqualifiedCount = plan.DisqualifiedCount
	roster.TotalAmount = plan.TotalAmount
	roster.VerificationAPIFailures = plan.VerificationAPIFailures
	roster.GenerationMeta = plan.Meta
	if err := s.ledger.Complete(context.WithoutCancel(ctx), roster, plan.Items, actor); err != nil {
		s.observe(opts.Trigger, "failed", started, plan)
		return nil, err
	}
	s.observe(opts.Trigger, "completed", started, plan)
	applog.WithContext(ctx, s.logger).Info("roster generated",
		zap.String("roster_id", roster.ID),
		zap.String("period", roster.PeriodLabel),
		zap.Int("qualified", roster.QualifiedCount),
		zap.Int("disqualified", roster.DisqualifiedCount),
		zap.Int("verification_api_failures", roster.VerificationAPIFailures),
	)
	return &dto.GenerateRosterResponse{Roster: roster, Plan: plan}, nil
}

func (s *RosterGeneratorService) observe(trigger models.TriggerType, result string, started time.Time, plan *dto.RosterPlan) {
	if s.metrics == nil {
		return
	}
	included, excluded := 0, 0
	if plan != nil {
		included, excluded = plan.QualifiedCount, plan.DisqualifiedCount
	}
	s.metrics.ObserveGeneration(trigger, result, s.now().Sub(started), included, excluded)
}

// Plan computes the allocation for a configuration and period without writing.
func (s *RosterGeneratorService) Plan(ctx context.Context, cfg *models.ScholarshipConfiguration, periodLabel string, academicYear int, verify bool) (*dto.RosterPlan, error) {
	candidates, err := s.apps.List(ctx, models.ApplicationFilter{
		ConfigurationID: cfg.ID,
		AcademicYear:    academicYear,
		Semester:        cfg.Semester,
		Statuses:        []models.ApplicationStatus{models.ApplicationStatusApproved},
	})
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	sortCandidates(candidates)

	quotas, usage, err := s.quota.Snapshot(ctx, cfg, academicYear, cfg.Semester)
	if err != nil {
		return nil, fmt.Errorf("snapshot quota: %w", err)
	}
	allocator, err := NewAllocator(cfg)
	if err != nil {
		return nil, fmt.Errorf("build allocator: %w", err)
	}

	studentIDs := make([]string, 0, len(candidates))
	replacedIDs := make([]string, 0)
	for _, app := range candidates {
		studentIDs = append(studentIDs, app.StudentID)
		if app.IsAlternate && app.ReplacesApplicationID != nil {
			replacedIDs = append(replacedIDs, *app.ReplacesApplicationID)
		}
	}
	received, err := s.history.ListReceivedPeriods(ctx, cfg.ID, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("load received periods: %w", err)
	}
	received = withoutPeriod(received, periodLabel)
	replaced := map[string]models.Application{}
	if len(replacedIDs) > 0 {
		if replaced, err = s.apps.GetByIDs(ctx, replacedIDs); err != nil {
			return nil, fmt.Errorf("load replaced applications: %w", err)
		}
	}

	verifications, err := s.verifyAll(ctx, candidates, verify)
	if err != nil {
		return nil, err
	}

	plan := &dto.RosterPlan{
		ConfigurationID: cfg.ID,
		PeriodLabel:     periodLabel,
		TotalAmount:     decimal.Zero,
		Items:           make([]models.PaymentRosterItem, 0, len(candidates)),
		Meta: models.GenerationMeta{
			Quotas:              quotas,
			Usage:               usage,
			VerificationEnabled: verify,
			CandidateCount:      len(candidates),
		},
	}
	checkedAt := s.now().UTC()
	for i := range candidates {
		app := &candidates[i]
		item := snapshotItem(app, i+1)

		approved, err := s.approvals.ApprovedSubTypes(ctx, app)
		if err != nil {
			return nil, fmt.Errorf("load approved sub-types for %s: %w", app.ID, err)
		}
		if len(approved) > 0 {
			item.SubType = approved[0]
		} else if len(app.SubTypes) > 0 {
			item.SubType = app.SubTypes[0]
		}

		result := verifications[i]
		item.VerificationStatus = result.Status
		item.VerificationMessage = result.Message
		if verify {
			item.VerificationDetails.Registry = &models.RegistrySnapshot{
				Status:      result.Status,
				Message:     result.Message,
				RawResponse: result.RawResponse,
				CheckedAt:   checkedAt,
			}
		}
		switch result.Status {
		case models.VerificationAPIError:
			item.VerificationStatus = models.VerificationNeedsReview
			plan.VerificationAPIFailures++
		case models.VerificationNotFound:
			item.VerificationStatus = models.VerificationNeedsReview
		}

		var replacedApp *models.Application
		if app.ReplacesApplicationID != nil {
			if r, ok := replaced[*app.ReplacesApplicationID]; ok {
				replacedApp = &r
			}
		}
		outcome := EvaluateEligibility(cfg, EligibilityInput{Application: app, Replaced: replacedApp, Received: received[app.StudentID]})
		item.RuleDetails = outcome.Results
		item.FailedRules = outcome.Failed
		item.WarningRules = outcome.Warnings

		switch {
		case len(approved) == 0:
			excludeItem(&item, models.ExclusionNoApprovedSubType)
		case result.Status.Ineligible():
			excludeItem(&item, models.ExclusionVerificationFailed)
		case outcome.Excluded():
			excludeItem(&item, *outcome.Exclusion)
			item.VerificationMessage = joinMessages(item.VerificationMessage, outcome.Message)
		default:
			allocated := false
			for _, subType := range approved {
				if allocator.TryAllocate(subType, app.CollegeCode) {
					item.SubType = subType
					allocated = true
					break
				}
			}
			if !allocated {
				excludeItem(&item, models.ExclusionQuotaExhausted)
				break
			}
			item.IsIncluded = true
			item.Amount = cfg.AmountFor(item.SubType)
		}

		if item.IsIncluded {
			plan.QualifiedCount++
			plan.TotalAmount = plan.TotalAmount.Add(item.Amount)
		} else {
			plan.DisqualifiedCount++
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}

// verifyAll checks every candidate with bounded concurrency. Cancellation of ctx
// abandons outstanding calls.
func (s *RosterGeneratorService) verifyAll(ctx context.Context, candidates []models.Application, enabled bool) ([]VerificationResult, error) {
	results := make([]VerificationResult, len(candidates))
	if !enabled || s.verifier == nil {
		for i := range results {
			results[i] = VerificationResult{Status: models.VerificationSkipped, Message: "verification disabled"}
		}
		return results, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.verifier.Verify(gctx, candidates[i].StudentID, candidates[i].StudentName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verification aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verification aborted: %w", err)
	}
	return results, nil
}

func sortCandidates(apps []models.Application) {
	sort.SliceStable(apps, func(i, j int) bool {
		ri, rj := apps[i].RankPosition, apps[j].RankPosition
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri < *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return apps[i].ID < apps[j].ID
	})
}

func snapshotItem(app *models.Application, sequence int) models.PaymentRosterItem {
	return models.PaymentRosterItem{
		Sequence:               sequence,
		ApplicationID:          app.ID,
		AppCode:                app.AppCode,
		StudentID:              app.StudentID,
		StudentNumber:          app.StudentNumber,
		StudentName:            app.StudentName,
		CollegeCode:            app.CollegeCode,
		RankPosition:           app.RankPosition,
		BankCode:               app.BankCode,
		BankAccount:            app.BankAccount,
		AccountHolder:          app.AccountHolder,
		Amount:                 decimal.Zero,
		BankVerificationStatus: models.BankVerificationPending,
	}
}

func excludeItem(item *models.PaymentRosterItem, reason models.ExclusionReason) {
	item.IsIncluded = false
	item.Amount = decimal.Zero
	item.ExclusionReason = &reason
}

func joinMessages(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += p
	}
	return out
}

// withoutPeriod drops the period being generated from the history so a
// superseded roster for the same period does not count against the cap.
func withoutPeriod(history map[string][]models.ReceivedPeriod, periodLabel string) map[string][]models.ReceivedPeriod {
	out := make(map[string][]models.ReceivedPeriod, len(history))
	for studentID, periods := range history {
		kept := make([]models.ReceivedPeriod, 0, len(periods))
		for _, p := range periods {
			if p.PeriodLabel != periodLabel {
				kept = append(kept, p)
			}
		}
		out[studentID] = kept
	}
	return out
}
