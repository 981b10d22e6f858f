package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/jobs"
)

// VerificationJobType tags batch verification jobs on the shared queue.
const VerificationJobType = "roster_verification"

type verificationTaskStore interface {
	Create(ctx context.Context, task *models.BatchVerificationTask) error
	GetByID(ctx context.Context, id string) (*models.BatchVerificationTask, error)
	Update(ctx context.Context, task *models.BatchVerificationTask) error
}

type verificationLedger interface {
	Get(ctx context.Context, rosterID string) (*models.PaymentRoster, error)
	Items(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error)
	RecordAudit(ctx context.Context, rosterID string, action models.AuditAction, level models.AuditLevel, actor models.Actor, message string, before, after interface{}) error
}

type cancellableDispatcher interface {
	Enqueue(job jobs.Job) error
	Cancel(jobID string) bool
}

// VerificationTaskService creates and tracks background re-verification of
// finished rosters.
type VerificationTaskService struct {
	repo   verificationTaskStore
	ledger verificationLedger
	queue  cancellableDispatcher
	logger *zap.Logger
}

// NewVerificationTaskService constructs the task service.
func NewVerificationTaskService(repo verificationTaskStore, ledger verificationLedger, queue cancellableDispatcher, logger *zap.Logger) *VerificationTaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationTaskService{repo: repo, ledger: ledger, queue: queue, logger: logger}
}

// CreateTask persists a pending task for the roster and enqueues it.
func (s *VerificationTaskService) CreateTask(ctx context.Context, rosterID string, actor models.Actor) (*dto.VerificationTaskResponse, error) {
	roster, err := s.ledger.Get(ctx, rosterID)
	if err != nil {
		return nil, err
	}
	if roster.Status != models.RosterStatusCompleted && roster.Status != models.RosterStatusLocked {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("roster %s is %s; only completed or locked rosters can be verified", roster.RosterCode, roster.Status))
	}
	task := &models.BatchVerificationTask{
		RosterID:  rosterID,
		Status:    models.VerificationTaskPending,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification task")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: task.ID, Type: VerificationJobType}); err != nil {
		msg := "failed to enqueue task"
		now := time.Now().UTC()
		task.Status = models.VerificationTaskFailed
		task.ErrorMessage = &msg
		task.FinishedAt = &now
		_ = s.repo.Update(ctx, task)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue verification task")
	}
	return taskResponse(task, false), nil
}

// GetStatus reports progress and, once finished, per-item results.
func (s *VerificationTaskService) GetStatus(ctx context.Context, id string) (*dto.VerificationTaskResponse, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return taskResponse(task, task.Status.Finished()), nil
}

// Cancel stops a pending or running task. Results gathered so far are kept.
func (s *VerificationTaskService) Cancel(ctx context.Context, id string, actor models.Actor) (*dto.VerificationTaskResponse, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.Finished() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("verification task is already %s", task.Status))
	}
	if s.queue.Cancel(id) {
		// the running worker records its own partial results
		s.logger.Info("verification task interrupted", zap.String("task_id", id), zap.String("actor", actor.ID))
		task.Status = models.VerificationTaskCancelled
		return taskResponse(task, false), nil
	}
	now := time.Now().UTC()
	msg := "cancelled by " + actor.ID
	task.Status = models.VerificationTaskCancelled
	task.ErrorMessage = &msg
	task.FinishedAt = &now
	if err := s.repo.Update(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel verification task")
	}
	return taskResponse(task, false), nil
}

func (s *VerificationTaskService) load(ctx context.Context, id string) (*models.BatchVerificationTask, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "verification task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification task")
	}
	return task, nil
}

func taskResponse(task *models.BatchVerificationTask, withResults bool) *dto.VerificationTaskResponse {
	resp := &dto.VerificationTaskResponse{
		ID:          task.ID,
		RosterID:    task.RosterID,
		Status:      task.Status,
		Progress:    task.Progress(),
		Total:       task.Total,
		Processed:   task.Processed,
		Verified:    task.Verified,
		NeedsReview: task.NeedsReview,
		Failed:      task.Failed,
	}
	if withResults {
		resp.Results = task.Results
	}
	if task.ErrorMessage != nil && *task.ErrorMessage != "" {
		resp.Error = task.ErrorMessage
	}
	return resp
}

// VerificationWorkerConfig tunes how a task walks the roster.
type VerificationWorkerConfig struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
}

// VerificationTaskWorker executes queued verification tasks. It reports
// registry outcomes without touching the stored roster items.
type VerificationTaskWorker struct {
	repo     verificationTaskStore
	ledger   verificationLedger
	verifier enrollmentVerifier
	cfg      VerificationWorkerConfig
	logger   *zap.Logger
}

// NewVerificationTaskWorker constructs a worker.
func NewVerificationTaskWorker(repo verificationTaskStore, ledger verificationLedger, verifier enrollmentVerifier, cfg VerificationWorkerConfig, logger *zap.Logger) *VerificationTaskWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &VerificationTaskWorker{repo: repo, ledger: ledger, verifier: verifier, cfg: cfg, logger: logger}
}

// Handle processes one queue job.
func (w *VerificationTaskWorker) Handle(ctx context.Context, job jobs.Job) error {
	task, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if task.Status.Finished() {
		return nil
	}
	started := time.Now().UTC()
	task.Status = models.VerificationTaskProcessing
	task.StartedAt = &started
	task.Processed, task.Verified, task.NeedsReview, task.Failed = 0, 0, 0, 0
	task.Results = models.VerificationTaskResults{}
	task.ErrorMessage = nil

	items, err := w.ledger.Items(ctx, task.RosterID, true)
	if err != nil {
		return w.retryOrFail(ctx, job, task, err)
	}
	task.Total = len(items)
	if err := w.repo.Update(ctx, task); err != nil {
		return err
	}

	for start := 0; start < len(items); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		results, err := w.verifyBatch(ctx, batch)
		if err != nil || ctx.Err() != nil {
			return w.cancelled(ctx, task)
		}
		for i, item := range batch {
			task.Results = append(task.Results, classifyTaskResult(item, results[i]))
			switch current := task.Results[len(task.Results)-1].Current; {
			case current == models.VerificationVerified:
				task.Verified++
			case current.Ineligible():
				task.Failed++
			default:
				task.NeedsReview++
			}
			task.Processed++
		}
		if err := w.repo.Update(ctx, task); err != nil {
			w.logger.Warn("failed to record verification progress", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	if ctx.Err() != nil {
		return w.cancelled(ctx, task)
	}

	finished := time.Now().UTC()
	task.Status = models.VerificationTaskCompleted
	task.FinishedAt = &finished
	if err := w.repo.Update(ctx, task); err != nil {
		return err
	}
	level := models.AuditLevelInfo
	if task.Failed > 0 || task.NeedsReview > 0 {
		level = models.AuditLevelWarning
	}
	summary := map[string]interface{}{
		"task_id":      task.ID,
		"verified":     task.Verified,
		"needs_review": task.NeedsReview,
		"failed":       task.Failed,
	}
	msg := fmt.Sprintf("batch verification: %d verified, %d need review, %d failed", task.Verified, task.NeedsReview, task.Failed)
	if err := w.ledger.RecordAudit(ctx, task.RosterID, models.AuditActionVerify, level, models.Actor{ID: task.CreatedBy}, msg, nil, summary); err != nil {
		w.logger.Warn("failed to audit verification task", zap.String("task_id", task.ID), zap.Error(err))
	}
	w.logger.Info("verification task completed",
		zap.String("task_id", task.ID),
		zap.String("roster_id", task.RosterID),
		zap.Int("total", task.Total),
		zap.Duration("elapsed", finished.Sub(started)),
	)
	return nil
}

func (w *VerificationTaskWorker) verifyBatch(ctx context.Context, batch []models.PaymentRosterItem) ([]VerificationResult, error) {
	results := make([]VerificationResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := range batch {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = w.verifier.Verify(gctx, batch[i].StudentID, batch[i].StudentName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// cancelled persists partial progress after the job context was cancelled.
func (w *VerificationTaskWorker) cancelled(ctx context.Context, task *models.BatchVerificationTask) error {
	now := time.Now().UTC()
	msg := "cancelled"
	task.Status = models.VerificationTaskCancelled
	task.ErrorMessage = &msg
	task.FinishedAt = &now
	if err := w.repo.Update(context.WithoutCancel(ctx), task); err != nil {
		w.logger.Warn("failed to mark verification task cancelled", zap.String("task_id", task.ID), zap.Error(err))
	}
	return nil
}

func (w *VerificationTaskWorker) retryOrFail(ctx context.Context, job jobs.Job, task *models.BatchVerificationTask, cause error) error {
	msg := cause.Error()
	task.ErrorMessage = &msg
	if job.Attempt >= w.cfg.MaxRetries {
		now := time.Now().UTC()
		task.Status = models.VerificationTaskFailed
		task.FinishedAt = &now
	} else {
		task.Status = models.VerificationTaskPending
	}
	if err := w.repo.Update(ctx, task); err != nil {
		w.logger.Warn("failed to record verification task failure", zap.String("task_id", task.ID), zap.Error(err))
	}
	return cause
}

func classifyTaskResult(item models.PaymentRosterItem, result VerificationResult) models.VerificationTaskResult {
	current := result.Status
	if current == models.VerificationAPIError || current == models.VerificationNotFound {
		current = models.VerificationNeedsReview
	}
	return models.VerificationTaskResult{
		ItemID:    item.ID,
		StudentID: item.StudentID,
		Previous:  item.VerificationStatus,
		Current:   current,
		Message:   result.Message,
	}
}
