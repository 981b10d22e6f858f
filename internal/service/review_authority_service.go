package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/pkg/database"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	applog "github.com/noah-isme/scholarship-api/pkg/logger"
)

type reviewApplicationStore interface {
	GetByID(ctx context.Context, id string) (*models.Application, error)
	UpdateReviewState(ctx context.Context, exec sqlx.ExtContext, id string, status models.ApplicationStatus, stage models.ReviewStage) error
}

type reviewRecordStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, record *models.ReviewRecord) error
	ListByApplication(ctx context.Context, applicationID string) ([]models.ReviewRecord, error)
}

type quotaInvalidator interface {
	InvalidateConfiguration(ctx context.Context, configurationID string)
}

// ReviewAuthorityService records reviewer decisions and derives cumulative sub-type status.
type ReviewAuthorityService struct {
	apps      reviewApplicationStore
	reviews   reviewRecordStore
	quota     quotaInvalidator
	tx        database.TxBeginner
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewReviewAuthorityService constructs the service. tx and quota may be nil.
func NewReviewAuthorityService(apps reviewApplicationStore, reviews reviewRecordStore, quota quotaInvalidator, tx database.TxBeginner, validate *validator.Validate, logger *zap.Logger) *ReviewAuthorityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewAuthorityService{
		apps:      apps,
		reviews:   reviews,
		quota:     quota,
		tx:        tx,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitReview stores a new review record for the reviewer. Earlier records from the
// same reviewer are superseded, not modified.
func (s *ReviewAuthorityService) SubmitReview(ctx context.Context, applicationID, reviewerID string, role models.ReviewerRole, req dto.SubmitReviewRequest) (*models.ReviewRecord, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot review applications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !reviewOpen(app.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("application in status %s cannot be reviewed", app.Status))
	}

	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.SubType]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("sub-type %s appears more than once", item.SubType))
		}
		seen[item.SubType] = struct{}{}
		if !app.HasSubType(item.SubType) {
			return nil, appErrors.Clone(appErrors.ErrInvalidSubType, fmt.Sprintf("sub-type %s is not selected on application %s", item.SubType, app.ID))
		}
	}

	records, err := s.reviews.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviews")
	}
	reviewable := make(map[string]struct{})
	for _, st := range ReviewableSubTypes(app.SubTypes, records, role) {
		reviewable[st] = struct{}{}
	}
	for _, item := range req.Items {
		if _, ok := reviewable[item.SubType]; !ok {
			return nil, appErrors.Clone(appErrors.ErrReviewPermission, fmt.Sprintf("sub-type %s is not reviewable by %s", item.SubType, role))
		}
	}

	record := &models.ReviewRecord{
		ApplicationID: app.ID,
		ReviewerID:    reviewerID,
		ReviewerRole:  role,
		SubmittedAt:   s.now().UTC(),
		Items:         make([]models.ReviewItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		record.Items = append(record.Items, models.ReviewItem{
			SubType:        item.SubType,
			Recommendation: item.Recommendation,
			Comment:        item.Comment,
		})
	}

	status, stage := nextApplicationState(app, append(records, *record), role)
	err = runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		if err := s.reviews.Create(ctx, exec, record); err != nil {
			return err
		}
		return s.apps.UpdateReviewState(ctx, exec, app.ID, status, stage)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store review")
	}

	if s.quota != nil {
		s.quota.InvalidateConfiguration(ctx, app.ConfigurationID)
	}
	applog.WithContext(ctx, s.logger).Info("review submitted",
		zap.String("application_id", app.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("role", string(role)),
		zap.String("status", string(status)),
	)
	return record, nil
}

// ReviewableSubTypes returns the sub-types role may currently act on.
func (s *ReviewAuthorityService) ReviewableSubTypes(ctx context.Context, applicationID string, role models.ReviewerRole) ([]string, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot review applications")
	}
	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	records, err := s.reviews.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviews")
	}
	return ReviewableSubTypes(app.SubTypes, records, role), nil
}

// CumulativeStatus returns the derived decision for every sub-type of the application.
func (s *ReviewAuthorityService) CumulativeStatus(ctx context.Context, applicationID string) ([]models.SubTypeStatus, error) {
	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	records, err := s.reviews.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviews")
	}
	return CumulativeStatus(app.SubTypes, records), nil
}

// ApprovedSubTypes lists the sub-types whose cumulative status is approved, in
// the application's selection order.
func (s *ReviewAuthorityService) ApprovedSubTypes(ctx context.Context, app *models.Application) ([]string, error) {
	records, err := s.reviews.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	approved := make([]string, 0, len(app.SubTypes))
	for _, st := range CumulativeStatus(app.SubTypes, records) {
		if st.Status == models.SubTypeApproved {
			approved = append(approved, st.SubType)
		}
	}
	return approved, nil
}

func (s *ReviewAuthorityService) loadApplication(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

func reviewOpen(status models.ApplicationStatus) bool {
	switch status {
	case models.ApplicationStatusSubmitted, models.ApplicationStatusUnderReview,
		models.ApplicationStatusApproved, models.ApplicationStatusRejected:
		return true
	default:
		return false
	}
}

// levelDecisions keeps the latest item per sub-type for each authority level.
type levelDecisions map[models.AuthorityLevel]map[string]decision

type decision struct {
	item       models.ReviewItem
	role       models.ReviewerRole
	reviewerID string
	at         time.Time
}

func foldDecisions(records []models.ReviewRecord) levelDecisions {
	out := make(levelDecisions)
	for _, record := range records {
		level := record.ReviewerRole.Level()
		if level == models.AuthorityNone {
			continue
		}
		if out[level] == nil {
			out[level] = make(map[string]decision)
		}
		for _, item := range record.Items {
			prev, ok := out[level][item.SubType]
			if ok && prev.at.After(record.SubmittedAt) {
				continue
			}
			out[level][item.SubType] = decision{item: item, role: record.ReviewerRole, reviewerID: record.ReviewerID, at: record.SubmittedAt}
		}
	}
	return out
}

// CumulativeStatus folds review records into a per-sub-type decision. The most
// senior level holding a decision wins; within a level the latest record wins.
func CumulativeStatus(subTypes []string, records []models.ReviewRecord) []models.SubTypeStatus {
	decisions := foldDecisions(records)
	out := make([]models.SubTypeStatus, 0, len(subTypes))
	for _, st := range subTypes {
		status := models.SubTypeStatus{SubType: st, Status: models.SubTypePending}
		for level := models.AuthorityAdmin; level > models.AuthorityNone; level-- {
			d, ok := decisions[level][st]
			if !ok {
				continue
			}
			at := d.at
			status.DecidedBy = d.role
			status.ReviewerID = d.reviewerID
			status.Comment = d.item.Comment
			status.DecidedAt = &at
			if d.item.Recommendation == models.RecommendationReject {
				status.Status = models.SubTypeRejected
				status.RejectedBy = d.role
			} else {
				status.Status = models.SubTypeApproved
			}
			break
		}
		out = append(out, status)
	}
	return out
}

// ReviewableSubTypes returns the sub-types role may act on. A sub-type is hidden
// when any strictly more senior level currently rejects it; the role's own
// rejection never hides it from the same role. Override is granted per role,
// not per reviewer, so any reviewer holding the rejecting role may revise it.
func ReviewableSubTypes(subTypes []string, records []models.ReviewRecord, role models.ReviewerRole) []string {
	decisions := foldDecisions(records)
	out := make([]string, 0, len(subTypes))
	for _, st := range subTypes {
		blocked := false
		for level := role.Level() + 1; level <= models.AuthorityAdmin; level++ {
			if d, ok := decisions[level][st]; ok && d.item.Recommendation == models.RecommendationReject {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, st)
		}
	}
	return out
}

// nextApplicationState derives status and stage after a submission by role.
func nextApplicationState(app *models.Application, records []models.ReviewRecord, role models.ReviewerRole) (models.ApplicationStatus, models.ReviewStage) {
	decisions := foldDecisions(records)
	adminDecided := len(app.SubTypes) > 0
	for _, st := range app.SubTypes {
		if _, ok := decisions[models.AuthorityAdmin][st]; !ok {
			adminDecided = false
			break
		}
	}
	if adminDecided {
		for _, st := range CumulativeStatus(app.SubTypes, records) {
			if st.Status == models.SubTypeApproved {
				return models.ApplicationStatusApproved, models.ReviewStageCompleted
			}
		}
		return models.ApplicationStatusRejected, models.ReviewStageCompleted
	}

	stage := models.NextReviewStage(role)
	if stage == models.ReviewStageCompleted {
		stage = models.ReviewStageAdmin
	}
	if stageRank(app.ReviewStage) > stageRank(stage) && app.ReviewStage != models.ReviewStageCompleted {
		stage = app.ReviewStage
	}
	return models.ApplicationStatusUnderReview, stage
}

func stageRank(stage models.ReviewStage) int {
	switch stage {
	case models.ReviewStageProfessor:
		return 1
	case models.ReviewStageCollege:
		return 2
	case models.ReviewStageAdmin:
		return 3
	case models.ReviewStageCompleted:
		return 4
	default:
		return 0
	}
}
