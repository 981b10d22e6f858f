package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/pkg/database"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type applicationStore interface {
	NextSequence(ctx context.Context, exec sqlx.ExtContext, academicYear int, semester *int) (int, error)
	Create(ctx context.Context, exec sqlx.ExtContext, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	UpdateRankPosition(ctx context.Context, id string, rank *int) error
}

// ApplicationService accepts scholarship applications and maintains ranking.
type ApplicationService struct {
	apps      applicationStore
	configs   generatorConfigReader
	tx        database.TxBeginner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewApplicationService constructs the service. tx may be nil.
func NewApplicationService(apps applicationStore, configs generatorConfigReader, tx database.TxBeginner, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{apps: apps, configs: configs, tx: tx, validator: validate, logger: logger}
}

// Submit stores a new application under the next code of its academic term.
func (s *ApplicationService) Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor models.Actor) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	if actor.Role == models.RoleStudent && actor.ID != req.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only apply for themselves")
	}
	cfg, err := s.configs.GetByID(ctx, req.ConfigurationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "scholarship configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	offered := make(map[string]struct{}, len(cfg.SubTypes))
	for _, st := range cfg.SubTypes {
		offered[st] = struct{}{}
	}
	for _, st := range req.SubTypes {
		if _, ok := offered[st]; !ok {
			return nil, appErrors.Clone(appErrors.ErrInvalidSubType, fmt.Sprintf("sub-type %q is not offered by %s", st, cfg.Code))
		}
	}

	app := &models.Application{
		StudentID:             req.StudentID,
		StudentNumber:         req.StudentNumber,
		StudentName:           req.StudentName,
		ConfigurationID:       cfg.ID,
		AcademicYear:          cfg.AcademicYear,
		Semester:              cfg.Semester,
		Status:                models.ApplicationStatusSubmitted,
		ReviewStage:           models.ReviewStageProfessor,
		SubTypes:              pq.StringArray(req.SubTypes),
		IsRenewal:             req.IsRenewal,
		CollegeCode:           req.CollegeCode,
		EnrollmentYear:        req.EnrollmentYear,
		EnrollmentTerm:        req.EnrollmentTerm,
		BankCode:              req.BankCode,
		BankAccount:           req.BankAccount,
		AccountHolder:         req.AccountHolder,
		IsAlternate:           req.IsAlternate,
		ReplacesApplicationID: req.ReplacesApplicationID,
	}
	err = runInTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		next, err := s.apps.NextSequence(ctx, exec, cfg.AcademicYear, cfg.Semester)
		if err != nil {
			return err
		}
		app.AppCode = FormatAppCode(cfg.AcademicYear, cfg.Semester, next)
		return s.apps.Create(ctx, exec, app)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit application")
	}
	s.logger.Info("application submitted",
		zap.String("application_id", app.ID),
		zap.String("app_code", app.AppCode),
		zap.String("configuration_id", cfg.ID),
	)
	return app, nil
}

// Get loads one application.
func (s *ApplicationService) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// List returns applications matching the filter.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	apps, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, nil
}

// SetRankPosition stores or clears the ranking used to order quota allocation.
func (s *ApplicationService) SetRankPosition(ctx context.Context, id string, req dto.SetRankRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rank payload")
	}
	if err := s.apps.UpdateRankPosition(ctx, id, req.RankPosition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rank")
	}
	return s.Get(ctx, id)
}

// FormatAppCode renders {academicYear}{semester}{counter:04d}; a yearly
// configuration uses semester 0.
func FormatAppCode(academicYear int, semester *int, counter int) string {
	term := 0
	if semester != nil {
		term = *semester
	}
	return fmt.Sprintf("%d%d%04d", academicYear, term, counter)
}
