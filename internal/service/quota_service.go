package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/repository"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type quotaConfigurationReader interface {
	GetByID(ctx context.Context, id string) (*models.ScholarshipConfiguration, error)
}

type quotaUsageCounter interface {
	CountUsage(ctx context.Context, q repository.UsageQuery) (*models.QuotaUsage, error)
}

type quotaCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// QuotaService resolves configured capacity and live usage per quota key.
type QuotaService struct {
	configs  quotaConfigurationReader
	usage    quotaUsageCounter
	cache    quotaCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewQuotaService constructs the quota engine. cache may be nil.
func NewQuotaService(configs quotaConfigurationReader, usage quotaUsageCounter, cache quotaCache, cacheTTL time.Duration, logger *zap.Logger) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &QuotaService{configs: configs, usage: usage, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// ResolveQuota computes capacity for subType from an already loaded configuration.
// Modes never mix: a matrix lookup for an unmapped sub-type yields zero.
func ResolveQuota(cfg *models.ScholarshipConfiguration, subType string) (models.QuotaResult, error) {
	result := models.QuotaResult{Mode: cfg.QuotaMode}
	switch cfg.QuotaMode {
	case models.QuotaModeNone, "":
		result.Mode = models.QuotaModeNone
		return result, nil
	case models.QuotaModeSimple:
		total := 0
		if cfg.TotalQuota != nil {
			total = *cfg.TotalQuota
		}
		result.TotalQuota = &total
		return result, nil
	case models.QuotaModeCollegeBased:
		byCollege, err := cfg.CollegeQuotas()
		if err != nil {
			return result, err
		}
		total := sumSeats(byCollege)
		result.TotalQuota = &total
		result.ByCollege = byCollege
		return result, nil
	case models.QuotaModeMatrixBased:
		matrix, err := cfg.MatrixQuotas()
		if err != nil {
			return result, err
		}
		cells := matrix[subType]
		if cells == nil {
			cells = map[string]int{}
		}
		total := sumSeats(cells)
		result.TotalQuota = &total
		result.ByCollege = cells
		return result, nil
	default:
		return result, fmt.Errorf("unknown quota mode %q", cfg.QuotaMode)
	}
}

func sumSeats(m map[string]int) int {
	total := 0
	for _, seats := range m {
		total += seats
	}
	return total
}

// UsagePercentage returns approved / total as a ratio, so 1.0 means the quota is
// used up. Nil total means unlimited; a zero total reports 0.
func UsagePercentage(approved int, total *int) *float64 {
	if total == nil {
		return nil
	}
	pct := 0.0
	if *total > 0 {
		pct = float64(approved) / float64(*total)
	}
	return &pct
}

// GetQuota resolves capacity for a (configuration, sub-type) key.
func (s *QuotaService) GetQuota(ctx context.Context, configurationID, subType string) (*models.ScholarshipConfiguration, models.QuotaResult, error) {
	cfg, err := s.loadConfiguration(ctx, configurationID)
	if err != nil {
		return nil, models.QuotaResult{}, err
	}
	quota, err := ResolveQuota(cfg, subType)
	if err != nil {
		return nil, models.QuotaResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve quota")
	}
	return cfg, quota, nil
}

// GetUsage counts live applications consuming the quota key. Shared pools
// (simple, college_based) count across every sub-type of the configuration.
func (s *QuotaService) GetUsage(ctx context.Context, cfg *models.ScholarshipConfiguration, subType string, academicYear int, semester *int) (models.QuotaUsage, error) {
	q := repository.UsageQuery{
		ConfigurationID: cfg.ID,
		AcademicYear:    academicYear,
		Semester:        semester,
	}
	if cfg.QuotaMode == models.QuotaModeMatrixBased || cfg.QuotaMode == models.QuotaModeNone || cfg.QuotaMode == "" {
		q.SubType = subType
	}
	usage, err := s.usage.CountUsage(ctx, q)
	if err != nil {
		return models.QuotaUsage{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count quota usage")
	}
	return *usage, nil
}

// Quota answers GET /configurations/:id/quota.
func (s *QuotaService) Quota(ctx context.Context, configurationID string, query dto.QuotaQuery) (*dto.QuotaResponse, error) {
	if query.SubType == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subType is required")
	}
	cfg, quota, err := s.GetQuota(ctx, configurationID, query.SubType)
	if err != nil {
		return nil, err
	}
	if !cfg.HasSubType(query.SubType) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSubType, fmt.Sprintf("sub-type %s is not offered by configuration %s", query.SubType, cfg.ID))
	}
	return s.quotaResponse(ctx, cfg, quota, query)
}

func (s *QuotaService) quotaResponse(ctx context.Context, cfg *models.ScholarshipConfiguration, quota models.QuotaResult, query dto.QuotaQuery) (*dto.QuotaResponse, error) {
	year := query.AcademicYear
	if year == 0 {
		year = cfg.AcademicYear
	}
	semester := query.Semester
	if semester == nil {
		semester = cfg.Semester
	}
	usage, err := s.GetUsage(ctx, cfg, query.SubType, year, semester)
	if err != nil {
		return nil, err
	}
	return &dto.QuotaResponse{
		ConfigurationID: cfg.ID,
		SubType:         query.SubType,
		Quota:           quota,
		Usage:           usage,
		UsagePercentage: UsagePercentage(usage.Approved, quota.TotalQuota),
	}, nil
}

// Summary reports quota and usage for every sub-type of the configuration.
// Results are cached until the next review submission for the configuration.
func (s *QuotaService) Summary(ctx context.Context, configurationID string, academicYear int, semester *int) (*dto.QuotaSummaryResponse, error) {
	key := quotaSummaryKey(configurationID, academicYear, semester)
	if s.cache != nil {
		var cached dto.QuotaSummaryResponse
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			cached.FromCache = true
			return &cached, nil
		}
	}

	cfg, err := s.loadConfiguration(ctx, configurationID)
	if err != nil {
		return nil, err
	}
	summary := &dto.QuotaSummaryResponse{ConfigurationID: cfg.ID, Mode: cfg.QuotaMode, SubTypes: make([]dto.QuotaResponse, 0, len(cfg.SubTypes))}
	for _, subType := range cfg.SubTypes {
		quota, err := ResolveQuota(cfg, subType)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve quota")
		}
		resp, err := s.quotaResponse(ctx, cfg, quota, dto.QuotaQuery{SubType: subType, AcademicYear: academicYear, Semester: semester})
		if err != nil {
			return nil, err
		}
		summary.SubTypes = append(summary.SubTypes, *resp)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.cacheTTL)
	}
	return summary, nil
}

// InvalidateConfiguration drops cached summaries for the configuration.
func (s *QuotaService) InvalidateConfiguration(ctx context.Context, configurationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("quota:summary:%s:*", configurationID)); err != nil {
		s.logger.Warn("quota cache invalidation failed", zap.String("configuration_id", configurationID), zap.Error(err))
	}
}

// Snapshot resolves quota and live usage for every sub-type, keyed by sub-type.
func (s *QuotaService) Snapshot(ctx context.Context, cfg *models.ScholarshipConfiguration, academicYear int, semester *int) (map[string]models.QuotaResult, map[string]models.QuotaUsage, error) {
	quotas := make(map[string]models.QuotaResult, len(cfg.SubTypes))
	usage := make(map[string]models.QuotaUsage, len(cfg.SubTypes))
	for _, subType := range cfg.SubTypes {
		quota, err := ResolveQuota(cfg, subType)
		if err != nil {
			return nil, nil, err
		}
		quotas[subType] = quota
		u, err := s.GetUsage(ctx, cfg, subType, academicYear, semester)
		if err != nil {
			return nil, nil, err
		}
		usage[subType] = u
	}
	return quotas, usage, nil
}

func (s *QuotaService) loadConfiguration(ctx context.Context, id string) (*models.ScholarshipConfiguration, error) {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	return cfg, nil
}

func quotaSummaryKey(configurationID string, academicYear int, semester *int) string {
	term := 0
	if semester != nil {
		term = *semester
	}
	return fmt.Sprintf("quota:summary:%s:%d:%d", configurationID, academicYear, term)
}

// Allocator tracks seats consumed while a single roster is being allocated.
type Allocator struct {
	mode     models.QuotaMode
	capacity map[string]int
	used     map[string]int
}

// NewAllocator builds an allocator from a loaded configuration.
func NewAllocator(cfg *models.ScholarshipConfiguration) (*Allocator, error) {
	a := &Allocator{mode: cfg.QuotaMode, capacity: map[string]int{}, used: map[string]int{}}
	switch cfg.QuotaMode {
	case models.QuotaModeNone, "":
		a.mode = models.QuotaModeNone
	case models.QuotaModeSimple:
		if cfg.TotalQuota != nil {
			a.capacity[""] = *cfg.TotalQuota
		}
	case models.QuotaModeCollegeBased:
		byCollege, err := cfg.CollegeQuotas()
		if err != nil {
			return nil, err
		}
		for college, seats := range byCollege {
			a.capacity[college] = seats
		}
	case models.QuotaModeMatrixBased:
		matrix, err := cfg.MatrixQuotas()
		if err != nil {
			return nil, err
		}
		for subType, cells := range matrix {
			for college, seats := range cells {
				a.capacity[matrixKey(subType, college)] = seats
			}
		}
	default:
		return nil, fmt.Errorf("unknown quota mode %q", cfg.QuotaMode)
	}
	return a, nil
}

func matrixKey(subType, college string) string {
	return subType + "/" + college
}

func (a *Allocator) pool(subType, college string) string {
	switch a.mode {
	case models.QuotaModeCollegeBased:
		return college
	case models.QuotaModeMatrixBased:
		return matrixKey(subType, college)
	default:
		return ""
	}
}

// HasCapacity reports whether one more seat is available without consuming it.
func (a *Allocator) HasCapacity(subType, college string) bool {
	if a.mode == models.QuotaModeNone {
		return true
	}
	key := a.pool(subType, college)
	return a.used[key] < a.capacity[key]
}

// TryAllocate consumes one seat for the key, reporting false when exhausted.
func (a *Allocator) TryAllocate(subType, college string) bool {
	if !a.HasCapacity(subType, college) {
		return false
	}
	a.used[a.pool(subType, college)]++
	return true
}

// Used returns a copy of the seats consumed per pool.
func (a *Allocator) Used() map[string]int {
	out := make(map[string]int, len(a.used))
	for k, v := range a.used {
		out[k] = v
	}
	return out
}
