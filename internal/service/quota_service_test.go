package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/repository"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type configStub struct {
	configs map[string]*models.ScholarshipConfiguration
}

func (s *configStub) GetByID(ctx context.Context, id string) (*models.ScholarshipConfiguration, error) {
	if cfg, ok := s.configs[id]; ok {
		clone := *cfg
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

type usageStub struct {
	usage   models.QuotaUsage
	queries []repository.UsageQuery
}

func (s *usageStub) CountUsage(ctx context.Context, q repository.UsageQuery) (*models.QuotaUsage, error) {
	s.queries = append(s.queries, q)
	u := s.usage
	return &u, nil
}

func intPtr(v int) *int { return &v }

func TestResolveQuotaModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     models.ScholarshipConfiguration
		subType string
		total   *int
		byCol   map[string]int
	}{
		{name: "none is unlimited", cfg: models.ScholarshipConfiguration{QuotaMode: models.QuotaModeNone}, subType: "nstc"},
		{name: "simple scalar", cfg: models.ScholarshipConfiguration{QuotaMode: models.QuotaModeSimple, TotalQuota: intPtr(12)}, subType: "nstc", total: intPtr(12)},
		{name: "simple without total is zero", cfg: models.ScholarshipConfiguration{QuotaMode: models.QuotaModeSimple}, subType: "nstc", total: intPtr(0)},
		{
			name:    "college pools summed",
			cfg:     models.ScholarshipConfiguration{QuotaMode: models.QuotaModeCollegeBased, QuotaMapping: types.JSONText(`{"EE":3,"CS":2}`)},
			subType: "moe_1w",
			total:   intPtr(5),
			byCol:   map[string]int{"EE": 3, "CS": 2},
		},
		{
			name:    "matrix cell",
			cfg:     models.ScholarshipConfiguration{QuotaMode: models.QuotaModeMatrixBased, QuotaMapping: types.JSONText(`{"nstc":{"EE":2,"CS":1}}`)},
			subType: "nstc",
			total:   intPtr(3),
			byCol:   map[string]int{"EE": 2, "CS": 1},
		},
		{
			name:    "matrix missing sub-type is zero not unlimited",
			cfg:     models.ScholarshipConfiguration{QuotaMode: models.QuotaModeMatrixBased, QuotaMapping: types.JSONText(`{"nstc":{"EE":2}}`)},
			subType: "moe_2w",
			total:   intPtr(0),
			byCol:   map[string]int{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveQuota(&tc.cfg, tc.subType)
			require.NoError(t, err)
			assert.Equal(t, tc.total, got.TotalQuota)
			if tc.byCol != nil {
				assert.Equal(t, tc.byCol, got.ByCollege)
			}
		})
	}
}

func TestUsagePercentage(t *testing.T) {
	assert.Nil(t, UsagePercentage(5, nil))
	require.NotNil(t, UsagePercentage(5, intPtr(0)))
	assert.Equal(t, 0.0, *UsagePercentage(5, intPtr(0)))
	assert.InDelta(t, 0.25, *UsagePercentage(1, intPtr(4)), 0.0001)
	assert.InDelta(t, 1.0, *UsagePercentage(4, intPtr(4)), 0.0001)
}

func TestAllocatorMatrixExhaustsCell(t *testing.T) {
	cfg := &models.ScholarshipConfiguration{QuotaMode: models.QuotaModeMatrixBased, QuotaMapping: types.JSONText(`{"nstc":{"EE":2}}`)}
	alloc, err := NewAllocator(cfg)
	require.NoError(t, err)

	assert.True(t, alloc.TryAllocate("nstc", "EE"))
	assert.True(t, alloc.TryAllocate("nstc", "EE"))
	assert.False(t, alloc.TryAllocate("nstc", "EE"))
	assert.False(t, alloc.TryAllocate("nstc", "CS"))
	assert.False(t, alloc.TryAllocate("moe_1w", "EE"))
	assert.Equal(t, map[string]int{"nstc/EE": 2}, alloc.Used())
}

func TestAllocatorCollegePoolSharedAcrossSubTypes(t *testing.T) {
	cfg := &models.ScholarshipConfiguration{QuotaMode: models.QuotaModeCollegeBased, QuotaMapping: types.JSONText(`{"EE":1}`)}
	alloc, err := NewAllocator(cfg)
	require.NoError(t, err)

	assert.True(t, alloc.TryAllocate("nstc", "EE"))
	assert.False(t, alloc.TryAllocate("moe_1w", "EE"))
	assert.False(t, alloc.TryAllocate("nstc", "CS"))
}

func TestAllocatorNoneAndSimple(t *testing.T) {
	unlimited, err := NewAllocator(&models.ScholarshipConfiguration{QuotaMode: models.QuotaModeNone})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.TryAllocate("nstc", "EE"))
	}

	simple, err := NewAllocator(&models.ScholarshipConfiguration{QuotaMode: models.QuotaModeSimple, TotalQuota: intPtr(1)})
	require.NoError(t, err)
	assert.True(t, simple.TryAllocate("nstc", "EE"))
	assert.False(t, simple.TryAllocate("moe_1w", "CS"))
}

func TestQuotaServiceQuotaScopesUsageByMode(t *testing.T) {
	configs := &configStub{configs: map[string]*models.ScholarshipConfiguration{
		"cfg-matrix": {ID: "cfg-matrix", AcademicYear: 113, SubTypes: []string{"nstc"}, QuotaMode: models.QuotaModeMatrixBased, QuotaMapping: types.JSONText(`{"nstc":{"EE":4}}`)},
		"cfg-simple": {ID: "cfg-simple", AcademicYear: 113, SubTypes: []string{"nstc"}, QuotaMode: models.QuotaModeSimple, TotalQuota: intPtr(10)},
	}}
	usage := &usageStub{usage: models.QuotaUsage{Approved: 1, Pending: 2, Total: 3}}
	svc := NewQuotaService(configs, usage, nil, 0, nil)

	resp, err := svc.Quota(context.Background(), "cfg-matrix", dto.QuotaQuery{SubType: "nstc"})
	require.NoError(t, err)
	assert.Equal(t, 4, *resp.Quota.TotalQuota)
	assert.InDelta(t, 0.25, *resp.UsagePercentage, 0.0001)
	assert.Equal(t, "nstc", usage.queries[0].SubType)
	assert.Equal(t, 113, usage.queries[0].AcademicYear)

	_, err = svc.Quota(context.Background(), "cfg-simple", dto.QuotaQuery{SubType: "nstc"})
	require.NoError(t, err)
	assert.Empty(t, usage.queries[1].SubType)

	_, err = svc.Quota(context.Background(), "cfg-simple", dto.QuotaQuery{SubType: "phd"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidSubType))

	_, err = svc.Quota(context.Background(), "missing", dto.QuotaQuery{SubType: "nstc"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestQuotaServiceSummaryCachedUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCacheService(repository.NewCacheRepository(client, nil), NewMetricsService(), "scholarship", time.Minute, nil, true)
	configs := &configStub{configs: map[string]*models.ScholarshipConfiguration{
		"cfg-1": {ID: "cfg-1", AcademicYear: 113, SubTypes: []string{"nstc", "moe_1w"}, QuotaMode: models.QuotaModeNone},
	}}
	usage := &usageStub{usage: models.QuotaUsage{Approved: 2, Total: 2}}
	svc := NewQuotaService(configs, usage, cache, time.Minute, nil)
	ctx := context.Background()

	first, err := svc.Summary(ctx, "cfg-1", 113, nil)
	require.NoError(t, err)
	require.Len(t, first.SubTypes, 2)
	assert.Nil(t, first.SubTypes[0].UsagePercentage)
	assert.Len(t, usage.queries, 2)
	assert.False(t, first.FromCache)

	second, err := svc.Summary(ctx, "cfg-1", 113, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Len(t, usage.queries, 2, "second read served from cache")
	assert.NotEmpty(t, mr.Keys())
	for _, key := range mr.Keys() {
		assert.True(t, strings.HasPrefix(key, "scholarship:quota:summary:cfg-1:"), key)
	}

	svc.InvalidateConfiguration(ctx, "cfg-1")
	_, err = svc.Summary(ctx, "cfg-1", 113, nil)
	require.NoError(t, err)
	assert.Len(t, usage.queries, 4)
}
