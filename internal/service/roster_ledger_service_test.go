package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
)

type rosterStoreStub struct {
	mu      sync.Mutex
	order   []string
	rosters map[string]*models.PaymentRoster
	items   map[string][]models.PaymentRosterItem
	// lostItems simulates rows silently dropped by the batch insert.
	lostItems int
	insertErr error
}

func newRosterStoreStub() *rosterStoreStub {
	return &rosterStoreStub{rosters: map[string]*models.PaymentRoster{}, items: map[string][]models.PaymentRosterItem{}}
}

func (s *rosterStoreStub) LockPeriod(ctx context.Context, tx sqlx.ExtContext, configurationID, periodLabel string) error {
	return nil
}

func (s *rosterStoreStub) FindLatestByPeriod(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (*models.PaymentRoster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.rosters[s.order[i]]
		if r.ConfigurationID == configurationID && r.PeriodLabel == periodLabel {
			clone := *r
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *rosterStoreStub) HasLocked(ctx context.Context, exec sqlx.ExtContext, configurationID, periodLabel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rosters {
		if r.ConfigurationID == configurationID && r.PeriodLabel == periodLabel && r.Status == models.RosterStatusLocked {
			return true, nil
		}
	}
	return false, nil
}

func (s *rosterStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *roster
	s.rosters[roster.ID] = &clone
	s.order = append(s.order, roster.ID)
	return nil
}

func (s *rosterStoreStub) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.PaymentRoster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rosters[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *r
	return &clone, nil
}

func (s *rosterStoreStub) GetForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.PaymentRoster, error) {
	return s.GetByID(ctx, tx, id)
}

func (s *rosterStoreStub) List(ctx context.Context, filter models.RosterFilter) ([]models.PaymentRoster, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentRoster, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.rosters[id])
	}
	return out, len(out), nil
}

func (s *rosterStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from []models.RosterStatus, next models.RosterStatus, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rosters[id]
	if !ok {
		return sql.ErrNoRows
	}
	allowed := false
	for _, st := range from {
		if r.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return sql.ErrNoRows
	}
	r.Status = next
	if errorMessage != nil {
		r.ErrorMessage = errorMessage
	}
	return nil
}

func (s *rosterStoreStub) UpdateSummary(ctx context.Context, exec sqlx.ExtContext, roster *models.PaymentRoster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rosters[roster.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *roster
	s.rosters[roster.ID] = &clone
	return nil
}

func (s *rosterStoreStub) SetLockState(ctx context.Context, exec sqlx.ExtContext, id string, status models.RosterStatus, lockedBy *string, lockedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rosters[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.LockedBy = lockedBy
	r.LockedAt = lockedAt
	return nil
}

func (s *rosterStoreStub) InsertItems(ctx context.Context, exec sqlx.ExtContext, items []models.PaymentRosterItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for i, item := range items {
		if i < s.lostItems {
			continue
		}
		if item.ID == "" {
			item.ID = item.ApplicationID + "-item"
		}
		s.items[item.RosterID] = append(s.items[item.RosterID], item)
	}
	return nil
}

func (s *rosterStoreStub) CountItems(ctx context.Context, exec sqlx.ExtContext, rosterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[rosterID]), nil
}

func (s *rosterStoreStub) ListItems(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentRosterItem, 0)
	for _, item := range s.items[rosterID] {
		if includedOnly && !item.IsIncluded {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *rosterStoreStub) GetItem(ctx context.Context, exec sqlx.ExtContext, rosterID, itemID string) (*models.PaymentRosterItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items[rosterID] {
		if item.ID == itemID {
			clone := item
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *rosterStoreStub) UpdateItemBankStatus(ctx context.Context, exec sqlx.ExtContext, item *models.PaymentRosterItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items[item.RosterID] {
		if existing.ID == item.ID {
			s.items[item.RosterID][i] = *item
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *rosterStoreStub) status(id string) models.RosterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosters[id].Status
}

type rosterAuditStub struct {
	mu      sync.Mutex
	entries []models.RosterAuditLog
	filter  models.RosterAuditFilter
}

func (s *rosterAuditStub) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.RosterAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *rosterAuditStub) List(ctx context.Context, filter models.RosterAuditFilter) ([]models.RosterAuditLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	return s.entries, len(s.entries), nil
}

func (s *rosterAuditStub) actions(rosterID string) []models.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditAction, 0)
	for _, e := range s.entries {
		if e.RosterID == rosterID {
			out = append(out, e.Action)
		}
	}
	return out
}

var (
	adminActor      = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	superAdminActor = models.Actor{ID: "root-1", Role: models.RoleSuperAdmin}
)

func testConfiguration() *models.ScholarshipConfiguration {
	return &models.ScholarshipConfiguration{
		ID:           "cfg-1",
		AcademicYear: 113,
		SubTypes:     []string{"nstc"},
		QuotaMode:    models.QuotaModeNone,
		Amount:       decimal.NewFromInt(40000),
		RosterCycle:  models.RosterCycleMonthly,
	}
}

// completedRoster drives a roster through create, start and complete.
func completedRoster(t *testing.T, ledger *RosterLedgerService, items []models.PaymentRosterItem) *models.PaymentRoster {
	t.Helper()
	ctx := context.Background()
	roster, err := ledger.Create(ctx, CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", AcademicYear: 113, Trigger: models.TriggerManual, Actor: adminActor})
	require.NoError(t, err)
	require.NoError(t, ledger.Start(ctx, roster.ID, nil))
	roster.Status = models.RosterStatusProcessing
	for _, item := range items {
		if item.IsIncluded {
			roster.QualifiedCount++
		} else {
			roster.DisqualifiedCount++
		}
	}
	require.NoError(t, ledger.Complete(ctx, roster, items, adminActor))
	return roster
}

func sampleItems() []models.PaymentRosterItem {
	quota := models.ExclusionQuotaExhausted
	return []models.PaymentRosterItem{
		{ID: "item-1", Sequence: 1, ApplicationID: "app-1", StudentNumber: "S001", IsIncluded: true, Amount: decimal.NewFromInt(40000), VerificationStatus: models.VerificationVerified},
		{ID: "item-2", Sequence: 2, ApplicationID: "app-2", StudentNumber: "S002", ExclusionReason: &quota, VerificationStatus: models.VerificationVerified},
	}
}

func TestLedgerCompleteWritesItemsAndSummary(t *testing.T) {
	store := newRosterStoreStub()
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)

	roster := completedRoster(t, ledger, sampleItems())

	assert.Equal(t, models.RosterStatusCompleted, store.status(roster.ID))
	assert.Contains(t, roster.RosterCode, "RST-2025-01-")
	detail, err := ledger.Detail(context.Background(), roster.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.ItemCount)
	assert.Equal(t, []models.AuditAction{models.AuditActionCreate, models.AuditActionStatusChange}, audits.actions(roster.ID))
}

func TestLedgerCountMismatchForcesFailedWithAudit(t *testing.T) {
	store := newRosterStoreStub()
	store.lostItems = 1
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)
	ctx := context.Background()

	roster, err := ledger.Create(ctx, CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Trigger: models.TriggerManual, Actor: adminActor})
	require.NoError(t, err)
	require.NoError(t, ledger.Start(ctx, roster.ID, nil))
	roster.QualifiedCount, roster.DisqualifiedCount = 1, 1

	err = ledger.Complete(ctx, roster, sampleItems(), adminActor)
	require.Error(t, err)
	assert.Equal(t, models.RosterStatusFailed, store.status(roster.ID))

	last := audits.entries[len(audits.entries)-1]
	assert.Equal(t, models.AuditActionStatusChange, last.Action)
	assert.Equal(t, models.AuditLevelCritical, last.Level)
	assert.Contains(t, last.Message, "item count 1 does not equal qualified 1 + disqualified 1")
	stored, _ := store.GetByID(ctx, nil, roster.ID)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "item count")
}

func TestLedgerCompleteWriteErrorFailsRoster(t *testing.T) {
	store := newRosterStoreStub()
	store.insertErr = errors.New("connection reset")
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)
	ctx := context.Background()

	params := CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Trigger: models.TriggerManual, Actor: adminActor}
	roster, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, ledger.Start(ctx, roster.ID, nil))
	roster.QualifiedCount, roster.DisqualifiedCount = 1, 1

	err = ledger.Complete(ctx, roster, sampleItems(), adminActor)
	require.Error(t, err)
	assert.Equal(t, models.RosterStatusFailed, store.status(roster.ID))
	assert.Equal(t, models.RosterStatusFailed, roster.Status)

	last := audits.entries[len(audits.entries)-1]
	assert.Equal(t, models.AuditActionStatusChange, last.Action)
	assert.Equal(t, models.AuditLevelError, last.Level)
	assert.Contains(t, last.Message, "connection reset")

	store.insertErr = nil
	params.Force = true
	retry, err := ledger.Create(ctx, params)
	require.NoError(t, err, "a failed roster must not block regeneration")
	assert.NotEqual(t, roster.ID, retry.ID)
}

func TestLedgerCreateRejectsDuplicatesUnlessForced(t *testing.T) {
	store := newRosterStoreStub()
	ledger := NewRosterLedgerService(store, &rosterAuditStub{}, nil, "", nil)
	ctx := context.Background()
	first := completedRoster(t, ledger, sampleItems())

	params := CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Trigger: models.TriggerManual, Actor: adminActor}
	_, err := ledger.Create(ctx, params)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterAlreadyExists))

	params.Force = true
	forced, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	assert.True(t, forced.IsForced)
	require.NotNil(t, forced.SupersedesRosterID)
	assert.Equal(t, first.ID, *forced.SupersedesRosterID)

	require.NoError(t, ledger.Start(ctx, forced.ID, nil))
	_, err = ledger.Create(ctx, params)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterAlreadyExists), "processing roster blocks even forced runs")
}

func TestLedgerRetryAfterFailedForcedRunStaysForced(t *testing.T) {
	store := newRosterStoreStub()
	ledger := NewRosterLedgerService(store, &rosterAuditStub{}, nil, "", nil)
	ctx := context.Background()
	completedRoster(t, ledger, sampleItems())

	params := CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Force: true, Trigger: models.TriggerManual, Actor: adminActor}
	forced, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, ledger.Start(ctx, forced.ID, nil))
	require.NoError(t, ledger.Fail(ctx, forced.ID, "registry down", adminActor))

	params.Force = false
	params.Trigger = models.TriggerScheduled
	retry, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	assert.True(t, retry.IsForced)
	assert.Equal(t, forced.ID, *retry.SupersedesRosterID)
}

func TestLedgerRetryAfterFailedRosterIsNotForced(t *testing.T) {
	store := newRosterStoreStub()
	ledger := NewRosterLedgerService(store, &rosterAuditStub{}, nil, "", nil)
	ctx := context.Background()

	params := CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Trigger: models.TriggerManual, Actor: adminActor}
	first, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	require.NoError(t, ledger.Start(ctx, first.ID, nil))
	require.NoError(t, ledger.Fail(ctx, first.ID, "registry down", adminActor))

	params.Force = true
	retry, err := ledger.Create(ctx, params)
	require.NoError(t, err)
	assert.False(t, retry.IsForced, "a failed roster no longer holds the period slot")
}

func TestLedgerForceRefusedWhileLocked(t *testing.T) {
	store := newRosterStoreStub()
	ledger := NewRosterLedgerService(store, &rosterAuditStub{}, nil, "", nil)
	ctx := context.Background()
	roster := completedRoster(t, ledger, sampleItems())
	_, err := ledger.Lock(ctx, roster.ID, dto.LockRosterRequest{}, adminActor)
	require.NoError(t, err)

	_, err = ledger.Create(ctx, CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-01", Force: true, Actor: adminActor})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))
}

func TestLockedRosterRejectsMutations(t *testing.T) {
	store := newRosterStoreStub()
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)
	ctx := context.Background()
	roster := completedRoster(t, ledger, sampleItems())

	locked, err := ledger.Lock(ctx, roster.ID, dto.LockRosterRequest{Note: "sent to bank"}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.RosterStatusLocked, locked.Status)
	require.NotNil(t, locked.LockedBy)

	_, err = ledger.Lock(ctx, roster.ID, dto.LockRosterRequest{}, adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))

	roster.Status = models.RosterStatusProcessing
	err = ledger.Complete(ctx, roster, sampleItems(), adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))

	err = ledger.Start(ctx, roster.ID, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))

	_, err = ledger.MarkFailed(ctx, roster.ID, dto.FailRosterRequest{Reason: "oops"}, adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))

	count, err := store.CountItems(ctx, nil, roster.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, models.RosterStatusLocked, store.status(roster.ID))

	item, err := ledger.UpdateItemBankStatus(ctx, roster.ID, "item-1", dto.BankStatusRequest{Status: models.BankVerificationVerified, Note: "account confirmed"}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.BankVerificationVerified, item.BankVerificationStatus)
	require.NotNil(t, item.VerificationDetails.Bank)
	assert.Equal(t, models.BankVerificationVerified, item.VerificationDetails.Bank.Status)
	assert.Equal(t, "admin-1", item.VerificationDetails.Bank.ReviewedBy)

	stored, err := store.GetItem(ctx, nil, roster.ID, "item-1")
	require.NoError(t, err)
	assert.Equal(t, stored.BankVerificationStatus, stored.VerificationDetails.Bank.Status)

	actions := audits.actions(roster.ID)
	assert.Equal(t, models.AuditActionBankReview, actions[len(actions)-1])
}

func TestUnlockRequiresSuperAdminAndReason(t *testing.T) {
	store := newRosterStoreStub()
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)
	ctx := context.Background()
	roster := completedRoster(t, ledger, sampleItems())
	_, err := ledger.Lock(ctx, roster.ID, dto.LockRosterRequest{}, adminActor)
	require.NoError(t, err)

	_, err = ledger.Unlock(ctx, roster.ID, dto.UnlockRosterRequest{Reason: "bank rejected file"}, adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = ledger.Unlock(ctx, roster.ID, dto.UnlockRosterRequest{}, superAdminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	unlocked, err := ledger.Unlock(ctx, roster.ID, dto.UnlockRosterRequest{Reason: "bank rejected file"}, superAdminActor)
	require.NoError(t, err)
	assert.Equal(t, models.RosterStatusCompleted, unlocked.Status)
	assert.Nil(t, unlocked.LockedBy)

	last := audits.entries[len(audits.entries)-1]
	assert.Equal(t, models.AuditActionUnlock, last.Action)
	assert.Equal(t, models.AuditLevelWarning, last.Level)
	assert.Contains(t, last.Message, "bank rejected file")
	assert.Equal(t, string(models.RoleSuperAdmin), last.ActorRole)
}

func TestBankReviewRequiresFinishedRoster(t *testing.T) {
	store := newRosterStoreStub()
	ledger := NewRosterLedgerService(store, &rosterAuditStub{}, nil, "", nil)
	ctx := context.Background()
	roster, err := ledger.Create(ctx, CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-02", Actor: adminActor})
	require.NoError(t, err)

	_, err = ledger.UpdateItemBankStatus(ctx, roster.ID, "item-1", dto.BankStatusRequest{Status: models.BankVerificationFailed}, adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrRosterModification))
}

func TestListAuditParsesFilters(t *testing.T) {
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(newRosterStoreStub(), audits, nil, "", nil)

	_, page, err := ledger.ListAudit(context.Background(), dto.AuditLogQuery{RosterID: "r-1", Action: "lock", From: "2025-01-01", To: "2025-02-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)
	assert.Equal(t, models.AuditActionLock, audits.filter.Action)
	require.NotNil(t, audits.filter.From)
	assert.Equal(t, 2025, audits.filter.From.Year())

	_, _, err = ledger.ListAudit(context.Background(), dto.AuditLogQuery{From: "yesterday"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
