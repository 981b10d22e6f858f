package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/export"
)

func exportFixture(t *testing.T) (*RosterExportService, *RosterLedgerService, *rosterAuditStub, *models.PaymentRoster) {
	t.Helper()
	store := newRosterStoreStub()
	audits := &rosterAuditStub{}
	ledger := NewRosterLedgerService(store, audits, nil, "", nil)
	items := sampleItems()
	items[0].AppCode = "11310001"
	items[0].StudentName = "Lin Wei"
	items[0].WarningRules = pq.StringArray{"account_holder_match"}
	items = append(items, models.PaymentRosterItem{
		ID: "item-3", Sequence: 3, ApplicationID: "app-3", AppCode: "11310003", StudentNumber: "S003", StudentName: "Chen Yu",
		IsIncluded: true, Amount: decimal.NewFromInt(40000), VerificationStatus: models.VerificationNeedsReview,
		VerificationMessage: "registry request timed out",
	})
	roster := completedRoster(t, ledger, items)
	return NewRosterExportService(ledger, nil, nil, nil, nil), ledger, audits, roster
}

func TestExportCSVIsStableAcrossRuns(t *testing.T) {
	svc, _, audits, roster := exportFixture(t)
	ctx := context.Background()

	first, err := svc.Export(ctx, roster.ID, ExportFormatCSV, adminActor)
	require.NoError(t, err)
	second, err := svc.Export(ctx, roster.ID, ExportFormatCSV, adminActor)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, "text/csv", first.ContentType)
	assert.True(t, strings.HasSuffix(first.FileName, ".csv"))

	lines := strings.Split(string(first.Content), "\n")
	assert.Equal(t, strings.Join(rosterExportHeaders, ","), lines[0])
	assert.Contains(t, lines[1], "11310001")
	assert.Contains(t, lines[1], "verification: verified; warnings: account_holder_match")
	assert.Contains(t, lines[2], "needs_review (registry request timed out)")
	assert.NotContains(t, string(first.Content), "S002", "excluded items are not exported")

	actions := audits.actions(roster.ID)
	assert.Equal(t, models.AuditActionExport, actions[len(actions)-1])
}

func TestExportExcelHasFixedColumns(t *testing.T) {
	svc, _, _, roster := exportFixture(t)

	out, err := svc.Export(context.Background(), roster.ID, ExportFormatXLSX, adminActor)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out.Content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.DefaultSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Contains(t, rows[0][0], roster.RosterCode)
	assert.Equal(t, rosterExportHeaders, rows[1])
	assert.Equal(t, "1", rows[2][0])
	assert.Equal(t, "40000.00", rows[2][9])
	assert.Equal(t, "2", rows[3][0])
}

func TestExportPDF(t *testing.T) {
	svc, _, _, roster := exportFixture(t)
	out, err := svc.Export(context.Background(), roster.ID, ExportFormatPDF, adminActor)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out.Content, []byte("%PDF")))
}

func TestExportRejectsUnknownFormatAndUnfinishedRoster(t *testing.T) {
	svc, ledger, _, roster := exportFixture(t)
	ctx := context.Background()

	_, err := svc.Export(ctx, roster.ID, "docx", adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	draft, err := ledger.Create(ctx, CreateRosterParams{Configuration: testConfiguration(), PeriodLabel: "2025-09", Actor: adminActor})
	require.NoError(t, err)
	_, err = svc.Export(ctx, draft.ID, ExportFormatXLSX, adminActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}
