package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/scholarship-api/internal/dto"
	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/export"
)

// ExportFormat selects the rendered file type of a roster export.
type ExportFormat string

const (
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
)

var exportContentTypes = map[ExportFormat]string{
	ExportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	ExportFormatCSV:  "text/csv",
	ExportFormatPDF:  "application/pdf",
}

// Disbursement form columns, in order.
var rosterExportHeaders = []string{
	"No", "Application Code", "Student Number", "Student Name", "College", "Sub-type",
	"Bank Code", "Bank Account", "Account Holder", "Amount", "Remarks",
}

type rosterExportLedger interface {
	Get(ctx context.Context, rosterID string) (*models.PaymentRoster, error)
	Items(ctx context.Context, rosterID string, includedOnly bool) ([]models.PaymentRosterItem, error)
	RecordAudit(ctx context.Context, rosterID string, action models.AuditAction, level models.AuditLevel, actor models.Actor, message string, before, after interface{}) error
}

type tableRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type titledRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// RosterExportService renders stored roster snapshots into disbursement files.
type RosterExportService struct {
	ledger rosterExportLedger
	xlsx   titledRenderer
	csv    tableRenderer
	pdf    titledRenderer
	logger *zap.Logger
}

// NewRosterExportService constructs the exporter; nil renderers use the defaults.
func NewRosterExportService(ledger rosterExportLedger, xlsx titledRenderer, csv tableRenderer, pdf titledRenderer, logger *zap.Logger) *RosterExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if xlsx == nil {
		xlsx = export.NewExcelExporter()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &RosterExportService{ledger: ledger, xlsx: xlsx, csv: csv, pdf: pdf, logger: logger}
}

// Export renders the included items of a finished roster. Output is built only
// from the stored snapshot, so repeated exports of the same roster match.
func (s *RosterExportService) Export(ctx context.Context, rosterID string, format ExportFormat, actor models.Actor) (*dto.RosterExport, error) {
	if format == "" {
		format = ExportFormatXLSX
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	roster, err := s.ledger.Get(ctx, rosterID)
	if err != nil {
		return nil, err
	}
	if roster.Status != models.RosterStatusCompleted && roster.Status != models.RosterStatusLocked {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("roster %s is %s; only completed or locked rosters can be exported", roster.RosterCode, roster.Status))
	}
	items, err := s.ledger.Items(ctx, rosterID, true)
	if err != nil {
		return nil, err
	}

	dataset := BuildRosterDataset(roster, items)
	title := fmt.Sprintf("Disbursement Roster %s (%s)", roster.RosterCode, roster.PeriodLabel)
	var content []byte
	switch format {
	case ExportFormatXLSX:
		content, err = s.xlsx.Render(dataset, title)
	case ExportFormatCSV:
		content, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		content, err = s.pdf.Render(dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster export")
	}

	if err := s.ledger.RecordAudit(ctx, rosterID, models.AuditActionExport, models.AuditLevelInfo, actor,
		fmt.Sprintf("exported %s with %d rows", format, len(items)), nil,
		map[string]interface{}{"format": format, "rows": len(items)}); err != nil {
		s.logger.Warn("failed to audit roster export", zap.String("roster_id", rosterID), zap.Error(err))
	}

	return &dto.RosterExport{
		FileName:    fmt.Sprintf("%s.%s", exportFileStem(roster.RosterCode), format),
		ContentType: contentType,
		Content:     content,
	}, nil
}

// BuildRosterDataset maps included snapshot items onto the disbursement form.
func BuildRosterDataset(roster *models.PaymentRoster, items []models.PaymentRosterItem) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		if !item.IsIncluded {
			continue
		}
		rows = append(rows, map[string]string{
			"No":               strconv.Itoa(len(rows) + 1),
			"Application Code": item.AppCode,
			"Student Number":   item.StudentNumber,
			"Student Name":     item.StudentName,
			"College":          item.CollegeCode,
			"Sub-type":         item.SubType,
			"Bank Code":        item.BankCode,
			"Bank Account":     item.BankAccount,
			"Account Holder":   item.AccountHolder,
			"Amount":           item.Amount.StringFixed(2),
			"Remarks":          exportRemarks(item),
		})
	}
	return export.Dataset{
		Headers: rosterExportHeaders,
		Rows:    rows,
		Footer: []string{
			fmt.Sprintf("Roster %s, period %s", roster.RosterCode, roster.PeriodLabel),
			fmt.Sprintf("Qualified: %d, total amount: %s", len(rows), roster.TotalAmount.StringFixed(2)),
		},
	}
}

func exportRemarks(item models.PaymentRosterItem) string {
	parts := make([]string, 0, 3)
	status := string(item.VerificationStatus)
	if item.VerificationStatus == models.VerificationNeedsReview && item.VerificationMessage != "" {
		status += " (" + item.VerificationMessage + ")"
	}
	if status != "" {
		parts = append(parts, "verification: "+status)
	}
	if len(item.WarningRules) > 0 {
		parts = append(parts, "warnings: "+strings.Join(item.WarningRules, ", "))
	}
	if item.BankVerificationStatus != "" && item.BankVerificationStatus != models.BankVerificationPending {
		parts = append(parts, "bank: "+string(item.BankVerificationStatus))
	}
	return strings.Join(parts, "; ")
}

func exportFileStem(code string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-")
	return replacer.Replace(code)
}
