package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/export"
	"github.com/noah-isme/classroom-roster/pkg/format"
)

type rosterViewer interface {
	Snapshot() models.RosterSnapshot
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, subtitle ...string) ([]byte, error)
}

// ExportResult is a rendered roster report.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders the visible roster as CSV or PDF reports.
type ExportService struct {
	roster    rosterViewer
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

var reportHeaders = []string{
	"Roll No", "Name", "Class", "Division", "Gender", "Birth Date", "Age",
	"Aadhaar", "Father Mobile", "Mother Mobile", "Category",
}

// NewExportService constructs an ExportService.
func NewExportService(roster rosterViewer, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = &export.CSVExporter{BOM: true}
	}
	if pdf == nil {
		pdf = &export.PDFExporter{Widths: map[string]float64{"Roll No": 18, "Age": 12, "Division": 18, "Gender": 18}}
	}
	return &ExportService{
		roster:    roster,
		csv:       csv,
		pdf:       pdf,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders the currently visible roster in the requested format.
func (s *ExportService) Generate(ctx context.Context, req models.ReportRequest) (*ExportResult, error) {
	req.Format = models.ReportFormat(strings.ToLower(string(req.Format)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported report format")
	}
	snap := s.roster.Snapshot()
	if !snap.Active {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "no active session")
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "report cancelled")
	}

	dataset := buildRosterDataset(snap.Visible)
	var (
		data        []byte
		contentType string
		err         error
	)
	switch req.Format {
	case models.ReportFormatPDF:
		data, err = s.pdf.Render(dataset, "Class Roster", reportSubtitle(snap.Scope, len(snap.Visible)))
		contentType = "application/pdf"
	default:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		s.logger.Error("failed to render roster report", zap.String("format", string(req.Format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	return &ExportResult{
		Filename:    s.buildFilename(snap.Scope, req.Format),
		ContentType: contentType,
		Data:        data,
		Rows:        len(dataset.Rows),
	}, nil
}

func (s *ExportService) buildFilename(scope models.Scope, f models.ReportFormat) string {
	parts := []string{"roster"}
	if scope.AcademicYear != "" {
		parts = append(parts, scope.AcademicYear)
	}
	if scope.ByClass && scope.ClassStandard != "" {
		parts = append(parts, sanitizeFilename(scope.ClassStandard+scope.Division))
	}
	parts = append(parts, s.now().Format("20060102"))
	return strings.Join(parts, "-") + "." + string(f)
}

func sanitizeFilename(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func reportSubtitle(scope models.Scope, count int) string {
	parts := make([]string, 0, 3)
	if scope.AcademicYear != "" {
		parts = append(parts, "Academic year "+scope.AcademicYear)
	}
	if scope.ByClass && scope.ClassStandard != "" {
		parts = append(parts, strings.TrimSpace(fmt.Sprintf("Class %s %s", scope.ClassStandard, scope.Division)))
	}
	parts = append(parts, fmt.Sprintf("%d students", count))
	return strings.Join(parts, " | ")
}

func buildRosterDataset(students []models.Student) export.Dataset {
	rows := make([]map[string]string, 0, len(students))
	for _, st := range students {
		rows = append(rows, map[string]string{
			"Roll No":       st.RollNo,
			"Name":          st.FullName,
			"Class":         st.ClassStandard,
			"Division":      st.Division,
			"Gender":        st.Gender,
			"Birth Date":    format.Date(st.BirthDate),
			"Age":           strconv.Itoa(st.Age),
			"Aadhaar":       format.Aadhaar(st.AadhaarNo),
			"Father Mobile": format.Mobile(st.FatherMobile),
			"Mother Mobile": format.Mobile(st.MotherMobile),
			"Category":      st.CasteCategory,
		})
	}
	return export.Dataset{Headers: reportHeaders, Rows: rows}
}
