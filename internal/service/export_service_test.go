package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-roster/internal/models"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/export"
)

type snapshotStub struct {
	snap models.RosterSnapshot
}

func (s snapshotStub) Snapshot() models.RosterSnapshot { return s.snap }

func sampleSnapshot() models.RosterSnapshot {
	return models.RosterSnapshot{
		Active: true,
		Scope:  models.Scope{OwnerID: "teacher-1", AcademicYear: "2024-2025", ClassStandard: "5", Division: "A", ByClass: true},
		Visible: []models.Student{
			{RollNo: "1", FullName: "Priya Shinde", ClassStandard: "5", Division: "A", Gender: "female", BirthDate: "2014-03-09", Age: 10, AadhaarNo: "123456789012", FatherMobile: "9876543210", MotherMobile: "12345"},
		},
	}
}

func newExportServiceForTest(snap models.RosterSnapshot) *ExportService {
	svc := NewExportService(snapshotStub{snap: snap}, zap.NewNop(), export.NewCSVExporter(), nil)
	svc.now = func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc := newExportServiceForTest(sampleSnapshot())
	result, err := svc.Generate(context.Background(), models.ReportRequest{Format: "CSV"})
	require.NoError(t, err)

	assert.Equal(t, "roster-2024-2025-5A-20240701.csv", result.Filename)
	assert.Equal(t, 1, result.Rows)
	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1,Priya Shinde,5,A,female,09 Mar 2014,10,1234 5678 9012,98765 43210,12345,", lines[1])
}

func TestExportServiceGeneratePDF(t *testing.T) {
	svc := newExportServiceForTest(sampleSnapshot())
	result, err := svc.Generate(context.Background(), models.ReportRequest{Format: models.ReportFormatPDF})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Data, []byte("%PDF")))
}

func TestExportServiceRejects(t *testing.T) {
	svc := newExportServiceForTest(sampleSnapshot())
	_, err := svc.Generate(context.Background(), models.ReportRequest{Format: "xlsx"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	inactive := newExportServiceForTest(models.RosterSnapshot{})
	_, err = inactive.Generate(context.Background(), models.ReportRequest{Format: models.ReportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrNotAuthenticated)
}
