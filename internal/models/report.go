package models

// ReportFormat enumerates supported roster report formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportRequest selects the format of a roster report.
type ReportRequest struct {
	Format ReportFormat `form:"format" json:"format" validate:"required,oneof=csv pdf"`
}
