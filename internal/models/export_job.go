package models

import "time"

// ExportFormat enumerates single-sheet export formats.
type ExportFormat string

const (
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatCSV  ExportFormat = "csv"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob is the metadata of one workbook export.
type ExportJob struct {
	ID           string       `json:"id"`
	Status       ExportStatus `json:"status"`
	Progress     int          `json:"progress"`
	SheetCount   int          `json:"sheet_count"`
	ResultURL    *string      `json:"result_url,omitempty"`
	ErrorMessage *string      `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}
