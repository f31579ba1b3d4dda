package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/internal/repository"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
	"github.com/noah-isme/gestclasse-api/pkg/export"
	"github.com/noah-isme/gestclasse-api/pkg/jobs"
	"github.com/noah-isme/gestclasse-api/pkg/storage"
)

// Report headings printed on every transcript.
var (
	identityLeft = []string{
		"REPUBLIQUE DU SENEGAL",
		"Un Peuple – Un But – Une Foi",
		"Ministère de l'Education nationale",
	}
	identityRight = []string{
		"INSPECTION D'ACADEMIE DE LOUGA",
		"I.E.F DE LOUGA",
		"BST DE LOUGA",
		"TEL: 77 521 22 88 / 33 897 96 53",
	}
)

const (
	colNumber     = "N°"
	colFirstName  = "PRENOMS"
	colLastName   = "NOMS"
	colGender     = "SEXE"
	colD1         = "D1"
	colD2         = "D2"
	colD3         = "D3"
	colContinuous = "MOY DEV"
	colExam       = "COMP"
	colFinal      = "MOYENNE"
	colWeighted   = "MOY*COEF"
	colAnnual     = "MOY AN"
	colRank       = "RANG"
	colMention    = "MENTION"

	workbookJobType  = "workbook"
	workbookFilename = "GestClasse_Base_Complete.xlsx"
)

var contentTypes = map[models.ExportFormat]string{
	models.ExportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	models.ExportFormatPDF:  "application/pdf",
	models.ExportFormatCSV:  "text/csv; charset=utf-8",
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration, keep ...string) ([]string, error)
}

type csvRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document, title string) ([]byte, error)
}

type xlsxRenderer interface {
	Render(doc export.Document) ([]byte, error)
	RenderWorkbook(docs []export.NamedDocument) ([]byte, error)
}

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
	Delete(ctx context.Context, id string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportableSource interface {
	ExportableViews() []models.SheetView
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// RenderedFile is an export ready to be streamed to the client.
type RenderedFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportService renders transcripts and runs workbook export jobs.
type ExportService struct {
	sheets  exportableSource
	jobs    exportJobStore
	queue   jobDispatcher
	storage fileStorage
	signer  *storage.SignedURLSigner
	csv     csvRenderer
	pdf     pdfRenderer
	xlsx    xlsxRenderer
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the default implementations.
func NewExportService(sheets exportableSource, jobStore exportJobStore, storage fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExportService{
		sheets:  sheets,
		jobs:    jobStore,
		storage: storage,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		xlsx:    export.NewXLSXExporter(),
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// SetQueue attaches the dispatcher once the worker queue exists, since the
// queue handler itself needs the service.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// ParseFormat validates a format query value.
func ParseFormat(raw string) (models.ExportFormat, error) {
	format := models.ExportFormat(strings.ToLower(strings.TrimSpace(raw)))
	if format == "" {
		return models.ExportFormatXLSX, nil
	}
	if _, ok := contentTypes[format]; !ok {
		return "", appErrors.Clone(appErrors.ErrExportFormat, fmt.Sprintf("unsupported export format %q", raw))
	}
	return format, nil
}

// Filename returns Releve_{class}_{subject}_S{n}.{ext}.
func Filename(meta models.SheetMetadata, format models.ExportFormat) string {
	name := fmt.Sprintf("Releve_%s_%s_S%d", meta.Class, meta.Subject, meta.Semester)
	return fmt.Sprintf("%s.%s", sanitizeFilename(name), format)
}

func sanitizeFilename(raw string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "\"", "")
	result := replacer.Replace(raw)
	if runes := []rune(result); len(runes) > 100 {
		return string(runes[:100])
	}
	return result
}

// RenderSheet renders one recomputed sheet.
func (s *ExportService) RenderSheet(view models.SheetView, format models.ExportFormat) (*RenderedFile, error) {
	doc := BuildDocument(view)
	var (
		payload []byte
		err     error
	)
	switch format {
	case models.ExportFormatXLSX:
		payload, err = s.xlsx.Render(doc)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(doc, "Relevé de notes")
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(doc)
	default:
		err = appErrors.Clone(appErrors.ErrExportFormat, fmt.Sprintf("unsupported export format %q", format))
	}
	s.metrics.RecordExport(string(format), err)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return &RenderedFile{
		Filename:    Filename(view.Metadata, format),
		ContentType: contentTypes[format],
		Payload:     payload,
	}, nil
}

// RenderWorkbook renders every view into one workbook, one worksheet each.
func (s *ExportService) RenderWorkbook(views []models.SheetView) ([]byte, error) {
	if len(views) == 0 {
		return nil, appErrors.ErrNoExportData
	}
	docs := make([]export.NamedDocument, len(views))
	for i, view := range views {
		docs[i] = export.NamedDocument{Name: view.Metadata.Key().String(), Document: BuildDocument(view)}
	}
	payload, err := s.xlsx.RenderWorkbook(docs)
	s.metrics.RecordExport(workbookJobType, err)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render workbook")
	}
	return payload, nil
}

// EnqueueWorkbook snapshots every exportable sheet and queues the workbook
// render. Sheets edited afterwards do not affect the job.
func (s *ExportService) EnqueueWorkbook(ctx context.Context) (*models.ExportJob, error) {
	views := s.sheets.ExportableViews()
	if len(views) == 0 {
		return nil, appErrors.ErrNoExportData
	}
	if s.queue == nil {
		return nil, appErrors.Wrap(fmt.Errorf("export queue missing"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "export worker unavailable")
	}
	job := &models.ExportJob{Status: models.ExportStatusQueued, SheetCount: len(views)}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: workbookJobType, Payload: views}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// JobStatus returns the current job metadata.
func (s *ExportService) JobStatus(ctx context.Context, id string) (*models.ExportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// HandleJob is the queue handler rendering a workbook job.
func (s *ExportService) HandleJob(ctx context.Context, job jobs.Job) error {
	views, ok := job.Payload.([]models.SheetView)
	if !ok {
		return fmt.Errorf("export job %s: unexpected payload %T", job.ID, job.Payload)
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing, Progress: &progress}); err != nil {
		return err
	}

	url, err := s.storeWorkbook(job.ID, views)
	if err != nil {
		msg := err.Error()
		params := repository.UpdateExportJobParams{ErrorMessage: &msg}
		if job.Attempt >= s.cfg.MaxRetries {
			failed := models.ExportStatusFailed
			done := 100
			now := time.Now().UTC()
			params.Status, params.Progress, params.FinishedAt = &failed, &done, &now
		} else {
			queued := models.ExportStatusQueued
			reset := 0
			params.Status, params.Progress = &queued, &reset
		}
		if updateErr := s.jobs.Update(ctx, job.ID, params); updateErr != nil {
			s.logger.Sugar().Warnw("failed to record export failure", "job_id", job.ID, "error", updateErr)
		}
		return err
	}

	finished := models.ExportStatusFinished
	progress = 100
	now := time.Now().UTC()
	clear := ""
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark export finished", "job_id", job.ID, "error", err)
		return err
	}
	s.logger.Info("workbook export finished", zap.String("job_id", job.ID), zap.Int("sheets", len(views)))
	return nil
}

// GiveUp marks a job FAILED once the queue stops retrying it.
func (s *ExportService) GiveUp(job jobs.Job, cause error) {
	ctx := context.Background()
	current, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil || current.Status == models.ExportStatusFailed || current.Status == models.ExportStatusFinished {
		return
	}
	failed := models.ExportStatusFailed
	done := 100
	now := time.Now().UTC()
	msg := cause.Error()
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &failed,
		Progress:     &done,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to record abandoned export", "job_id", job.ID, "error", err)
	}
	s.metrics.RecordExport(workbookJobType, cause)
}

func (s *ExportService) storeWorkbook(jobID string, views []models.SheetView) (string, error) {
	payload, err := s.RenderWorkbook(views)
	if err != nil {
		return "", err
	}
	relPath, err := s.storage.Save(filepath.Join(jobID, workbookFilename), payload)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		return "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/download/%s", prefix, token), nil
}

// ResolveDownload validates a token and opens the stored workbook.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrJobPending, "export not ready")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:        file,
		Filename:    filepath.Base(relPath),
		ContentType: contentTypes[models.ExportFormatXLSX],
		ExpiresAt:   expiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup(ctx)
			}
		}
	}()
}

// Cleanup forgets jobs finished longer than the result TTL ago and removes
// their files.
func (s *ExportService) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	expired, err := s.jobs.ListFinishedBefore(ctx, cutoff, 0)
	if err != nil {
		s.logger.Sugar().Warnw("cleanup list failed", "error", err)
		return
	}
	for _, job := range expired {
		if job.ResultURL != nil {
			if _, relPath, _, err := s.signer.Parse(extractToken(*job.ResultURL), true); err == nil {
				if err := s.storage.Delete(relPath); err != nil {
					s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
				}
			}
		}
		_ = s.jobs.Delete(ctx, job.ID)
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

func extractToken(url string) string {
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// BuildDocument lays out a recomputed sheet as a printable transcript. Only
// named students are listed; the annual column exists for semester 2 only.
func BuildDocument(view models.SheetView) export.Document {
	isS2 := view.Metadata.Semester == 2
	headers := []string{colNumber, colFirstName, colLastName, colGender, colD1, colD2, colD3, colContinuous, colExam, colFinal, colWeighted}
	widths := []float64{5, 25, 20, 6, 5, 5, 5, 10, 8, 10, 10}
	if isS2 {
		headers = append(headers, colAnnual)
		widths = append(widths, 12)
	}
	headers = append(headers, colRank, colMention)
	widths = append(widths, 8, 15)

	rows := make([]map[string]string, 0)
	for _, st := range view.Students {
		if !st.Named() {
			continue
		}
		row := map[string]string{
			colNumber:    strconv.Itoa(len(rows) + 1),
			colFirstName: st.FirstName,
			colLastName:  st.LastName,
			colGender:    string(st.Gender),
			colD1:        formatScore(st.D1),
			colD2:        formatScore(st.D2),
			colD3:        formatScore(st.D3),
			colExam:      formatScore(st.Exam),
			colRank:      strconv.Itoa(st.Rank),
			colMention:   st.Mention,
		}
		if st.HasAnyInput {
			row[colContinuous] = formatAverage(st.ContinuousAverage)
			row[colFinal] = formatAverage(st.FinalAverage)
			row[colWeighted] = formatAverage(st.WeightedAverage)
		}
		if isS2 {
			row[colAnnual] = "-"
			if st.AnnualAverage != nil {
				row[colAnnual] = formatAverage(*st.AnnualAverage)
			}
		}
		rows = append(rows, row)
	}

	stats := view.Stats
	return export.Document{
		LeftHeader:  identityLeft,
		RightHeader: identityRight,
		MetaRows: [][]export.Field{
			{{Label: "CLASSE", Value: view.Metadata.Class}, {Label: "DISCIPLINE", Value: view.Metadata.Subject}},
			{{Label: "PROFESSEUR", Value: view.Metadata.Teacher}, {Label: "SEMESTRE", Value: strconv.Itoa(view.Metadata.Semester)}},
			{{Label: "COEF", Value: strconv.FormatFloat(view.Metadata.Coefficient, 'f', -1, 64)}},
		},
		Table:  export.Dataset{Headers: headers, Rows: rows},
		Widths: widths,
		Fills: map[string]string{
			colNumber: "A8998A", colFirstName: "A8998A", colLastName: "A8998A", colGender: "A8998A",
			colD1: "A8998A", colD2: "A8998A", colD3: "A8998A", colExam: "A8998A",
			colContinuous: "BDAEA1", colFinal: "BDAEA1", colWeighted: "BDAEA1",
			colAnnual: "FEF9C3", colRank: "A8998A", colMention: "A8998A",
		},
		Numeric: map[string]bool{
			colNumber: true, colD1: true, colD2: true, colD3: true, colContinuous: true, colExam: true,
			colFinal: true, colWeighted: true, colAnnual: true, colRank: true,
		},
		StatsTitle: "STATISTIQUES",
		Stats: [][]export.Field{
			{{Label: "Effectif Total", Value: strconv.Itoa(stats.TotalStudents)}},
			{{Label: "Moyenne de classe", Value: formatAverage(stats.ClassAverage)}},
			{{Label: "Admis (>=10)", Value: strconv.Itoa(stats.PassCount)}, {Label: "Echecs (<10)", Value: strconv.Itoa(stats.FailCount)}},
			{{Label: "Garçons", Value: strconv.Itoa(stats.MaleCount)}, {Label: "Admis Garçons", Value: strconv.Itoa(stats.MalePassCount)}},
			{{Label: "Filles", Value: strconv.Itoa(stats.FemaleCount)}, {Label: "Admis Filles", Value: strconv.Itoa(stats.FemalePassCount)}},
		},
	}
}

func formatScore(score models.Score) string {
	if !score.Set {
		return ""
	}
	return strconv.FormatFloat(score.Value, 'f', -1, 64)
}

func formatAverage(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
