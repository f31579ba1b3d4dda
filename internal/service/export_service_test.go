package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/gestclasse-api/internal/grading"
	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/internal/repository"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
	"github.com/noah-isme/gestclasse-api/pkg/jobs"
	"github.com/noah-isme/gestclasse-api/pkg/storage"
)

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type viewSourceStub struct {
	views []models.SheetView
}

func (v *viewSourceStub) ExportableViews() []models.SheetView {
	return v.views
}

func newExportServiceForTest(t *testing.T, views ...models.SheetView) (*ExportService, *queueStub, *repository.ExportJobRepository) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	jobStore := repository.NewExportJobRepository()
	svc := NewExportService(&viewSourceStub{views: views}, jobStore, files, signer, NewMetricsService(), nil, ExportConfig{
		APIPrefix:  "/api/v1",
		ResultTTL:  time.Hour,
		MaxRetries: 2,
	})
	queue := &queueStub{}
	svc.SetQueue(queue)
	return svc, queue, jobStore
}

func sampleView(semester int) models.SheetView {
	raw := []models.Student{
		{ID: "a", FirstName: "Awa", LastName: "Diop", Gender: models.GenderFemale, D1: models.NewScore(12), Exam: models.NewScore(14)},
		{ID: "b"},
		{ID: "c", FirstName: "Moussa", LastName: "Fall", Gender: models.GenderMale},
	}
	var prior *grading.PriorSemester
	if semester == 2 {
		prior = grading.NewPriorSemester([]models.Student{{ID: "x", FirstName: "Awa", LastName: "Diop", Exam: models.NewScore(16)}})
	}
	derived := grading.Recalculate(raw, 2, prior)
	meta := models.SheetMetadata{Class: "3T1", Subject: "SVT", Semester: semester, Teacher: "M. Ndiaye", Coefficient: 2}
	return models.SheetView{
		Key:      meta.Key().String(),
		Metadata: meta,
		Students: derived,
		Stats:    grading.ComputeStats(derived),
	}
}

func TestBuildDocumentSemesterOne(t *testing.T) {
	doc := BuildDocument(sampleView(1))

	assert.NotContains(t, doc.Table.Headers, colAnnual)
	assert.Equal(t, []string{colNumber, colFirstName, colLastName, colGender, colD1, colD2, colD3, colContinuous, colExam, colFinal, colWeighted, colRank, colMention}, doc.Table.Headers)
	assert.Len(t, doc.Widths, len(doc.Table.Headers))
	require.Len(t, doc.Table.Rows, 2)

	awa := doc.Table.Rows[0]
	assert.Equal(t, "1", awa[colNumber])
	assert.Equal(t, "12", awa[colD1])
	assert.Equal(t, "", awa[colD2])
	assert.Equal(t, "12.00", awa[colContinuous])
	assert.Equal(t, "13.00", awa[colFinal])
	assert.Equal(t, "26.00", awa[colWeighted])
	assert.Equal(t, "1", awa[colRank])
	assert.Equal(t, grading.MentionAssezBien, awa[colMention])

	moussa := doc.Table.Rows[1]
	assert.Equal(t, "2", moussa[colNumber])
	assert.Equal(t, "", moussa[colFinal])
	assert.Equal(t, "", moussa[colMention])

	assert.Equal(t, "Effectif Total", doc.Stats[0][0].Label)
	assert.Equal(t, "1", doc.Stats[0][0].Value)
	assert.Equal(t, "13.00", doc.Stats[1][0].Value)
}

func TestBuildDocumentSemesterTwoHasAnnualColumn(t *testing.T) {
	doc := BuildDocument(sampleView(2))

	assert.Contains(t, doc.Table.Headers, colAnnual)
	assert.Len(t, doc.Widths, len(doc.Table.Headers))
	assert.Equal(t, "10.50", doc.Table.Rows[0][colAnnual])
	assert.Equal(t, "0.00", doc.Table.Rows[1][colAnnual])
}

func TestFilenameAndFormat(t *testing.T) {
	meta := models.SheetMetadata{Class: "3T1", Subject: "SVT", Semester: 2}
	assert.Equal(t, "Releve_3T1_SVT_S2.pdf", Filename(meta, models.ExportFormatPDF))

	format, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatXLSX, format)
	format, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, models.ExportFormatXLSX, format)
	_, err = ParseFormat("docx")
	assert.True(t, errors.Is(err, appErrors.ErrExportFormat))
}

func TestRenderSheetFormats(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)
	view := sampleView(1)

	xlsx, err := svc.RenderSheet(view, models.ExportFormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "Releve_3T1_SVT_S1.xlsx", xlsx.Filename)
	f, err := excelize.OpenReader(bytes.NewReader(xlsx.Payload))
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), 1)

	pdf, err := svc.RenderSheet(view, models.ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, bytes.HasPrefix(pdf.Payload, []byte("%PDF")))

	csvFile, err := svc.RenderSheet(view, models.ExportFormatCSV)
	require.NoError(t, err)
	reader := csv.NewReader(bytes.NewReader(csvFile.Payload))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, records, []string{"CLASSE: 3T1", "DISCIPLINE: SVT"})
}

func TestRenderWorkbookWithoutData(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)
	_, err := svc.RenderWorkbook(nil)
	assert.True(t, errors.Is(err, appErrors.ErrNoExportData))

	_, err = svc.EnqueueWorkbook(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrNoExportData))
}

func TestWorkbookJobLifecycle(t *testing.T) {
	svc, queue, _ := newExportServiceForTest(t, sampleView(1), sampleView(2))

	job, err := svc.EnqueueWorkbook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, job.SheetCount)
	require.Len(t, queue.jobs, 1)

	status, err := svc.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, status.Status)

	require.NoError(t, svc.HandleJob(context.Background(), queue.jobs[0]))
	status, err = svc.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	require.NotNil(t, status.ResultURL)
	assert.Contains(t, *status.ResultURL, "/api/v1/exports/download/")

	download, err := svc.ResolveDownload(context.Background(), extractToken(*status.ResultURL))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, workbookFilename, download.Filename)

	payload, err := io.ReadAll(download.File)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"3T1_SVT_S1", "3T1_SVT_S2"}, f.GetSheetList())
}

func TestResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _ := newExportServiceForTest(t)
	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestHandleJobRejectsUnexpectedPayload(t *testing.T) {
	svc, _, jobStore := newExportServiceForTest(t)
	job := &models.ExportJob{}
	require.NoError(t, jobStore.Create(context.Background(), job))

	err := svc.HandleJob(context.Background(), jobs.Job{ID: job.ID, Payload: "oops"})
	assert.Error(t, err)
}

func TestEnqueueWorkbookQueueFailure(t *testing.T) {
	svc, queue, _ := newExportServiceForTest(t, sampleView(1))
	queue.err = errors.New("queue stopped")

	_, err := svc.EnqueueWorkbook(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestCleanupForgetsExpiredJobs(t *testing.T) {
	svc, queue, jobStore := newExportServiceForTest(t, sampleView(1))
	job, err := svc.EnqueueWorkbook(context.Background())
	require.NoError(t, err)
	require.NoError(t, svc.HandleJob(context.Background(), queue.jobs[0]))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, jobStore.Update(context.Background(), job.ID, repository.UpdateExportJobParams{FinishedAt: &old}))

	svc.Cleanup(context.Background())
	_, err = svc.JobStatus(context.Background(), job.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestGiveUpMarksJobFailed(t *testing.T) {
	svc, queue, _ := newExportServiceForTest(t, sampleView(1))
	job, err := svc.EnqueueWorkbook(context.Background())
	require.NoError(t, err)

	svc.GiveUp(queue.jobs[0], errors.New("worker crashed"))

	status, err := svc.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.Equal(t, "worker crashed", *status.ErrorMessage)
}

func TestFilenameTruncatesOnRuneBoundary(t *testing.T) {
	meta := models.SheetMetadata{Class: "3T1", Subject: strings.Repeat("é", 120), Semester: 1}
	name := Filename(meta, models.ExportFormatCSV)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, 100, utf8.RuneCountInString(strings.TrimSuffix(name, ".csv")))
}
