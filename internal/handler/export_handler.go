package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/internal/service"
	"github.com/noah-isme/gestclasse-api/pkg/response"
)

type sheetViewer interface {
	ParseKey(raw string) (models.SheetKey, error)
	View(key models.SheetKey) (*models.SheetView, error)
}

type exportService interface {
	RenderSheet(view models.SheetView, format models.ExportFormat) (*service.RenderedFile, error)
	EnqueueWorkbook(ctx context.Context) (*models.ExportJob, error)
	JobStatus(ctx context.Context, id string) (*models.ExportJob, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ExportHandler exposes transcript downloads and workbook jobs.
type ExportHandler struct {
	sheets  sheetViewer
	exports exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(sheets sheetViewer, exports exportService) *ExportHandler {
	return &ExportHandler{sheets: sheets, exports: exports}
}

// ExportSheet godoc
// @Summary Download one sheet transcript
// @Tags Exports
// @Produce application/octet-stream
// @Param key path string true "Sheet key"
// @Param format query string false "xlsx, pdf or csv" default(xlsx)
// @Success 200 {file} file
// @Router /sheets/{key}/export [get]
func (h *ExportHandler) ExportSheet(c *gin.Context) {
	key, err := h.sheets.ParseKey(c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return
	}
	format, err := service.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.sheets.View(key)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exports.RenderSheet(*view, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}

// ExportWorkbook godoc
// @Summary Queue a workbook of every sheet with students
// @Tags Exports
// @Produce json
// @Success 202 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /exports/workbook [post]
func (h *ExportHandler) ExportWorkbook(c *gin.Context) {
	job, err := h.exports.EnqueueWorkbook(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// JobStatus godoc
// @Summary Workbook export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /exports/jobs/{id} [get]
func (h *ExportHandler) JobStatus(c *gin.Context) {
	job, err := h.exports.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job)
}

// Download godoc
// @Summary Download a finished workbook via signed token
// @Tags Exports
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	download, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck
	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": `attachment; filename="` + download.Filename + `"`,
	})
}
