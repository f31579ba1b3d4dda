package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gestclasse-api/internal/dto"
	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
	"github.com/noah-isme/gestclasse-api/pkg/response"
)

type sheetService interface {
	Catalog() catalog.Catalog
	ParseKey(raw string) (models.SheetKey, error)
	View(key models.SheetKey) (*models.SheetView, error)
	ActiveView() (*models.SheetView, error)
	Select(ctx context.Context, req dto.SelectSheetRequest) (*models.SheetView, error)
	Dashboard() []models.SheetSummary
	UpdateMetadata(ctx context.Context, key models.SheetKey, req dto.UpdateMetadataRequest) (*models.SheetView, error)
	UpdateStudent(ctx context.Context, key models.SheetKey, studentID string, req dto.UpdateStudentRequest) (*models.SheetView, bool, error)
	Sort(ctx context.Context, key models.SheetKey) (*models.SheetView, error)
	Reset(ctx context.Context, key models.SheetKey) (*models.SheetView, error)
	Save(ctx context.Context) error
}

// SheetHandler exposes grade sheet endpoints.
type SheetHandler struct {
	sheets sheetService
}

// NewSheetHandler constructs the handler.
func NewSheetHandler(sheets sheetService) *SheetHandler {
	return &SheetHandler{sheets: sheets}
}

func (h *SheetHandler) key(c *gin.Context) (models.SheetKey, bool) {
	key, err := h.sheets.ParseKey(c.Param("key"))
	if err != nil {
		response.Error(c, err)
		return models.SheetKey{}, false
	}
	return key, true
}

// Catalog godoc
// @Summary List classes and subjects
// @Tags Sheets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog [get]
func (h *SheetHandler) Catalog(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.sheets.Catalog())
}

// Dashboard godoc
// @Summary Summarise every sheet
// @Tags Sheets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *SheetHandler) Dashboard(c *gin.Context) {
	summaries := h.sheets.Dashboard()
	response.JSON(c, http.StatusOK, summaries, map[string]interface{}{"total": len(summaries)})
}

// Save godoc
// @Summary Persist the grade database
// @Tags Sheets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /save [post]
func (h *SheetHandler) Save(c *gin.Context) {
	if err := h.sheets.Save(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"saved": true})
}

// Active godoc
// @Summary Currently selected sheet
// @Tags Sheets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sheets/active [get]
func (h *SheetHandler) Active(c *gin.Context) {
	view, err := h.sheets.ActiveView()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Select godoc
// @Summary Select a class, subject and semester
// @Tags Sheets
// @Accept json
// @Produce json
// @Param payload body dto.SelectSheetRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Router /sheets/select [post]
func (h *SheetHandler) Select(c *gin.Context) {
	var req dto.SelectSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid selection payload"))
		return
	}
	view, err := h.sheets.Select(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Get godoc
// @Summary Recomputed sheet
// @Tags Sheets
// @Produce json
// @Param key path string true "Sheet key, e.g. 3T1_SVT_S1"
// @Success 200 {object} response.Envelope
// @Router /sheets/{key} [get]
func (h *SheetHandler) Get(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	view, err := h.sheets.View(key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// UpdateMetadata godoc
// @Summary Edit one metadata field
// @Description Class and semester edits navigate to another sheet; meta.key names the sheet returned.
// @Tags Sheets
// @Accept json
// @Produce json
// @Param key path string true "Sheet key"
// @Param payload body dto.UpdateMetadataRequest true "Field update"
// @Success 200 {object} response.Envelope
// @Router /sheets/{key}/metadata [patch]
func (h *SheetHandler) UpdateMetadata(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	var req dto.UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid metadata payload"))
		return
	}
	view, err := h.sheets.UpdateMetadata(c.Request.Context(), key, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, map[string]interface{}{"key": view.Key})
}

// UpdateStudent godoc
// @Summary Edit one student field
// @Description Rejected values leave the roster unchanged and report meta.applied=false.
// @Tags Sheets
// @Accept json
// @Produce json
// @Param key path string true "Sheet key"
// @Param id path string true "Student ID"
// @Param payload body dto.UpdateStudentRequest true "Field update"
// @Success 200 {object} response.Envelope
// @Router /sheets/{key}/students/{id} [patch]
func (h *SheetHandler) UpdateStudent(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	var req dto.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student payload"))
		return
	}
	view, applied, err := h.sheets.UpdateStudent(c.Request.Context(), key, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, map[string]interface{}{"applied": applied})
}

// Sort godoc
// @Summary Sort the roster by final average
// @Tags Sheets
// @Produce json
// @Param key path string true "Sheet key"
// @Success 200 {object} response.Envelope
// @Router /sheets/{key}/sort [post]
func (h *SheetHandler) Sort(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	view, err := h.sheets.Sort(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}

// Reset godoc
// @Summary Clear every student of a sheet
// @Tags Sheets
// @Produce json
// @Param key path string true "Sheet key"
// @Success 200 {object} response.Envelope
// @Router /sheets/{key}/reset [post]
func (h *SheetHandler) Reset(c *gin.Context) {
	key, ok := h.key(c)
	if !ok {
		return
	}
	view, err := h.sheets.Reset(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view)
}
