package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gestclasse-api/internal/dto"
	"github.com/noah-isme/gestclasse-api/internal/grading"
	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
)

// SheetServiceConfig tunes SheetService behaviour.
type SheetServiceConfig struct {
	Autosave bool
}

// SheetService exposes recomputed sheet views and routes edits to the store.
type SheetService struct {
	store     *SheetStore
	catalog   catalog.Catalog
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SheetServiceConfig
}

// NewSheetService constructs the service.
func NewSheetService(store *SheetStore, cat catalog.Catalog, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg SheetServiceConfig) *SheetService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetService{store: store, catalog: cat, validator: validate, metrics: metrics, logger: logger, cfg: cfg}
}

// Catalog returns the configured classes and subjects.
func (s *SheetService) Catalog() catalog.Catalog {
	return s.catalog
}

// ParseKey converts a path parameter into a sheet key.
func (s *SheetService) ParseKey(raw string) (models.SheetKey, error) {
	key, err := models.ParseSheetKey(raw)
	if err != nil {
		return models.SheetKey{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sheet key")
	}
	return key, nil
}

func (s *SheetService) compute(key models.SheetKey, sheet models.Sheet, prior *grading.PriorSemester) *models.SheetView {
	start := time.Now()
	derived := grading.Recalculate(sheet.Students, sheet.Metadata.Coefficient, prior)
	stats := grading.ComputeStats(derived)
	s.metrics.ObserveRecalculation(sheet.Metadata.Semester, time.Since(start))
	return &models.SheetView{
		Key:      key.String(),
		Metadata: sheet.Metadata,
		Students: derived,
		Stats:    stats,
	}
}

// View recomputes one sheet, blending semester-2 sheets with semester 1.
func (s *SheetService) View(key models.SheetKey) (*models.SheetView, error) {
	sheet, ok := s.store.Get(key)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sheet %s not found", key))
	}
	return s.compute(key, sheet, s.store.PriorSemester(key)), nil
}

// ActiveView returns the selected sheet, selecting the first catalog sheet
// when nothing has been chosen yet.
func (s *SheetService) ActiveView() (*models.SheetView, error) {
	key, ok := s.store.Active()
	if !ok {
		if len(s.catalog.Classes) == 0 || len(s.catalog.Subjects) == 0 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no sheet selected")
		}
		key = models.SheetKey{Class: s.catalog.Classes[0], Subject: s.catalog.Subjects[0], Semester: catalog.Semesters[0]}
		s.store.Select(key)
	}
	return s.View(key)
}

// Select navigates to a sheet, creating it on first use.
func (s *SheetService) Select(ctx context.Context, req dto.SelectSheetRequest) (*models.SheetView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sheet selection")
	}
	key := models.SheetKey{Class: req.Class, Subject: req.Subject, Semester: req.Semester}
	_, existed := s.store.Get(key)
	s.store.Select(key)
	if !existed {
		if err := s.autosave(ctx); err != nil {
			return nil, err
		}
	}
	return s.View(key)
}

// Dashboard summarises every sheet, sorted by key.
func (s *SheetService) Dashboard() []models.SheetSummary {
	snapshot := s.store.Snapshot()
	keys := sortedKeys(snapshot)
	summaries := make([]models.SheetSummary, 0, len(keys))
	for _, key := range keys {
		view := s.compute(key, snapshot[key], priorFromSnapshot(snapshot, key))
		named := 0
		for _, st := range view.Students {
			if st.Named() {
				named++
			}
		}
		summaries = append(summaries, models.SheetSummary{
			Key:          key.String(),
			Metadata:     view.Metadata,
			NamedCount:   named,
			ActiveCount:  view.Stats.TotalStudents,
			ClassAverage: view.Stats.ClassAverage,
		})
	}
	return summaries
}

// ExportableViews recomputes, from one consistent snapshot, every sheet with
// at least one named student, sorted by key.
func (s *SheetService) ExportableViews() []models.SheetView {
	snapshot := s.store.Snapshot()
	views := make([]models.SheetView, 0)
	for _, key := range sortedKeys(snapshot) {
		sheet := snapshot[key]
		if !hasNamedStudent(sheet.Students) {
			continue
		}
		views = append(views, *s.compute(key, sheet, priorFromSnapshot(snapshot, key)))
	}
	return views
}

// UpdateMetadata edits a metadata field and returns the view of the sheet
// selected afterwards.
func (s *SheetService) UpdateMetadata(ctx context.Context, key models.SheetKey, req dto.UpdateMetadataRequest) (*models.SheetView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid metadata payload")
	}
	next, err := s.store.UpdateMetadataField(key, MetadataField(req.Field), req.Value)
	if err != nil {
		return nil, err
	}
	if err := s.autosave(ctx); err != nil {
		return nil, err
	}
	return s.View(next)
}

// UpdateStudent edits one raw student field. applied is false when the
// student is unknown or the value was rejected.
func (s *SheetService) UpdateStudent(ctx context.Context, key models.SheetKey, studentID string, req dto.UpdateStudentRequest) (*models.SheetView, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, ok := s.store.Get(key); !ok {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sheet %s not found", key))
	}
	applied := s.store.UpdateStudentField(key, studentID, StudentField(req.Field), req.Value)
	if applied {
		if err := s.autosave(ctx); err != nil {
			return nil, true, err
		}
	} else {
		s.logger.Debug("student edit ignored",
			zap.String("sheet", key.String()),
			zap.String("student_id", studentID),
			zap.String("field", req.Field))
	}
	view, err := s.View(key)
	return view, applied, err
}

// Sort orders the roster by descending final average.
func (s *SheetService) Sort(ctx context.Context, key models.SheetKey) (*models.SheetView, error) {
	if !s.store.SortByFinalAverage(key) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sheet %s not found", key))
	}
	if err := s.autosave(ctx); err != nil {
		return nil, err
	}
	return s.View(key)
}

// Reset clears every student of the sheet.
func (s *SheetService) Reset(ctx context.Context, key models.SheetKey) (*models.SheetView, error) {
	if !s.store.ResetSheet(key) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sheet %s not found", key))
	}
	s.logger.Info("sheet reset", zap.String("sheet", key.String()))
	if err := s.autosave(ctx); err != nil {
		return nil, err
	}
	return s.View(key)
}

// Save persists the whole database.
func (s *SheetService) Save(ctx context.Context) error {
	if err := s.store.Save(ctx); err != nil {
		s.logger.Error("failed to save grade database", zap.Error(err))
		return err
	}
	return nil
}

func (s *SheetService) autosave(ctx context.Context) error {
	if !s.cfg.Autosave {
		return nil
	}
	return s.Save(ctx)
}

func sortedKeys(sheets map[models.SheetKey]models.Sheet) []models.SheetKey {
	keys := make([]models.SheetKey, 0, len(sheets))
	for key := range sheets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func priorFromSnapshot(sheets map[models.SheetKey]models.Sheet, key models.SheetKey) *grading.PriorSemester {
	if key.Semester != 2 {
		return nil
	}
	return grading.NewPriorSemester(sheets[key.Sibling(1)].Students)
}

func hasNamedStudent(students []models.Student) bool {
	for _, st := range students {
		if st.Named() {
			return true
		}
	}
	return false
}
