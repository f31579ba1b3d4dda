package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/gestclasse-api/internal/grading"
	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
)

// MetadataField names an editable sheet metadata field.
type MetadataField string

const (
	MetadataClass       MetadataField = "class"
	MetadataSubject     MetadataField = "subject"
	MetadataSemester    MetadataField = "semester"
	MetadataTeacher     MetadataField = "teacher"
	MetadataCoefficient MetadataField = "coefficient"
)

// StudentField names an editable raw student field.
type StudentField string

const (
	StudentFirstName StudentField = "first_name"
	StudentLastName  StudentField = "last_name"
	StudentGender    StudentField = "gender"
	StudentD1        StudentField = "d1"
	StudentD2        StudentField = "d2"
	StudentD3        StudentField = "d3"
	StudentExam      StudentField = "exam"
)

// LoadFunc restores every persisted sheet. It returns an error matching
// appErrors.ErrSnapshotNotFound when nothing has been saved yet.
type LoadFunc func(ctx context.Context) (map[models.SheetKey]models.Sheet, error)

// SaveFunc persists every sheet.
type SaveFunc func(ctx context.Context, sheets map[models.SheetKey]models.Sheet) error

type sheetEntry struct {
	mu    sync.RWMutex
	sheet models.Sheet
}

func (e *sheetEntry) snapshot() models.Sheet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sheet.Clone()
}

// mutate applies fn to a private copy and swaps it in, so readers only ever
// observe complete rosters.
func (e *sheetEntry) mutate(fn func(next *models.Sheet)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.sheet.Clone()
	fn(&next)
	e.sheet = next
}

// SheetStore keeps one sheet per class/subject/semester. Each sheet has its
// own lock; the registry lock only guards the map and the active selection.
type SheetStore struct {
	mu         sync.RWMutex
	sheets     map[models.SheetKey]*sheetEntry
	active     models.SheetKey
	rosterSize int
	load       LoadFunc
	save       SaveFunc
	logger     *zap.Logger
}

// NewSheetStore builds an empty store. load and save may be nil for a purely
// in-memory store.
func NewSheetStore(rosterSize int, load LoadFunc, save SaveFunc, logger *zap.Logger) *SheetStore {
	if rosterSize <= 0 {
		rosterSize = grading.DefaultRosterSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetStore{
		sheets:     make(map[models.SheetKey]*sheetEntry),
		rosterSize: rosterSize,
		load:       load,
		save:       save,
		logger:     logger,
	}
}

// Bootstrap restores the persisted database or, when nothing usable is
// stored, seeds every catalog class/subject for both semesters. It never
// fails: unreadable state is discarded and reported through the logger.
// The returned flag tells whether persisted data was restored.
func (s *SheetStore) Bootstrap(ctx context.Context, seed catalog.Catalog) bool {
	if s.load != nil {
		sheets, err := s.load(ctx)
		switch {
		case err == nil:
			s.replaceAll(sheets)
			s.logger.Info("grade database restored", zap.Int("sheets", len(sheets)))
			return true
		case errors.Is(err, appErrors.ErrSnapshotNotFound):
			s.logger.Info("no persisted grade database, seeding a new one")
		default:
			s.logger.Warn("discarding unreadable grade database", zap.Error(err))
		}
	}
	s.Reinitialize(seed)
	return false
}

// Reinitialize drops every sheet and seeds a blank database from the catalog.
func (s *SheetStore) Reinitialize(seed catalog.Catalog) {
	sheets := make(map[models.SheetKey]models.Sheet)
	for _, class := range seed.Classes {
		for _, subject := range seed.Subjects {
			for _, semester := range catalog.Semesters {
				key := models.SheetKey{Class: class, Subject: subject, Semester: semester}
				sheets[key] = s.newSheet(key)
			}
		}
	}
	s.replaceAll(sheets)
}

func (s *SheetStore) replaceAll(sheets map[models.SheetKey]models.Sheet) {
	entries := make(map[models.SheetKey]*sheetEntry, len(sheets))
	for key, sheet := range sheets {
		entries[key] = &sheetEntry{sheet: sheet.Clone()}
	}
	s.mu.Lock()
	s.sheets = entries
	s.active = models.SheetKey{}
	s.mu.Unlock()
}

// Save hands a consistent copy of every sheet to the persistence callback.
func (s *SheetStore) Save(ctx context.Context) error {
	if s.save == nil {
		return nil
	}
	return s.save(ctx, s.Snapshot())
}

// Snapshot copies every sheet.
func (s *SheetStore) Snapshot() map[models.SheetKey]models.Sheet {
	s.mu.RLock()
	entries := make(map[models.SheetKey]*sheetEntry, len(s.sheets))
	for key, entry := range s.sheets {
		entries[key] = entry
	}
	s.mu.RUnlock()

	out := make(map[models.SheetKey]models.Sheet, len(entries))
	for key, entry := range entries {
		out[key] = entry.snapshot()
	}
	return out
}

// Keys lists existing sheet keys in key-string order.
func (s *SheetStore) Keys() []models.SheetKey {
	s.mu.RLock()
	keys := make([]models.SheetKey, 0, len(s.sheets))
	for key := range s.sheets {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (s *SheetStore) newSheet(key models.SheetKey) models.Sheet {
	return models.Sheet{
		Metadata: models.SheetMetadata{
			Subject:     key.Subject,
			Class:       key.Class,
			Semester:    key.Semester,
			Coefficient: 1,
		},
		Students: grading.GenerateRoster(s.rosterSize),
	}
}

func (s *SheetStore) entry(key models.SheetKey) (*sheetEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sheets[key]
	return e, ok
}

func (s *SheetStore) getOrCreateEntry(key models.SheetKey) *sheetEntry {
	if e, ok := s.entry(key); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sheets[key]; ok {
		return e
	}
	e := &sheetEntry{sheet: s.newSheet(key)}
	s.sheets[key] = e
	s.logger.Debug("sheet created", zap.String("sheet", key.String()))
	return e
}

// GetOrCreate returns the sheet for key, creating a blank one on first use.
func (s *SheetStore) GetOrCreate(key models.SheetKey) models.Sheet {
	return s.getOrCreateEntry(key).snapshot()
}

// Get returns a copy of an existing sheet.
func (s *SheetStore) Get(key models.SheetKey) (models.Sheet, bool) {
	e, ok := s.entry(key)
	if !ok {
		return models.Sheet{}, false
	}
	return e.snapshot(), true
}

// Select makes key the active sheet, creating it if needed.
func (s *SheetStore) Select(key models.SheetKey) models.Sheet {
	sheet := s.GetOrCreate(key)
	s.mu.Lock()
	s.active = key
	s.mu.Unlock()
	return sheet
}

// Active returns the currently selected sheet key.
func (s *SheetStore) Active() (models.SheetKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, !s.active.IsZero()
}

// PriorSemester returns the semester-1 results a semester-2 sheet blends
// with, or nil for semester-1 sheets. A missing semester-1 sheet yields an
// empty dataset so every annual average is still produced.
func (s *SheetStore) PriorSemester(key models.SheetKey) *grading.PriorSemester {
	if key.Semester != 2 {
		return nil
	}
	prior, ok := s.Get(key.Sibling(1))
	if !ok {
		return grading.NewPriorSemester(nil)
	}
	return grading.NewPriorSemester(prior.Students)
}

// UpdateMetadataField edits one metadata field and returns the key of the
// sheet selected afterwards. Class and semester changes navigate to the
// sheet for the new triple instead of editing the current one.
func (s *SheetStore) UpdateMetadataField(key models.SheetKey, field MetadataField, value string) (models.SheetKey, error) {
	e, ok := s.entry(key)
	if !ok {
		return key, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sheet %s not found", key))
	}

	switch field {
	case MetadataClass:
		class := strings.TrimSpace(value)
		if class == "" || strings.Contains(class, "_") {
			return key, appErrors.Clone(appErrors.ErrValidation, "class must be a non-blank name without '_'")
		}
		target := models.SheetKey{Class: class, Subject: key.Subject, Semester: key.Semester}
		s.Select(target)
		return target, nil
	case MetadataSemester:
		semester, ok := ParseSemester(value)
		if !ok {
			return key, appErrors.Clone(appErrors.ErrValidation, "semester must be 1 or 2")
		}
		target := key.Sibling(semester)
		s.Select(target)
		return target, nil
	case MetadataSubject:
		e.mutate(func(next *models.Sheet) { next.Metadata.Subject = value })
	case MetadataTeacher:
		e.mutate(func(next *models.Sheet) { next.Metadata.Teacher = value })
	case MetadataCoefficient:
		coefficient := ParseCoefficient(value)
		e.mutate(func(next *models.Sheet) { next.Metadata.Coefficient = coefficient })
	default:
		return key, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown metadata field %q", field))
	}
	return key, nil
}

// UpdateStudentField edits one raw field of one student. It reports whether
// the value was applied: absent sheets or students and rejected input leave
// the roster untouched.
func (s *SheetStore) UpdateStudentField(key models.SheetKey, studentID string, field StudentField, value string) bool {
	e, ok := s.entry(key)
	if !ok {
		return false
	}
	apply, ok := studentSetter(field, value)
	if !ok {
		return false
	}

	applied := false
	e.mutate(func(next *models.Sheet) {
		for i := range next.Students {
			if next.Students[i].ID == studentID {
				apply(&next.Students[i])
				applied = true
				return
			}
		}
	})
	return applied
}

func studentSetter(field StudentField, value string) (func(*models.Student), bool) {
	scoreSetter := func(pick func(*models.Student) *models.Score) (func(*models.Student), bool) {
		score, ok := ParseScore(value)
		if !ok {
			return nil, false
		}
		return func(st *models.Student) { *pick(st) = score }, true
	}

	switch field {
	case StudentFirstName:
		return func(st *models.Student) { st.FirstName = value }, true
	case StudentLastName:
		return func(st *models.Student) { st.LastName = value }, true
	case StudentGender:
		gender, ok := ParseGender(value)
		if !ok {
			return nil, false
		}
		return func(st *models.Student) { st.Gender = gender }, true
	case StudentD1:
		return scoreSetter(func(st *models.Student) *models.Score { return &st.D1 })
	case StudentD2:
		return scoreSetter(func(st *models.Student) *models.Score { return &st.D2 })
	case StudentD3:
		return scoreSetter(func(st *models.Student) *models.Score { return &st.D3 })
	case StudentExam:
		return scoreSetter(func(st *models.Student) *models.Score { return &st.Exam })
	default:
		return nil, false
	}
}

// SortByFinalAverage reorders the roster: named students by descending
// final average (ties keep their order), then blank slots untouched. Only
// the sheet's own semester is considered.
func (s *SheetStore) SortByFinalAverage(key models.SheetKey) bool {
	e, ok := s.entry(key)
	if !ok {
		return false
	}
	e.mutate(func(next *models.Sheet) {
		derived := grading.Recalculate(next.Students, next.Metadata.Coefficient, nil)
		named := make([]models.DerivedStudent, 0, len(derived))
		blank := make([]models.Student, 0, len(derived))
		for _, d := range derived {
			if d.Named() {
				named = append(named, d)
			} else {
				blank = append(blank, d.Student)
			}
		}
		sort.SliceStable(named, func(i, j int) bool {
			return named[i].FinalAverage > named[j].FinalAverage
		})
		students := make([]models.Student, 0, len(derived))
		for _, d := range named {
			students = append(students, d.Student)
		}
		next.Students = append(students, blank...)
	})
	return true
}

// ResetSheet blanks every student while keeping identifiers, roster length
// and metadata.
func (s *SheetStore) ResetSheet(key models.SheetKey) bool {
	e, ok := s.entry(key)
	if !ok {
		return false
	}
	e.mutate(func(next *models.Sheet) {
		for i := range next.Students {
			next.Students[i] = next.Students[i].Blank()
		}
	})
	return true
}
