package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gestclasse-api/internal/dto"
	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/internal/repository"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
)

func newTestSheetService(t *testing.T, autosave bool) (*SheetService, *repository.MemorySnapshotRepository) {
	t.Helper()
	repo := repository.NewMemorySnapshotRepository()
	persistence := NewPersistence(repo, 0, nil, nil)
	store := NewSheetStore(10, persistence.Load, persistence.Save, nil)
	cat := catalog.Catalog{Classes: []string{"3T1", "4T1"}, Subjects: []string{"SVT", "PC"}}
	store.Bootstrap(context.Background(), cat)
	svc := NewSheetService(store, cat, nil, NewMetricsService(), nil, SheetServiceConfig{Autosave: autosave})
	return svc, repo
}

func editStudent(t *testing.T, svc *SheetService, key models.SheetKey, id string, field StudentField, value string) {
	t.Helper()
	_, applied, err := svc.UpdateStudent(context.Background(), key, id, dto.UpdateStudentRequest{Field: string(field), Value: value})
	require.NoError(t, err)
	require.True(t, applied)
}

func TestSheetServiceActiveViewDefaultsToFirstCatalogSheet(t *testing.T) {
	svc, _ := newTestSheetService(t, false)

	view, err := svc.ActiveView()
	require.NoError(t, err)
	assert.Equal(t, "3T1_SVT_S1", view.Key)
	assert.Len(t, view.Students, 10)
	assert.Equal(t, 0, view.Stats.TotalStudents)
}

func TestSheetServiceViewRecomputes(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	view, err := svc.View(testKey)
	require.NoError(t, err)
	id := view.Students[0].ID

	editStudent(t, svc, testKey, id, StudentFirstName, "Awa")
	editStudent(t, svc, testKey, id, StudentD1, "10")
	editStudent(t, svc, testKey, id, StudentD2, "11")
	editStudent(t, svc, testKey, id, StudentD3, "12")
	editStudent(t, svc, testKey, id, StudentExam, "14")

	view, err = svc.View(testKey)
	require.NoError(t, err)
	st := view.Students[0]
	assert.Equal(t, 11.0, st.ContinuousAverage)
	assert.Equal(t, 12.5, st.FinalAverage)
	assert.Equal(t, 1, st.Rank)
	assert.Nil(t, st.AnnualAverage)
	assert.Equal(t, 1, view.Stats.TotalStudents)
	assert.Equal(t, 12.5, view.Stats.ClassAverage)
}

func TestSheetServiceSemesterTwoBlendsSemesterOne(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	s1, err := svc.View(testKey)
	require.NoError(t, err)
	s2Key := testKey.Sibling(2)
	s2, err := svc.View(s2Key)
	require.NoError(t, err)

	editStudent(t, svc, testKey, s1.Students[0].ID, StudentFirstName, "Awa")
	editStudent(t, svc, testKey, s1.Students[0].ID, StudentLastName, "Diop")
	editStudent(t, svc, testKey, s1.Students[0].ID, StudentD1, "10")
	editStudent(t, svc, testKey, s1.Students[0].ID, StudentExam, "10")

	editStudent(t, svc, s2Key, s2.Students[0].ID, StudentFirstName, "awa")
	editStudent(t, svc, s2Key, s2.Students[0].ID, StudentLastName, "DIOP ")
	editStudent(t, svc, s2Key, s2.Students[0].ID, StudentD1, "14")
	editStudent(t, svc, s2Key, s2.Students[0].ID, StudentExam, "14")
	editStudent(t, svc, s2Key, s2.Students[1].ID, StudentFirstName, "Moussa")
	editStudent(t, svc, s2Key, s2.Students[1].ID, StudentD1, "12")
	editStudent(t, svc, s2Key, s2.Students[1].ID, StudentExam, "12")

	view, err := svc.View(s2Key)
	require.NoError(t, err)
	require.NotNil(t, view.Students[0].AnnualAverage)
	assert.Equal(t, 12.0, *view.Students[0].AnnualAverage)
	require.NotNil(t, view.Students[1].AnnualAverage)
	assert.Equal(t, 6.0, *view.Students[1].AnnualAverage)
}

func TestSheetServiceUpdateStudentRejectedValue(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	view, err := svc.View(testKey)
	require.NoError(t, err)

	_, applied, err := svc.UpdateStudent(context.Background(), testKey, view.Students[0].ID, dto.UpdateStudentRequest{Field: "exam", Value: "25"})
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = svc.UpdateStudent(context.Background(), testKey, view.Students[0].ID, dto.UpdateStudentRequest{Field: "age", Value: "12"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, _, err = svc.UpdateStudent(context.Background(), models.SheetKey{Class: "9Z", Subject: "SVT", Semester: 1}, "x", dto.UpdateStudentRequest{Field: "exam", Value: "12"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSheetServiceUpdateMetadataNavigates(t *testing.T) {
	svc, _ := newTestSheetService(t, false)

	view, err := svc.UpdateMetadata(context.Background(), testKey, dto.UpdateMetadataRequest{Field: "semester", Value: "2"})
	require.NoError(t, err)
	assert.Equal(t, "3T1_SVT_S2", view.Key)

	view, err = svc.UpdateMetadata(context.Background(), testKey, dto.UpdateMetadataRequest{Field: "coefficient", Value: "-2"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, view.Metadata.Coefficient)

	_, err = svc.UpdateMetadata(context.Background(), testKey, dto.UpdateMetadataRequest{Field: "semester", Value: "5"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSheetServiceSelectValidates(t *testing.T) {
	svc, _ := newTestSheetService(t, false)

	view, err := svc.Select(context.Background(), dto.SelectSheetRequest{Class: "4T1", Subject: "PC", Semester: 2})
	require.NoError(t, err)
	assert.Equal(t, "4T1_PC_S2", view.Key)
	active, err := svc.ActiveView()
	require.NoError(t, err)
	assert.Equal(t, "4T1_PC_S2", active.Key)

	_, err = svc.Select(context.Background(), dto.SelectSheetRequest{Class: "4T1", Subject: "PC", Semester: 3})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = svc.Select(context.Background(), dto.SelectSheetRequest{Class: "4_T1", Subject: "PC", Semester: 1})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSheetServiceDashboard(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	view, err := svc.View(testKey)
	require.NoError(t, err)
	editStudent(t, svc, testKey, view.Students[0].ID, StudentLastName, "Diop")
	editStudent(t, svc, testKey, view.Students[0].ID, StudentExam, "12")
	editStudent(t, svc, testKey, view.Students[1].ID, StudentExam, "18")

	summaries := svc.Dashboard()
	require.Len(t, summaries, 8)
	assert.Equal(t, "3T1_PC_S1", summaries[0].Key)
	var found models.SheetSummary
	for _, s := range summaries {
		if s.Key == testKey.String() {
			found = s
		}
	}
	assert.Equal(t, 1, found.NamedCount)
	assert.Equal(t, 1, found.ActiveCount)
	assert.Equal(t, 6.0, found.ClassAverage)
}

func TestSheetServiceExportableViewsSkipsEmptySheets(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	assert.Empty(t, svc.ExportableViews())

	s2Key := models.SheetKey{Class: "4T1", Subject: "PC", Semester: 2}
	view, err := svc.View(s2Key)
	require.NoError(t, err)
	editStudent(t, svc, s2Key, view.Students[0].ID, StudentFirstName, "Awa")

	views := svc.ExportableViews()
	require.Len(t, views, 1)
	assert.Equal(t, "4T1_PC_S2", views[0].Key)
	require.NotNil(t, views[0].Students[0].AnnualAverage)
}

func TestSheetServiceAutosave(t *testing.T) {
	svc, repo := newTestSheetService(t, true)
	view, err := svc.View(testKey)
	require.NoError(t, err)

	editStudent(t, svc, testKey, view.Students[0].ID, StudentFirstName, "Awa")

	payload, err := repo.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"first_name":"Awa"`)
}

func TestSheetServiceSortAndReset(t *testing.T) {
	svc, _ := newTestSheetService(t, false)
	view, err := svc.View(testKey)
	require.NoError(t, err)
	editStudent(t, svc, testKey, view.Students[0].ID, StudentFirstName, "A")
	editStudent(t, svc, testKey, view.Students[0].ID, StudentExam, "8")
	editStudent(t, svc, testKey, view.Students[1].ID, StudentFirstName, "B")
	editStudent(t, svc, testKey, view.Students[1].ID, StudentExam, "18")

	sorted, err := svc.Sort(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "B", sorted.Students[0].FirstName)
	assert.Equal(t, "A", sorted.Students[1].FirstName)

	reset, err := svc.Reset(context.Background(), testKey)
	require.NoError(t, err)
	for _, st := range reset.Students {
		assert.False(t, st.Named())
		assert.False(t, st.HasAnyInput)
		assert.Equal(t, 0.0, st.FinalAverage)
		assert.Equal(t, 1, st.Rank)
	}
	assert.Equal(t, 0, reset.Stats.TotalStudents)

	_, err = svc.Sort(context.Background(), models.SheetKey{Class: "X", Subject: "Y", Semester: 1})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
