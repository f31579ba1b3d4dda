package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gestclasse-api/internal/models"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	appErrors "github.com/noah-isme/gestclasse-api/pkg/errors"
)

var testKey = models.SheetKey{Class: "3T1", Subject: "SVT", Semester: 1}

func newTestStore(t *testing.T) *SheetStore {
	t.Helper()
	store := NewSheetStore(100, nil, nil, nil)
	store.Select(testKey)
	return store
}

func TestSheetStoreGetOrCreateSeedsBlankRoster(t *testing.T) {
	store := NewSheetStore(100, nil, nil, nil)
	sheet := store.GetOrCreate(testKey)

	assert.Len(t, sheet.Students, 100)
	assert.Equal(t, 1.0, sheet.Metadata.Coefficient)
	assert.Equal(t, testKey, sheet.Metadata.Key())
	for _, st := range sheet.Students {
		assert.NotEmpty(t, st.ID)
		assert.False(t, st.Named())
	}

	again := store.GetOrCreate(testKey)
	assert.Equal(t, sheet.Students[0].ID, again.Students[0].ID)
}

func TestSheetStoreBootstrapSeedsCatalog(t *testing.T) {
	store := NewSheetStore(5, nil, nil, nil)
	restored := store.Bootstrap(context.Background(), catalog.Catalog{Classes: []string{"3T1", "4T2"}, Subjects: []string{"SVT"}})

	assert.False(t, restored)
	keys := store.Keys()
	require.Len(t, keys, 4)
	assert.Equal(t, "3T1_SVT_S1", keys[0].String())
	assert.Equal(t, "4T2_SVT_S2", keys[3].String())
}

func TestSheetStoreBootstrapRestoresPersistedSheets(t *testing.T) {
	persisted := map[models.SheetKey]models.Sheet{
		testKey: {Metadata: models.SheetMetadata{Class: "3T1", Subject: "SVT", Semester: 1, Coefficient: 2}, Students: []models.Student{{ID: "a", FirstName: "Awa"}}},
	}
	load := func(ctx context.Context) (map[models.SheetKey]models.Sheet, error) { return persisted, nil }
	store := NewSheetStore(100, load, nil, nil)

	assert.True(t, store.Bootstrap(context.Background(), catalog.Default()))
	sheet, ok := store.Get(testKey)
	require.True(t, ok)
	assert.Equal(t, 2.0, sheet.Metadata.Coefficient)
	assert.Len(t, store.Keys(), 1)
}

func TestSheetStoreBootstrapRecoversFromCorruptData(t *testing.T) {
	load := func(ctx context.Context) (map[models.SheetKey]models.Sheet, error) {
		return nil, errors.New("unexpected end of JSON input")
	}
	store := NewSheetStore(3, load, nil, nil)

	assert.False(t, store.Bootstrap(context.Background(), catalog.Catalog{Classes: []string{"3T1"}, Subjects: []string{"PC"}}))
	assert.Len(t, store.Keys(), 2)
}

func TestSheetStoreSaveHandsOffSnapshot(t *testing.T) {
	var saved map[models.SheetKey]models.Sheet
	save := func(ctx context.Context, sheets map[models.SheetKey]models.Sheet) error {
		saved = sheets
		return nil
	}
	store := NewSheetStore(2, nil, save, nil)
	store.GetOrCreate(testKey)

	require.NoError(t, store.Save(context.Background()))
	require.Contains(t, saved, testKey)
	assert.Len(t, saved[testKey].Students, 2)
}

func TestSheetStoreUpdateStudentField(t *testing.T) {
	store := newTestStore(t)
	id := store.GetOrCreate(testKey).Students[0].ID

	assert.True(t, store.UpdateStudentField(testKey, id, StudentFirstName, "Awa"))
	assert.True(t, store.UpdateStudentField(testKey, id, StudentD1, "12,5"))
	assert.True(t, store.UpdateStudentField(testKey, id, StudentGender, "F"))
	assert.False(t, store.UpdateStudentField(testKey, id, StudentD2, "21"))
	assert.False(t, store.UpdateStudentField(testKey, id, StudentGender, "X"))
	assert.False(t, store.UpdateStudentField(testKey, "missing", StudentD1, "10"))
	assert.False(t, store.UpdateStudentField(models.SheetKey{Class: "X", Subject: "Y", Semester: 1}, id, StudentD1, "10"))

	st := store.GetOrCreate(testKey).Students[0]
	assert.Equal(t, "Awa", st.FirstName)
	assert.Equal(t, models.NewScore(12.5), st.D1)
	assert.False(t, st.D2.Set)
	assert.Equal(t, models.GenderFemale, st.Gender)

	assert.True(t, store.UpdateStudentField(testKey, id, StudentD1, ""))
	assert.False(t, store.GetOrCreate(testKey).Students[0].D1.Set)
}

func TestSheetStoreReadersKeepTheirCopy(t *testing.T) {
	store := newTestStore(t)
	before := store.GetOrCreate(testKey)

	require.True(t, store.UpdateStudentField(testKey, before.Students[0].ID, StudentLastName, "Diop"))
	assert.Empty(t, before.Students[0].LastName)
}

func TestSheetStoreUpdateMetadata(t *testing.T) {
	store := newTestStore(t)

	key, err := store.UpdateMetadataField(testKey, MetadataCoefficient, "abc")
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
	sheet, _ := store.Get(testKey)
	assert.Equal(t, 1.0, sheet.Metadata.Coefficient)

	_, err = store.UpdateMetadataField(testKey, MetadataCoefficient, "3")
	require.NoError(t, err)
	_, err = store.UpdateMetadataField(testKey, MetadataTeacher, "M. Ndiaye")
	require.NoError(t, err)
	sheet, _ = store.Get(testKey)
	assert.Equal(t, 3.0, sheet.Metadata.Coefficient)
	assert.Equal(t, "M. Ndiaye", sheet.Metadata.Teacher)

	_, err = store.UpdateMetadataField(testKey, MetadataField("colour"), "red")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSheetStoreSubjectEditKeepsKey(t *testing.T) {
	store := newTestStore(t)

	key, err := store.UpdateMetadataField(testKey, MetadataSubject, "Biologie")
	require.NoError(t, err)
	assert.Equal(t, testKey, key)
	sheet, ok := store.Get(testKey)
	require.True(t, ok)
	assert.Equal(t, "Biologie", sheet.Metadata.Subject)
	_, exists := store.Get(models.SheetKey{Class: "3T1", Subject: "Biologie", Semester: 1})
	assert.False(t, exists)

	key, err = store.UpdateMetadataField(testKey, MetadataSemester, "2")
	require.NoError(t, err)
	assert.Equal(t, models.SheetKey{Class: "3T1", Subject: "SVT", Semester: 2}, key)
}

func TestSheetStoreMetadataNavigation(t *testing.T) {
	store := newTestStore(t)

	key, err := store.UpdateMetadataField(testKey, MetadataSemester, "2")
	require.NoError(t, err)
	assert.Equal(t, testKey.Sibling(2), key)
	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, key, active)

	key, err = store.UpdateMetadataField(key, MetadataClass, "4T1")
	require.NoError(t, err)
	assert.Equal(t, models.SheetKey{Class: "4T1", Subject: "SVT", Semester: 2}, key)
	_, exists := store.Get(key)
	assert.True(t, exists)

	_, err = store.UpdateMetadataField(key, MetadataSemester, "3")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = store.UpdateMetadataField(models.SheetKey{Class: "Z", Subject: "Z", Semester: 1}, MetadataTeacher, "x")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSheetStoreSortByFinalAverage(t *testing.T) {
	store := newTestStore(t)
	roster := store.GetOrCreate(testKey).Students
	for i, exam := range []string{"8", "19", "14"} {
		require.True(t, store.UpdateStudentField(testKey, roster[i].ID, StudentLastName, fmt.Sprintf("Eleve%d", i)))
		require.True(t, store.UpdateStudentField(testKey, roster[i].ID, StudentExam, exam))
	}
	blankOrder := make([]string, 0, 97)
	for _, st := range roster[3:] {
		blankOrder = append(blankOrder, st.ID)
	}

	require.True(t, store.SortByFinalAverage(testKey))
	sorted := store.GetOrCreate(testKey).Students
	require.Len(t, sorted, 100)
	assert.Equal(t, []string{roster[1].ID, roster[2].ID, roster[0].ID}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	for i, st := range sorted[3:] {
		assert.Equal(t, blankOrder[i], st.ID)
	}
}

func TestSheetStoreSortKeepsTiesInOrder(t *testing.T) {
	store := NewSheetStore(3, nil, nil, nil)
	roster := store.GetOrCreate(testKey).Students
	for _, st := range roster {
		require.True(t, store.UpdateStudentField(testKey, st.ID, StudentFirstName, "x"))
		require.True(t, store.UpdateStudentField(testKey, st.ID, StudentExam, "12"))
	}

	require.True(t, store.SortByFinalAverage(testKey))
	sorted := store.GetOrCreate(testKey).Students
	for i := range roster {
		assert.Equal(t, roster[i].ID, sorted[i].ID)
	}
}

func TestSheetStoreResetSheet(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpdateMetadataField(testKey, MetadataTeacher, "Mme Sow")
	require.NoError(t, err)
	roster := store.GetOrCreate(testKey).Students
	require.True(t, store.UpdateStudentField(testKey, roster[4].ID, StudentFirstName, "Awa"))
	require.True(t, store.UpdateStudentField(testKey, roster[4].ID, StudentExam, "15"))

	require.True(t, store.ResetSheet(testKey))
	reset := store.GetOrCreate(testKey)
	require.Len(t, reset.Students, len(roster))
	for i, st := range reset.Students {
		assert.Equal(t, roster[i].ID, st.ID)
		assert.Equal(t, models.Student{ID: roster[i].ID}, st)
	}
	assert.Equal(t, "Mme Sow", reset.Metadata.Teacher)
	assert.False(t, store.ResetSheet(models.SheetKey{Class: "Q", Subject: "Q", Semester: 1}))
}

func TestSheetStorePriorSemester(t *testing.T) {
	store := newTestStore(t)
	assert.Nil(t, store.PriorSemester(testKey))

	s1 := store.GetOrCreate(testKey).Students
	require.True(t, store.UpdateStudentField(testKey, s1[0].ID, StudentFirstName, "Awa"))
	require.True(t, store.UpdateStudentField(testKey, s1[0].ID, StudentLastName, "Diop"))
	require.True(t, store.UpdateStudentField(testKey, s1[0].ID, StudentExam, "14"))

	prior := store.PriorSemester(testKey.Sibling(2))
	require.NotNil(t, prior)
	avg, ok := prior.FinalAverageOf(" awa ", "DIOP")
	require.True(t, ok)
	assert.Equal(t, 7.0, avg)

	empty := store.PriorSemester(models.SheetKey{Class: "4T1", Subject: "PC", Semester: 2})
	require.NotNil(t, empty)
	_, ok = empty.FinalAverageOf("Awa", "Diop")
	assert.False(t, ok)
}

func TestSheetStoreConcurrentEdits(t *testing.T) {
	store := newTestStore(t)
	roster := store.GetOrCreate(testKey).Students
	s2 := testKey.Sibling(2)
	store.GetOrCreate(s2)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.UpdateStudentField(testKey, roster[i].ID, StudentExam, "12")
		}(i)
		go func() {
			defer wg.Done()
			assert.NotNil(t, store.PriorSemester(s2))
		}()
	}
	wg.Wait()

	sheet := store.GetOrCreate(testKey)
	for i := 0; i < 20; i++ {
		assert.Equal(t, models.NewScore(12), sheet.Students[i].Exam)
	}
}
