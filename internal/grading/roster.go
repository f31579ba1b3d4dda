package grading

import (
	"github.com/google/uuid"

	"github.com/noah-isme/gestclasse-api/internal/models"
)

// DefaultRosterSize is the number of slots reserved on a new sheet.
const DefaultRosterSize = 100

// GenerateRoster returns count blank students, each with a fresh identifier.
func GenerateRoster(count int) []models.Student {
	if count < 0 {
		count = 0
	}
	students := make([]models.Student, count)
	for i := range students {
		students[i] = models.Student{ID: uuid.NewString()}
	}
	return students
}
