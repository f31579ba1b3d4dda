package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/gestclasse-api/internal/models"
)

// Score bounds accepted at the input boundary.
const (
	MinScore = 0.0
	MaxScore = 20.0
)

// ParseScore converts user input into a score. An empty value clears the
// score; anything non-numeric or outside [0,20] is rejected with ok=false.
func ParseScore(raw string) (score models.Score, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Score{}, true
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return models.Score{}, false
	}
	if v < MinScore || v > MaxScore {
		return models.Score{}, false
	}
	return models.NewScore(v), true
}

// ParseGender accepts M, F or blank, case-insensitively.
func ParseGender(raw string) (models.Gender, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M":
		return models.GenderMale, true
	case "F":
		return models.GenderFemale, true
	case "":
		return models.GenderUnset, true
	default:
		return models.GenderUnset, false
	}
}

// ParseCoefficient falls back to 1 for non-numeric or non-positive input.
func ParseCoefficient(raw string) float64 {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(raw), ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 1
	}
	return v
}

// ParseSemester accepts 1 or 2.
func ParseSemester(raw string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || (v != 1 && v != 2) {
		return 0, false
	}
	return v, true
}
