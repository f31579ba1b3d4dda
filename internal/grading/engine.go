// Package grading derives averages, ranks, mentions and class statistics from
// raw roster data. Every function here is pure.
package grading

import (
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/gestclasse-api/internal/models"
)

// PassMark is the final average from which a student is admitted.
const PassMark = 10.0

// epsilon is the gap between 1 and the next float64.
const epsilon = 2.220446049250313e-16

// Mention labels, lowest first.
const (
	MentionInsuffisant = "Insuffisant"
	MentionPassable    = "Passable"
	MentionAssezBien   = "Assez Bien"
	MentionBien        = "Bien"
	MentionTresBien    = "Très Bien"
	MentionExcellent   = "Excellent"
)

var mentionBands = []struct {
	upper float64
	label string
}{
	{10, MentionInsuffisant},
	{12, MentionPassable},
	{14, MentionAssezBien},
	{16, MentionBien},
	{18, MentionTresBien},
}

// Round2 rounds to the cent, half away from zero, after nudging by one
// machine epsilon so that values such as 1.005 land on the expected side.
func Round2(v float64) float64 {
	return math.Round((v+epsilon)*100) / 100
}

// Mention maps a final average onto its label. Bounds are inclusive below.
func Mention(average float64) string {
	for _, band := range mentionBands {
		if average < band.upper {
			return band.label
		}
	}
	return MentionExcellent
}

// PriorSemester is a read-only snapshot of the semester-1 results a
// semester-2 computation blends with.
type PriorSemester struct {
	students []models.DerivedStudent
}

// NewPriorSemester computes the semester-1 averages from raw students. The
// coefficient does not influence final averages, so none is needed.
func NewPriorSemester(raw []models.Student) *PriorSemester {
	derived := make([]models.DerivedStudent, len(raw))
	for i, student := range raw {
		derived[i] = ComputeStudent(student, 1, nil)
	}
	return &PriorSemester{students: derived}
}

// FinalAverageOf returns the final average of the first semester-1 student
// whose trimmed, case-folded first and last names both match.
func (p *PriorSemester) FinalAverageOf(firstName, lastName string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	first := foldName(firstName)
	last := foldName(lastName)
	for _, candidate := range p.students {
		if foldName(candidate.LastName) == last && foldName(candidate.FirstName) == first {
			return candidate.FinalAverage, true
		}
	}
	return 0, false
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ComputeStudent derives every computed field except the rank. When prior is
// nil no annual average is produced; a student with no semester-1 match is
// blended with a semester-1 average of zero.
func ComputeStudent(raw models.Student, coefficient float64, prior *PriorSemester) models.DerivedStudent {
	var sum float64
	var count int
	for _, score := range raw.ContinuousScores() {
		if score.Set {
			sum += score.Value
			count++
		}
	}
	var continuous float64
	if count > 0 {
		continuous = sum / float64(count)
	}
	continuous = Round2(continuous)

	var exam float64
	if raw.Exam.Set {
		exam = raw.Exam.Value
	}
	hasAnyInput := count > 0 || raw.Exam.Set

	var final float64
	if hasAnyInput {
		final = Round2((continuous + exam) / 2)
	}

	out := models.DerivedStudent{
		Student:           raw,
		ContinuousAverage: continuous,
		FinalAverage:      final,
		WeightedAverage:   Round2(final * coefficient),
		HasAnyInput:       hasAnyInput,
	}
	if hasAnyInput {
		out.Mention = Mention(final)
	}
	if prior != nil {
		priorAverage, _ := prior.FinalAverageOf(raw.FirstName, raw.LastName)
		annual := Round2((priorAverage + final) / 2)
		out.AnnualAverage = &annual
	}
	return out
}

// AssignRanks sets Rank on every student. Equal final averages share a rank
// and the following student takes its 1-based position, leaving gaps.
func AssignRanks(students []models.DerivedStudent) {
	order := make([]int, len(students))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return students[order[a]].FinalAverage > students[order[b]].FinalAverage
	})
	for pos, idx := range order {
		if pos > 0 {
			prev := students[order[pos-1]]
			if students[idx].FinalAverage == prev.FinalAverage {
				students[idx].Rank = prev.Rank
				continue
			}
		}
		students[idx].Rank = pos + 1
	}
}

// Recalculate derives every student of a roster and ranks them. The input
// slice is left untouched and the output keeps its order.
func Recalculate(raw []models.Student, coefficient float64, prior *PriorSemester) []models.DerivedStudent {
	derived := make([]models.DerivedStudent, len(raw))
	for i, student := range raw {
		derived[i] = ComputeStudent(student, coefficient, prior)
	}
	AssignRanks(derived)
	return derived
}

// IsActive reports whether a derived student counts towards class statistics.
func IsActive(s models.DerivedStudent) bool {
	if !s.Named() {
		return false
	}
	return s.FinalAverage > 0 || s.HasAnyInput
}

// ComputeStats aggregates pass/fail and gender counts over active students.
func ComputeStats(students []models.DerivedStudent) models.ClassStats {
	var stats models.ClassStats
	var sum float64
	for _, s := range students {
		if !IsActive(s) {
			continue
		}
		stats.TotalStudents++
		sum += s.FinalAverage
		passed := s.FinalAverage >= PassMark
		if passed {
			stats.PassCount++
		}
		switch s.Gender {
		case models.GenderMale:
			stats.MaleCount++
			if passed {
				stats.MalePassCount++
			}
		case models.GenderFemale:
			stats.FemaleCount++
			if passed {
				stats.FemalePassCount++
			}
		}
	}
	stats.FailCount = stats.TotalStudents - stats.PassCount
	if stats.TotalStudents > 0 {
		stats.ClassAverage = sum / float64(stats.TotalStudents)
	}
	return stats
}
