package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Gender identifies the student's declared sex on the roster.
type Gender string

const (
	// GenderMale marks a boy.
	GenderMale Gender = "M"
	// GenderFemale marks a girl.
	GenderFemale Gender = "F"
	// GenderUnset is the blank-slot default.
	GenderUnset Gender = ""
)

// Score is an optional mark out of 20. The zero value is unset.
type Score struct {
	Value float64
	Set   bool
}

// NewScore returns a set score.
func NewScore(v float64) Score {
	return Score{Value: v, Set: true}
}

// MarshalJSON writes a number, or an empty string when unset.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Set {
		return []byte(`""`), nil
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON accepts a number, a numeric string, "" or null.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Score{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = Score{}
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("score %q: %w", raw, err)
		}
		*s = NewScore(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = NewScore(v)
	return nil
}

// Student holds the editable fields of one roster slot.
type Student struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    Gender `json:"gender"`
	D1        Score  `json:"d1"`
	D2        Score  `json:"d2"`
	D3        Score  `json:"d3"`
	Exam      Score  `json:"exam"`
}

// Named reports whether the slot carries a first or last name.
func (s Student) Named() bool {
	return strings.TrimSpace(s.FirstName) != "" || strings.TrimSpace(s.LastName) != ""
}

// ContinuousScores returns the three in-term marks in column order.
func (s Student) ContinuousScores() [3]Score {
	return [3]Score{s.D1, s.D2, s.D3}
}

// Blank returns a copy of the slot with every editable field cleared.
func (s Student) Blank() Student {
	return Student{ID: s.ID}
}

// DerivedStudent is a roster slot together with its computed fields.
type DerivedStudent struct {
	Student
	ContinuousAverage float64  `json:"continuous_average"`
	FinalAverage      float64  `json:"final_average"`
	WeightedAverage   float64  `json:"weighted_average"`
	AnnualAverage     *float64 `json:"annual_average,omitempty"`
	Rank              int      `json:"rank"`
	Mention           string   `json:"mention"`
	HasAnyInput       bool     `json:"has_any_input"`
}

// SheetMetadata describes the class, subject and semester a sheet belongs to.
type SheetMetadata struct {
	Subject     string  `json:"subject"`
	Class       string  `json:"class"`
	Semester    int     `json:"semester"`
	Teacher     string  `json:"teacher"`
	Coefficient float64 `json:"coefficient"`
}

// Key returns the composite store key of the metadata.
func (m SheetMetadata) Key() SheetKey {
	return SheetKey{Class: m.Class, Subject: m.Subject, Semester: m.Semester}
}

// Sheet is the roster and metadata of one class/subject/semester.
type Sheet struct {
	Metadata SheetMetadata `json:"metadata"`
	Students []Student     `json:"students"`
}

// Clone returns a deep copy safe to hand out to readers.
func (s Sheet) Clone() Sheet {
	students := make([]Student, len(s.Students))
	copy(students, s.Students)
	return Sheet{Metadata: s.Metadata, Students: students}
}

// ClassStats aggregates results over the active students of a sheet.
type ClassStats struct {
	TotalStudents   int     `json:"total_students"`
	PassCount       int     `json:"pass_count"`
	FailCount       int     `json:"fail_count"`
	FemaleCount     int     `json:"female_count"`
	MaleCount       int     `json:"male_count"`
	FemalePassCount int     `json:"female_pass_count"`
	MalePassCount   int     `json:"male_pass_count"`
	ClassAverage    float64 `json:"class_average"`
}
