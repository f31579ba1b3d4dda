package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SheetKey addresses a sheet by class, subject and semester.
type SheetKey struct {
	Class    string `json:"class"`
	Subject  string `json:"subject"`
	Semester int    `json:"semester"`
}

// String renders the persisted key form "{class}_{subject}_S{semester}".
func (k SheetKey) String() string {
	return fmt.Sprintf("%s_%s_S%d", k.Class, k.Subject, k.Semester)
}

// Sibling returns the key of the same class and subject in another semester.
func (k SheetKey) Sibling(semester int) SheetKey {
	return SheetKey{Class: k.Class, Subject: k.Subject, Semester: semester}
}

// IsZero reports whether the key is unset.
func (k SheetKey) IsZero() bool {
	return k == SheetKey{}
}

// ParseSheetKey parses "{class}_{subject}_S{semester}". Class names may not
// contain underscores; the subject takes whatever sits between the first
// separator and the semester suffix.
func ParseSheetKey(raw string) (SheetKey, error) {
	idx := strings.LastIndex(raw, "_S")
	if idx <= 0 {
		return SheetKey{}, fmt.Errorf("sheet key %q: missing semester suffix", raw)
	}
	semester, err := strconv.Atoi(raw[idx+2:])
	if err != nil {
		return SheetKey{}, fmt.Errorf("sheet key %q: invalid semester", raw)
	}
	head := raw[:idx]
	sep := strings.Index(head, "_")
	if sep <= 0 || sep == len(head)-1 {
		return SheetKey{}, fmt.Errorf("sheet key %q: expected class_subject", raw)
	}
	return SheetKey{Class: head[:sep], Subject: head[sep+1:], Semester: semester}, nil
}
