package dto

// SelectSheetRequest navigates to a class/subject/semester sheet.
type SelectSheetRequest struct {
	Class    string `json:"class" validate:"required,excludes=_"`
	Subject  string `json:"subject" validate:"required"`
	Semester int    `json:"semester" validate:"oneof=1 2"`
}

// UpdateMetadataRequest edits one metadata field of a sheet.
type UpdateMetadataRequest struct {
	Field string `json:"field" validate:"required,oneof=class subject semester teacher coefficient"`
	Value string `json:"value"`
}

// UpdateStudentRequest edits one raw field of a roster slot.
type UpdateStudentRequest struct {
	Field string `json:"field" validate:"required,oneof=first_name last_name gender d1 d2 d3 exam"`
	Value string `json:"value"`
}

