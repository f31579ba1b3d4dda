package models

// SheetView is a recomputed sheet ready for display or export.
type SheetView struct {
	Key      string           `json:"key"`
	Metadata SheetMetadata    `json:"metadata"`
	Students []DerivedStudent `json:"students"`
	Stats    ClassStats       `json:"stats"`
}

// SheetSummary is one dashboard row.
type SheetSummary struct {
	Key          string        `json:"key"`
	Metadata     SheetMetadata `json:"metadata"`
	NamedCount   int           `json:"named_count"`
	ActiveCount  int           `json:"active_count"`
	ClassAverage float64       `json:"class_average"`
}
